/*
handlers.go - HTTP API handlers for the workshop engine

PURPOSE:
  Exposes job lifecycle, cost accounting, adjustments and stock-takes via a
  REST API. Handles HTTP request/response, JSON serialization, and delegates
  to the workshop services.

ENDPOINTS:
  Jobs:
    GET    /api/jobs                       List jobs (?status=)
    POST   /api/jobs                       Create job
    GET    /api/jobs/{id}                  Get job
    PUT    /api/jobs/{id}                  Edit job (pending/paused/issue/complete)
    DELETE /api/jobs/{id}                  Delete job (same gate as edit)
    POST   /api/jobs/{id}/events/{event}   Apply start/pause/resume/submit/approve/reject/archive
    GET    /api/jobs/{id}/live             Elapsed time, efficiency and live cost
    GET    /api/jobs/{id}/live/stream      Same, as server-sent events
    GET    /api/jobs/{id}/consumables      Resolved consumables (?temperature=)

  Adjustments:
    POST   /api/adjustments                Revise time and consumables of a job

  Stock-take:
    POST   /api/stocktake/preview          Variances without writing
    POST   /api/stocktake                  Commit counted items in one transaction

  Inventory / employees:
    GET    /api/inventory                  List items (?category=)
    GET    /api/inventory/{id}             Get item
    PUT    /api/inventory/{id}             Create or update item
    GET    /api/inventory/{id}/movements   Stock transaction log
    GET    /api/employees/{id}             Get employee
    PUT    /api/employees/{id}             Create or update employee

ERROR HANDLING:
  Errors are returned as {"error": {"kind": ..., "message": ...}}:
  - 400 invalid-argument:     validation and arithmetic errors, bad JSON
  - 401 unauthenticated:      missing X-User-ID
  - 404 not-found:            job, item or employee absent
  - 409 failed-precondition:  illegal transition, locked job
  - 500 internal:             store failures, exhausted conflict retries

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       workshop.TxStore
	Jobs        *workshop.JobService
	Stock       *workshop.StockReconciler
	Adjustments *workshop.AdjustmentService
	Logger      *slog.Logger
}

// NewHandler creates a handler with services sharing store and settings.
func NewHandler(store workshop.TxStore, settings workshop.Settings, logger *slog.Logger) *Handler {
	return &Handler{
		Store:       store,
		Jobs:        workshop.NewJobService(store, settings, logger),
		Stock:       workshop.NewStockReconciler(store, settings, logger),
		Adjustments: workshop.NewAdjustmentService(store, settings, logger),
		Logger:      logger,
	}
}

// SetPublisher routes domain events of every service to p.
func (h *Handler) SetPublisher(p workshop.EventPublisher) {
	h.Jobs.Events = p
	h.Stock.Events = p
	h.Adjustments.Events = p
}

// SetClock replaces the time source of every service.
func (h *Handler) SetClock(now workshop.Clock) {
	h.Jobs.Now = now
	h.Stock.Now = now
	h.Adjustments.Now = now
}

// Health reports liveness, and store reachability when the store can be
// pinged.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Logger.Error("Health check failed", slog.Any("error", err))
			writeError(w, workshop.KindInternal, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// ListJobs returns all jobs, optionally filtered by status.
// GET /api/jobs?status=in_progress
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var status workshop.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := workshop.ParseStatus(raw)
		if !ok {
			h.fail(w, r, &workshop.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", raw)})
			return
		}
		status = s
	}

	jobs, err := h.Jobs.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.Jobs.Now()
	dtos := make([]JobDTO, 0, len(jobs))
	for _, j := range jobs {
		dtos = append(dtos, toJobDTO(j, now))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateJob creates a pending job.
// POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	job, err := h.Jobs.Create(r.Context(), workshop.NewJob{
		JobCode:            req.JobCode,
		EstimatedMinutes:   req.EstimatedTime,
		EmployeeID:         workshop.EmployeeID(req.EmployeeID),
		Consumables:        req.Consumables,
		AmbientTemperature: req.AmbientTemperature,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDTO(*job, h.Jobs.Now()))
}

// GetJob returns a single job.
// GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(*job, h.Jobs.Now()))
}

// UpdateJob edits planning and recipe fields of an unlocked job.
// PUT /api/jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	edit := workshop.JobEdit{
		JobCode:            req.JobCode,
		EstimatedMinutes:   req.EstimatedTime,
		Consumables:        req.Consumables,
		AmbientTemperature: req.AmbientTemperature,
	}
	if req.EmployeeID != nil {
		emp := workshop.EmployeeID(*req.EmployeeID)
		edit.EmployeeID = &emp
	}

	job, err := h.Jobs.Edit(r.Context(), jobID(r), edit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(*job, h.Jobs.Now()))
}

// DeleteJob removes an unlocked job.
// DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.Delete(r.Context(), jobID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransitionJob applies a lifecycle event. Approving finalizes costs.
// POST /api/jobs/{id}/events/{event}
func (h *Handler) TransitionJob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "event")
	ev, ok := workshop.ParseEvent(raw)
	if !ok {
		h.fail(w, r, &workshop.ValidationError{Field: "event", Message: fmt.Sprintf("unknown event %q", raw)})
		return
	}

	// The body is optional; only reject carries a reason.
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, &workshop.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	job, err := h.Jobs.Apply(r.Context(), jobID(r), ev, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(*job, h.Jobs.Now()))
}

// GetLive returns the job's elapsed time, efficiency and cost right now.
// GET /api/jobs/{id}/live
func (h *Handler) GetLive(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Jobs.Snapshot(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiveDTO(snap))
}

// StreamLive pushes a snapshot every refresh interval as server-sent events
// until the client disconnects.
// GET /api/jobs/{id}/live/stream
func (h *Handler) StreamLive(w http.ResponseWriter, r *http.Request) {
	updates, err := h.Jobs.Watch(r.Context(), jobID(r), 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for snap := range updates {
		data, err := json.Marshal(toLiveDTO(snap))
		if err != nil {
			h.Logger.Error("Failed to encode live snapshot", slog.Any("error", err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// GetConsumables resolves the job's recipe, including catalyst lines.
// GET /api/jobs/{id}/consumables?temperature=18
func (h *Handler) GetConsumables(w http.ResponseWriter, r *http.Request) {
	var temperature *float64
	if raw := r.URL.Query().Get("temperature"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.fail(w, r, &workshop.ValidationError{Field: "temperature", Message: "must be a number"})
			return
		}
		temperature = &t
	}

	id := jobID(r)
	lines, err := h.Jobs.ResolvedConsumables(r.Context(), id, temperature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if lines == nil {
		lines = []workshop.ResolvedLine{}
	}
	writeJSON(w, http.StatusOK, ResolvedConsumablesResponse{JobID: string(id), Lines: lines})
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// CreateAdjustment revises a job's actual time and consumables and moves
// stock accordingly. The caller from X-User-ID is recorded as the adjuster;
// a userId in the body must match it.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	caller := callerFrom(r.Context())
	if req.UserID != "" && req.UserID != caller {
		h.fail(w, r, &workshop.ValidationError{Field: "userId", Message: "does not match the authenticated user"})
		return
	}

	deltas := make(map[workshop.ItemID]decimal.Decimal, len(req.ConsumableAdjustments))
	for id, q := range req.ConsumableAdjustments {
		deltas[workshop.ItemID(id)] = q
	}

	result, err := h.Adjustments.Adjust(r.Context(), workshop.AdjustmentRequest{
		JobID:                 workshop.JobID(req.JobID),
		TimeAdjustmentMinutes: req.TimeAdjustment,
		ConsumableAdjustments: deltas,
		Reason:                req.AdjustmentReason,
		UserID:                caller,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentResponse(result))
}

// =============================================================================
// STOCK-TAKE
// =============================================================================

// PreviewStockTake evaluates counts and variances without writing.
// POST /api/stocktake/preview
func (h *Handler) PreviewStockTake(w http.ResponseWriter, r *http.Request) {
	subs, err := decodeStockTake(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	plan, err := h.Stock.Plan(r.Context(), subs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockTakeResponse("", plan.Counts, plan.Skipped, plan.Failures))
}

// CommitStockTake writes every counted item as the new system stock in one
// transaction. Items that fail are reported and left untouched.
// POST /api/stocktake
func (h *Handler) CommitStockTake(w http.ResponseWriter, r *http.Request) {
	subs, err := decodeStockTake(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.Stock.Commit(r.Context(), subs, callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockTakeResponse(result.SessionID, result.Committed, result.Skipped, result.Failures))
}

func decodeStockTake(r *http.Request) ([]workshop.CountSubmission, error) {
	var items []StockTakeItemRequest
	if err := decodeJSON(r, &items); err != nil {
		return nil, err
	}
	subs := make([]workshop.CountSubmission, 0, len(items))
	for _, it := range items {
		qty, qtyErr := it.NewCount.Decimal("newCount")
		gross, grossErr := it.GrossWeight.Decimal("grossWeight")
		subs = append(subs, workshop.CountSubmission{
			ItemID:      workshop.ItemID(strings.TrimSpace(it.ID)),
			Quantity:    qty,
			GrossWeight: gross,
			Invalid:     errors.Join(qtyErr, grossErr),
		})
	}
	return subs, nil
}

// =============================================================================
// INVENTORY
// =============================================================================

// ListInventory returns items, optionally limited to one category.
// GET /api/inventory?category=resins
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context(), workshop.Category(r.URL.Query().Get("category")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]InventoryItemDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, toItemDTO(it))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInventoryItem returns one item.
// GET /api/inventory/{id}
func (h *Handler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Store.GetItem(r.Context(), itemID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// PutInventoryItem creates or updates an item's catalog fields. Stock is only
// taken from the body when the item is new; later changes go through
// stock-takes and adjustments so they land in the movement log.
// PUT /api/inventory/{id}
func (h *Handler) PutInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req InventoryItemDTO
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := itemID(r)
	if err := validateItem(req); err != nil {
		h.fail(w, r, err)
		return
	}

	method := workshop.StockTakeMethod(req.StockTakeMethod)
	if method == "" {
		method = workshop.StockTakeQuantity
	}
	item := workshop.InventoryItem{
		ID:               id,
		Name:             strings.TrimSpace(req.Name),
		Category:         workshop.Category(strings.TrimSpace(req.Category)),
		Unit:             req.Unit,
		Price:            req.Price,
		CurrentStock:     req.CurrentStock,
		StockTakeMethod:  method,
		TareWeight:       req.TareWeight,
		UnitWeight:       req.UnitWeight,
		RequiresCatalyst: req.RequiresCatalyst,
	}

	status := http.StatusOK
	err := h.Store.WithTx(r.Context(), func(tx workshop.Store) error {
		existing, err := tx.GetItem(r.Context(), id)
		switch {
		case err == nil:
			item.CurrentStock = existing.CurrentStock
		case workshop.IsNotFound(err):
			status = http.StatusCreated
		default:
			return err
		}
		return tx.SaveItem(r.Context(), item)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, toItemDTO(item))
}

func validateItem(req InventoryItemDTO) error {
	if strings.TrimSpace(req.Name) == "" {
		return &workshop.ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(req.Category) == "" {
		return &workshop.ValidationError{Field: "category", Message: "is required"}
	}
	if req.Price.IsNegative() {
		return &workshop.ValidationError{Field: "price", Message: "must not be negative"}
	}
	if req.CurrentStock.IsNegative() {
		return &workshop.ValidationError{Field: "currentStock", Message: "must not be negative"}
	}
	switch workshop.StockTakeMethod(req.StockTakeMethod) {
	case "", workshop.StockTakeQuantity:
	case workshop.StockTakeWeight:
		if !req.UnitWeight.IsPositive() {
			return &workshop.ValidationError{Field: "unitWeight", Message: "must be positive for weight stock-take"}
		}
	default:
		return &workshop.ValidationError{Field: "stockTakeMethod", Message: fmt.Sprintf("unknown method %q", req.StockTakeMethod)}
	}
	return nil
}

// ListMovements returns the stock transaction log of an item, oldest first.
// GET /api/inventory/{id}/movements
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id := itemID(r)
	if _, err := h.Store.GetItem(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.Store.ListMovements(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]StockMovementDTO, 0, len(movements))
	for _, m := range movements {
		dtos = append(dtos, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// GetEmployee returns one employee.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), workshop.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EmployeeDTO{ID: string(emp.ID), Name: emp.Name, HourlyRate: emp.HourlyRate})
}

// PutEmployee creates or updates an employee and their hourly rate. Costs of
// already finalized jobs are not touched.
// PUT /api/employees/{id}
func (h *Handler) PutEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.HourlyRate.IsNegative() {
		h.fail(w, r, &workshop.ValidationError{Field: "hourlyRate", Message: "must not be negative"})
		return
	}

	emp := workshop.Employee{
		ID:         workshop.EmployeeID(chi.URLParam(r, "id")),
		Name:       strings.TrimSpace(req.Name),
		HourlyRate: req.HourlyRate,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EmployeeDTO{ID: string(emp.ID), Name: emp.Name, HourlyRate: emp.HourlyRate})
}

// =============================================================================
// HELPERS
// =============================================================================

func jobID(r *http.Request) workshop.JobID {
	return workshop.JobID(chi.URLParam(r, "id"))
}

func itemID(r *http.Request) workshop.ItemID {
	return workshop.ItemID(chi.URLParam(r, "id"))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &workshop.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// fail classifies err and writes the error response. Internal errors are
// logged and their details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := workshop.KindOf(err)
	if kind == workshop.KindInternal {
		msg := "internal error"
		if errors.Is(err, workshop.ErrConcurrentModification) {
			msg = "the record was changed concurrently, please retry"
		}
		h.Logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, kind, msg)
		return
	}
	if workshop.IsClientError(err) {
		h.Logger.Debug("Request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
	writeError(w, kind, err.Error())
}

func statusFor(kind workshop.ErrorKind) int {
	switch kind {
	case workshop.KindUnauthenticated:
		return http.StatusUnauthorized
	case workshop.KindInvalidArgument:
		return http.StatusBadRequest
	case workshop.KindNotFound:
		return http.StatusNotFound
	case workshop.KindFailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, kind workshop.ErrorKind, message string) {
	writeJSON(w, statusFor(kind), ErrorResponse{Error: ErrorBody{Kind: string(kind), Message: message}})
}
