/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workshop domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DECIMALS:
  Quantities and stock levels are sent as decimal strings ("98.5"); money
  is rendered with two places ("47.00"). Request bodies accept either JSON
  numbers or decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
  - workshop/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
)

// =============================================================================
// JOBS
// =============================================================================

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	JobCode            string               `json:"jobCode"`
	EstimatedTime      int                  `json:"estimatedTime"` // minutes
	EmployeeID         string               `json:"employeeId"`
	Consumables        workshop.Consumables `json:"consumables"`
	AmbientTemperature *float64             `json:"ambientTemperature,omitempty"`
}

// UpdateJobRequest is the body of PUT /api/jobs/{id}. Omitted fields are left
// unchanged.
type UpdateJobRequest struct {
	JobCode            *string              `json:"jobCode,omitempty"`
	EstimatedTime      *int                 `json:"estimatedTime,omitempty"`
	EmployeeID         *string              `json:"employeeId,omitempty"`
	Consumables        workshop.Consumables `json:"consumables,omitempty"`
	AmbientTemperature *float64             `json:"ambientTemperature,omitempty"`
}

// TransitionRequest is the optional body of POST /api/jobs/{id}/events/{event}.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

// JobDTO represents a job in API responses.
type JobDTO struct {
	ID                     string                          `json:"id"`
	JobCode                string                          `json:"jobCode"`
	Status                 string                          `json:"status"`
	EstimatedTime          int                             `json:"estimatedTime"`
	EmployeeID             string                          `json:"employeeId"`
	StartedAt              *time.Time                      `json:"startedAt,omitempty"`
	PausedAt               *time.Time                      `json:"pausedAt,omitempty"`
	CompletedAt            *time.Time                      `json:"completedAt,omitempty"`
	TotalPausedMs          int64                           `json:"totalPausedMs"`
	Consumables            workshop.Consumables            `json:"consumables"`
	AmbientTemperature     *float64                        `json:"ambientTemperature,omitempty"`
	IssueReason            *string                         `json:"issueReason,omitempty"`
	Costs                  *CostsDTO                       `json:"costs,omitempty"`
	ConsumablesUsedInitial map[string]decimal.Decimal      `json:"consumablesUsedInitial,omitempty"`
	ConsumablesUsedActual  map[string]decimal.Decimal      `json:"consumablesUsedActual,omitempty"`
	ActualTime             *decimal.Decimal                `json:"actualTime,omitempty"`
	Efficiency             string                          `json:"efficiency"`
	AdjustmentAuditLog     []workshop.AdjustmentAuditEntry `json:"adjustmentAuditLog,omitempty"`
	AdjustmentReason       string                          `json:"adjustmentReason,omitempty"`
	LastAdjustedAt         *time.Time                      `json:"lastAdjustedAt,omitempty"`
	Version                int64                           `json:"version"`
	CreatedAt              time.Time                       `json:"createdAt"`
	UpdatedAt              time.Time                       `json:"updatedAt"`
}

// CostsDTO is a cost breakdown with two-place money strings.
type CostsDTO struct {
	Material string   `json:"material"`
	Labor    string   `json:"labor"`
	Total    string   `json:"total"`
	Unpriced []string `json:"unpriced,omitempty"`
}

// ElapsedDTO is a measured active duration.
type ElapsedDTO struct {
	Minutes int    `json:"minutes"`
	Text    string `json:"text"`
}

// LiveDTO is the response of GET /api/jobs/{id}/live and each event of the
// live stream.
type LiveDTO struct {
	JobID      string      `json:"jobId"`
	Status     string      `json:"status"`
	At         time.Time   `json:"at"`
	Elapsed    *ElapsedDTO `json:"elapsed,omitempty"`
	Efficiency string      `json:"efficiency"`
	Costs      *CostsDTO   `json:"costs,omitempty"`
	Finalized  bool        `json:"finalized"`
}

// ResolvedConsumablesResponse lists the concrete consumption lines of a job.
type ResolvedConsumablesResponse struct {
	JobID string                  `json:"jobId"`
	Lines []workshop.ResolvedLine `json:"lines"`
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// AdjustmentRequest is the body of POST /api/adjustments.
type AdjustmentRequest struct {
	JobID                 string                     `json:"jobId"`
	TimeAdjustment        decimal.Decimal            `json:"timeAdjustment"`
	ConsumableAdjustments map[string]decimal.Decimal `json:"consumableAdjustments,omitempty"`
	AdjustmentReason      string                     `json:"adjustmentReason"`
	UserID                string                     `json:"userId"`
}

// AdjustedItemDTO is the outcome of one consumable adjustment.
type AdjustedItemDTO struct {
	ItemID         string           `json:"itemId"`
	Outcome        string           `json:"outcome"`
	QuantityChange decimal.Decimal  `json:"quantityChange"`
	ResultingStock *decimal.Decimal `json:"resultingStock,omitempty"`
}

// AdjustmentResponse is returned on a successful adjustment.
type AdjustmentResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	ActualTime decimal.Decimal   `json:"actualTime"`
	Items      []AdjustedItemDTO `json:"items"`
}

// =============================================================================
// STOCK-TAKE
// =============================================================================

// StockTakeItemRequest is one line of a stock-take submission. SystemCount,
// Name and Category are echoed by the client for display and are not trusted;
// the stored item is authoritative.
type StockTakeItemRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Category    string           `json:"category,omitempty"`
	SystemCount OptionalDecimal `json:"systemCount,omitempty"`
	NewCount    OptionalDecimal `json:"newCount,omitempty"`
	GrossWeight OptionalDecimal `json:"grossWeight,omitempty"`
}

// OptionalDecimal is a numeric form field. It accepts a JSON number or a
// decimal string; "" and null mean nothing was entered. Text that is not a
// number is kept so it can be reported against its own line.
type OptionalDecimal struct {
	value   *decimal.Decimal
	invalid string
}

func (o *OptionalDecimal) UnmarshalJSON(b []byte) error {
	*o = OptionalDecimal{}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		o.invalid = raw
		return nil
	}
	o.value = &d
	return nil
}

// Decimal returns the entered value, nil when the field was left blank, or a
// validation error naming field when the input was not a number.
func (o OptionalDecimal) Decimal(field string) (*decimal.Decimal, error) {
	if o.invalid != "" {
		return nil, &workshop.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", o.invalid)}
	}
	return o.value, nil
}

// StockCountDTO is an evaluated stock-take line.
type StockCountDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	SystemCount   decimal.Decimal `json:"systemCount"`
	PhysicalCount decimal.Decimal `json:"physicalCount"`
	Variance      decimal.Decimal `json:"variance"`
}

// ItemFailureDTO reports an item that was not reconciled.
type ItemFailureDTO struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StockTakeResponse is returned by both the preview and the commit endpoint.
// SessionID is empty for previews.
type StockTakeResponse struct {
	SessionID string           `json:"sessionId,omitempty"`
	Counts    []StockCountDTO  `json:"counts"`
	Skipped   []string         `json:"skipped"`
	Failures  []ItemFailureDTO `json:"failures"`
}

// =============================================================================
// INVENTORY / EMPLOYEES
// =============================================================================

// InventoryItemDTO represents an inventory item in requests and responses.
type InventoryItemDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Unit             string          `json:"unit"`
	Price            decimal.Decimal `json:"price"`
	CurrentStock     decimal.Decimal `json:"currentStock"`
	StockTakeMethod  string          `json:"stockTakeMethod"`
	TareWeight       decimal.Decimal `json:"tareWeight"`
	UnitWeight       decimal.Decimal `json:"unitWeight"`
	RequiresCatalyst bool            `json:"requiresCatalyst"`
}

// StockMovementDTO represents a stock transaction log entry.
type StockMovementDTO struct {
	ID             string          `json:"id"`
	ItemID         string          `json:"itemId"`
	ItemName       string          `json:"itemName"`
	Direction      string          `json:"direction"`
	Quantity       decimal.Decimal `json:"quantity"`
	Reason         string          `json:"reason"`
	AdjustedBy     string          `json:"adjustedBy"`
	ResultingStock decimal.Decimal `json:"resultingStock"`
	SessionID      string          `json:"sessionId,omitempty"`
	JobID          string          `json:"jobId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// EmployeeDTO represents an employee in requests and responses.
type EmployeeDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	HourlyRate decimal.Decimal `json:"hourlyRate"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// toJobDTO renders j as seen at now; now only matters for the efficiency of
// a running job.
func toJobDTO(j workshop.Job, now time.Time) JobDTO {
	dto := JobDTO{
		ID:                     string(j.ID),
		JobCode:                j.JobCode,
		Status:                 string(j.Status),
		EstimatedTime:          j.EstimatedMinutes,
		EmployeeID:             string(j.EmployeeID),
		StartedAt:              j.StartedAt,
		PausedAt:               j.PausedAt,
		CompletedAt:            j.CompletedAt,
		TotalPausedMs:          j.TotalPausedMs,
		Consumables:            j.Consumables,
		AmbientTemperature:     j.AmbientTemperature,
		IssueReason:            j.IssueReason,
		ConsumablesUsedInitial: quantitiesDTO(j.ConsumablesUsedInitial),
		ConsumablesUsedActual:  quantitiesDTO(j.ConsumablesUsedActual),
		ActualTime:             j.ActualMinutes,
		AdjustmentAuditLog:     j.AdjustmentAuditLog,
		AdjustmentReason:       j.AdjustmentReason,
		LastAdjustedAt:         j.LastAdjustedAt,
		Version:                j.Version,
		CreatedAt:              j.CreatedAt,
		UpdatedAt:              j.UpdatedAt,
	}
	if dto.Consumables == nil {
		dto.Consumables = workshop.Consumables{}
	}
	if j.Costs != nil {
		c := toCostsDTO(*j.Costs)
		dto.Costs = &c
	}
	elapsed, ok := workshop.ElapsedTime(j, now)
	dto.Efficiency = workshop.JobEfficiency(j, elapsed, ok).String()
	return dto
}

func toCostsDTO(c workshop.Costs) CostsDTO {
	dto := CostsDTO{
		Material: c.Material.StringFixed(2),
		Labor:    c.Labor.StringFixed(2),
		Total:    c.Total.StringFixed(2),
	}
	for _, id := range c.Unpriced {
		dto.Unpriced = append(dto.Unpriced, string(id))
	}
	return dto
}

func toLiveDTO(s workshop.LiveSnapshot) LiveDTO {
	dto := LiveDTO{
		JobID:      string(s.JobID),
		Status:     string(s.Status),
		At:         s.At,
		Efficiency: s.Efficiency.String(),
		Finalized:  s.Finalized,
	}
	if s.HasElapsed {
		dto.Elapsed = &ElapsedDTO{Minutes: s.Elapsed.Minutes, Text: s.Elapsed.Text}
	}
	if s.HasCosts {
		c := toCostsDTO(s.Costs)
		dto.Costs = &c
	}
	return dto
}

func toAdjustmentResponse(r *workshop.AdjustmentResult) AdjustmentResponse {
	resp := AdjustmentResponse{
		Success:    true,
		Message:    r.Message,
		ActualTime: r.ActualMinutes,
		Items:      make([]AdjustedItemDTO, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		dto := AdjustedItemDTO{
			ItemID:         string(it.ItemID),
			Outcome:        string(it.Outcome),
			QuantityChange: it.QuantityChange,
		}
		if it.Outcome == workshop.OutcomeAdjusted {
			stock := it.ResultingStock
			dto.ResultingStock = &stock
		}
		resp.Items = append(resp.Items, dto)
	}
	return resp
}

func toCountDTOs(counts []workshop.Count) []StockCountDTO {
	out := make([]StockCountDTO, 0, len(counts))
	for _, c := range counts {
		out = append(out, StockCountDTO{
			ID:            string(c.ItemID),
			Name:          c.Name,
			Category:      string(c.Category),
			SystemCount:   c.SystemCount,
			PhysicalCount: c.PhysicalCount,
			Variance:      c.Variance,
		})
	}
	return out
}

func toStockTakeResponse(sessionID string, counts []workshop.Count, skipped []workshop.ItemID, failures []workshop.ItemFailure) StockTakeResponse {
	resp := StockTakeResponse{
		SessionID: sessionID,
		Counts:    toCountDTOs(counts),
		Skipped:   make([]string, 0, len(skipped)),
		Failures:  make([]ItemFailureDTO, 0, len(failures)),
	}
	for _, id := range skipped {
		resp.Skipped = append(resp.Skipped, string(id))
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, ItemFailureDTO{
			ID:      string(f.ItemID),
			Kind:    string(workshop.KindOf(f.Err)),
			Message: f.Err.Error(),
		})
	}
	return resp
}

func toItemDTO(it workshop.InventoryItem) InventoryItemDTO {
	return InventoryItemDTO{
		ID:               string(it.ID),
		Name:             it.Name,
		Category:         string(it.Category),
		Unit:             it.Unit,
		Price:            it.Price,
		CurrentStock:     it.CurrentStock,
		StockTakeMethod:  string(it.StockTakeMethod),
		TareWeight:       it.TareWeight,
		UnitWeight:       it.UnitWeight,
		RequiresCatalyst: it.RequiresCatalyst,
	}
}

func toMovementDTO(m workshop.StockMovement) StockMovementDTO {
	return StockMovementDTO{
		ID:             m.ID,
		ItemID:         string(m.ItemID),
		ItemName:       m.ItemName,
		Direction:      string(m.Direction),
		Quantity:       m.Quantity,
		Reason:         m.Reason,
		AdjustedBy:     m.AdjustedBy,
		ResultingStock: m.ResultingStock,
		SessionID:      m.SessionID,
		JobID:          string(m.JobID),
		CreatedAt:      m.CreatedAt,
	}
}

func quantitiesDTO(m map[workshop.ItemID]decimal.Decimal) map[string]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(m))
	for id, q := range m {
		out[string(id)] = q
	}
	return out
}
