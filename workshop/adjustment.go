/*
adjustment.go - After-the-fact revision of a job's time and consumables

FLOW (one store transaction):
  1. Validate input before touching the store (reason is mandatory)
  2. Load the job (not found -> NotFoundError)
  3. ActualMinutes = (ActualMinutes ?? EstimatedMinutes) + time adjustment,
     and append an audit entry to the job's history
  4. For every non-zero consumable delta, move the item's stock:
     positive delta = more used = stock out, negative = stock returned
     Each item reports Adjusted or ItemNotFound; a missing item never aborts
     the rest of the adjustment but is returned to the caller
  5. ConsumablesUsedActual = ConsumablesUsedInitial + all deltas to date

A conflicting concurrent write retries the whole transaction.
*/
package workshop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AdjustmentRequest struct {
	JobID                 JobID
	TimeAdjustmentMinutes decimal.Decimal
	ConsumableAdjustments map[ItemID]decimal.Decimal
	Reason                string
	UserID                string
}

// Validate checks the request before any read or write.
func (r AdjustmentRequest) Validate() error {
	if strings.TrimSpace(string(r.JobID)) == "" {
		return &ValidationError{Field: "jobId", Message: "is required"}
	}
	if strings.TrimSpace(r.Reason) == "" {
		return &ValidationError{Field: "adjustmentReason", Message: "is required"}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "userId", Message: "is required"}
	}
	for id := range r.ConsumableAdjustments {
		if id == "" {
			return &ValidationError{Field: "consumableAdjustments", Message: "item id must not be empty"}
		}
	}
	return nil
}

type ItemOutcome string

const (
	OutcomeAdjusted     ItemOutcome = "adjusted"
	OutcomeItemNotFound ItemOutcome = "item_not_found"
)

type ItemAdjustment struct {
	ItemID         ItemID
	Outcome        ItemOutcome
	QuantityChange decimal.Decimal
	ResultingStock decimal.Decimal // zero when not found
}

type AdjustmentResult struct {
	JobID         JobID
	ActualMinutes decimal.Decimal
	Items         []ItemAdjustment
	Message       string
}

// NotFoundItems lists the items that could not be adjusted.
func (r AdjustmentResult) NotFoundItems() []ItemID {
	var out []ItemID
	for _, it := range r.Items {
		if it.Outcome == OutcomeItemNotFound {
			out = append(out, it.ItemID)
		}
	}
	return out
}

type AdjustmentService struct {
	Store    TxStore
	Settings Settings
	Events   EventPublisher
	Logger   *slog.Logger
	Now      Clock
}

func NewAdjustmentService(store TxStore, settings Settings, logger *slog.Logger) *AdjustmentService {
	return &AdjustmentService{Store: store, Settings: settings, Events: NopPublisher, Logger: logger, Now: nowFunc}
}

// Adjust applies req atomically.
func (s *AdjustmentService) Adjust(ctx context.Context, req AdjustmentRequest) (*AdjustmentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)

	// Deterministic write order.
	itemIDs := make([]ItemID, 0, len(req.ConsumableAdjustments))
	for id := range req.ConsumableAdjustments {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	var result AdjustmentResult
	err := runInTx(ctx, s.Store, s.Settings.TransactionRetries(), s.Logger, func(tx Store) error {
		now := s.Now()

		job, err := tx.GetJob(ctx, req.JobID)
		if err != nil {
			return err
		}

		base := decimal.NewFromInt(int64(job.EstimatedMinutes))
		if job.ActualMinutes != nil {
			base = *job.ActualMinutes
		}
		actual := base.Add(req.TimeAdjustmentMinutes)
		job.ActualMinutes = &actual

		job.AdjustmentAuditLog = append(job.AdjustmentAuditLog, AdjustmentAuditEntry{
			ID:                    uuid.NewString(),
			AdjustedBy:            req.UserID,
			AdjustedAt:            now,
			TimeAdjustment:        req.TimeAdjustmentMinutes,
			ConsumableAdjustments: copyQuantities(req.ConsumableAdjustments),
			Reason:                reason,
		})
		job.AdjustmentReason = reason
		job.LastAdjustedAt = &now
		job.UpdatedAt = now

		items := make([]ItemAdjustment, 0, len(itemIDs))
		for _, itemID := range itemIDs {
			change := req.ConsumableAdjustments[itemID]
			if change.IsZero() {
				continue
			}
			adj, err := s.adjustStock(ctx, tx, job, itemID, change, req.UserID, now)
			if err != nil {
				return err
			}
			items = append(items, adj)
		}

		job.ConsumablesUsedActual = actualUsage(job.ConsumablesUsedInitial, job.AdjustmentAuditLog)

		if err := tx.SaveJob(ctx, *job); err != nil {
			return err
		}

		result = AdjustmentResult{
			JobID:         job.ID,
			ActualMinutes: actual,
			Items:         items,
			Message:       fmt.Sprintf("Job %s adjusted successfully", job.JobCode),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Job adjusted",
		slog.String("job_id", string(req.JobID)),
		slog.String("adjusted_by", req.UserID),
		slog.String("time_adjustment", req.TimeAdjustmentMinutes.String()),
		slog.Int("items", len(result.Items)),
	)
	publish(ctx, s.Events, s.Logger, DomainEvent{Type: EventJobAdjusted, JobID: req.JobID, At: s.Now()})
	return &result, nil
}

func (s *AdjustmentService) adjustStock(ctx context.Context, tx Store, job *Job, itemID ItemID, change decimal.Decimal, userID string, now time.Time) (ItemAdjustment, error) {
	item, err := tx.GetItem(ctx, itemID)
	if err != nil {
		if !IsNotFound(err) {
			return ItemAdjustment{}, err
		}
		s.Logger.Warn("Inventory item not found during job adjustment",
			slog.String("job_id", string(job.ID)),
			slog.String("item_id", string(itemID)),
		)
		return ItemAdjustment{ItemID: itemID, Outcome: OutcomeItemNotFound, QuantityChange: change}, nil
	}

	item.CurrentStock = item.CurrentStock.Sub(change)
	if err := tx.SaveItem(ctx, *item); err != nil {
		return ItemAdjustment{}, err
	}

	direction := DirectionOut
	if change.IsNegative() {
		direction = DirectionIn
	}
	if err := tx.AppendMovement(ctx, StockMovement{
		ID:             uuid.NewString(),
		ItemID:         item.ID,
		ItemName:       item.Name,
		Direction:      direction,
		Quantity:       change.Abs(),
		Reason:         "Job Adjustment – " + job.JobCode,
		AdjustedBy:     userID,
		ResultingStock: item.CurrentStock,
		JobID:          job.ID,
		CreatedAt:      now,
	}); err != nil {
		return ItemAdjustment{}, err
	}

	return ItemAdjustment{
		ItemID:         item.ID,
		Outcome:        OutcomeAdjusted,
		QuantityChange: change,
		ResultingStock: item.CurrentStock,
	}, nil
}

// actualUsage sums the initial consumption and every adjustment to date.
func actualUsage(initial map[ItemID]decimal.Decimal, log []AdjustmentAuditEntry) map[ItemID]decimal.Decimal {
	used := copyQuantities(initial)
	if used == nil {
		used = make(map[ItemID]decimal.Decimal)
	}
	for _, entry := range log {
		for id, delta := range entry.ConsumableAdjustments {
			used[id] = used[id].Add(delta)
		}
	}
	return used
}

func copyQuantities(m map[ItemID]decimal.Decimal) map[ItemID]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[ItemID]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nowFunc() time.Time { return time.Now() }
