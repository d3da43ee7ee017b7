/*
stocktake.go - Physical stock counts and reconciliation

COUNTING:
  quantity items: the submitted quantity is the physical count
  weight items:   round((gross - tare) / unitWeight), clamped at zero;
                  unitWeight must be positive
  An item is counted only when a value was submitted for it.

RECONCILIATION:
  Plan computes counts and variances (physical - system) for every submitted
  item, collecting per-item failures (unknown item, bad unit weight,
  unreadable input) without stopping. Commit writes every successfully
  counted item as the new system stock in ONE transaction, tagged with a
  session id, and logs a stock movement per item. Items that failed are
  reported back and left untouched, as are items that were not counted.
*/
package workshop

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CountSubmission is the raw stock-take input for one item. Quantity is a
// direct count; GrossWeight is a scale reading for weight-tracked items.
// Invalid carries an input error found while reading the line; the item is
// reported as failed and the rest of the submission goes ahead.
type CountSubmission struct {
	ItemID      ItemID
	Quantity    *decimal.Decimal
	GrossWeight *decimal.Decimal
	Invalid     error
}

// Count is the evaluated stock-take line for one item.
type Count struct {
	ItemID        ItemID
	Name          string
	Category      Category
	SystemCount   decimal.Decimal
	PhysicalCount decimal.Decimal
	Variance      decimal.Decimal
	Counted       bool
}

// CountItem turns a submission into a physical count for item.
//
// Weight-tracked items use GrossWeight when it is present; a bare Quantity is
// taken as an already converted count.
func CountItem(item InventoryItem, sub CountSubmission) (Count, error) {
	c := Count{ItemID: item.ID, Name: item.Name, Category: item.Category, SystemCount: item.CurrentStock}

	switch {
	case item.StockTakeMethod == StockTakeWeight && sub.GrossWeight != nil:
		physical, err := WeightToCount(item, *sub.GrossWeight)
		if err != nil {
			return c, err
		}
		c.PhysicalCount = physical
	case sub.Quantity != nil:
		if sub.Quantity.IsNegative() {
			return c, &ValidationError{Field: "newCount", Message: "must not be negative"}
		}
		c.PhysicalCount = *sub.Quantity
	default:
		return c, nil
	}

	c.Counted = true
	c.Variance = c.PhysicalCount.Sub(c.SystemCount)
	return c, nil
}

// WeightToCount converts a gross scale reading into a unit count.
func WeightToCount(item InventoryItem, gross decimal.Decimal) (decimal.Decimal, error) {
	if !item.UnitWeight.IsPositive() {
		return decimal.Zero, &ArithmeticError{ItemID: item.ID, Message: "unit weight must be positive for weight stock-take"}
	}
	count := gross.Sub(item.TareWeight).Div(item.UnitWeight).Round(0)
	if count.IsNegative() {
		return decimal.Zero, nil
	}
	return count, nil
}

// =============================================================================
// RECONCILER
// =============================================================================

type ItemFailure struct {
	ItemID ItemID
	Err    error
}

type ReconcilePlan struct {
	Counts   []Count // counted items only, in submission order
	Skipped  []ItemID
	Failures []ItemFailure
}

type ReconcileResult struct {
	SessionID string
	Committed []Count
	Skipped   []ItemID
	Failures  []ItemFailure
}

type StockReconciler struct {
	Store    TxStore
	Settings Settings
	Events   EventPublisher
	Logger   *slog.Logger
	Now      Clock
}

func NewStockReconciler(store TxStore, settings Settings, logger *slog.Logger) *StockReconciler {
	return &StockReconciler{Store: store, Settings: settings, Events: NopPublisher, Logger: logger, Now: nowFunc}
}

// Plan evaluates submissions against the given store without writing.
func (r *StockReconciler) Plan(ctx context.Context, subs []CountSubmission) (ReconcilePlan, error) {
	return planCounts(ctx, r.Store, subs)
}

func planCounts(ctx context.Context, s Store, subs []CountSubmission) (ReconcilePlan, error) {
	var plan ReconcilePlan
	seen := make(map[ItemID]bool, len(subs))
	for _, sub := range subs {
		if sub.ItemID == "" {
			plan.Failures = append(plan.Failures, ItemFailure{Err: &ValidationError{Field: "id", Message: "is required"}})
			continue
		}
		if seen[sub.ItemID] {
			plan.Failures = append(plan.Failures, ItemFailure{ItemID: sub.ItemID, Err: &ValidationError{Field: "id", Message: "submitted more than once"}})
			continue
		}
		seen[sub.ItemID] = true

		if sub.Invalid != nil {
			plan.Failures = append(plan.Failures, ItemFailure{ItemID: sub.ItemID, Err: sub.Invalid})
			continue
		}

		item, err := s.GetItem(ctx, sub.ItemID)
		if err != nil {
			if IsNotFound(err) {
				plan.Failures = append(plan.Failures, ItemFailure{ItemID: sub.ItemID, Err: err})
				continue
			}
			return ReconcilePlan{}, err
		}

		c, err := CountItem(*item, sub)
		if err != nil {
			plan.Failures = append(plan.Failures, ItemFailure{ItemID: sub.ItemID, Err: err})
			continue
		}
		if !c.Counted {
			plan.Skipped = append(plan.Skipped, sub.ItemID)
			continue
		}
		plan.Counts = append(plan.Counts, c)
	}
	return plan, nil
}

// Commit reconciles the counted items in one transaction. userID is recorded
// on every stock movement.
func (r *StockReconciler) Commit(ctx context.Context, subs []CountSubmission, userID string) (ReconcileResult, error) {
	sessionID := uuid.NewString()
	now := r.Now()

	var result ReconcileResult
	err := runInTx(ctx, r.Store, r.Settings.TransactionRetries(), r.Logger, func(tx Store) error {
		plan, err := planCounts(ctx, tx, subs)
		if err != nil {
			return err
		}

		for _, c := range plan.Counts {
			item, err := tx.GetItem(ctx, c.ItemID)
			if err != nil {
				return err
			}
			item.CurrentStock = c.PhysicalCount
			if err := tx.SaveItem(ctx, *item); err != nil {
				return err
			}

			direction := DirectionIn
			if c.Variance.IsNegative() {
				direction = DirectionOut
			}
			if err := tx.AppendMovement(ctx, StockMovement{
				ID:             uuid.NewString(),
				ItemID:         c.ItemID,
				ItemName:       c.Name,
				Direction:      direction,
				Quantity:       c.Variance.Abs(),
				Reason:         "Stock take",
				AdjustedBy:     userID,
				ResultingStock: c.PhysicalCount,
				SessionID:      sessionID,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		result = ReconcileResult{
			SessionID: sessionID,
			Committed: plan.Counts,
			Skipped:   plan.Skipped,
			Failures:  plan.Failures,
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	for _, f := range result.Failures {
		r.Logger.Warn("Stock-take item not reconciled",
			slog.String("session_id", sessionID),
			slog.String("item_id", string(f.ItemID)),
			slog.Any("error", f.Err),
		)
	}
	r.Logger.Info("Stock-take committed",
		slog.String("session_id", sessionID),
		slog.Int("committed", len(result.Committed)),
		slog.Int("failed", len(result.Failures)),
	)
	if len(result.Committed) > 0 {
		publish(ctx, r.Events, r.Logger, DomainEvent{Type: EventStockReconcile, SessionID: sessionID, At: now})
	}
	return result, nil
}
