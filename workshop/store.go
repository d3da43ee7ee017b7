/*
store.go - Persistence interface for jobs, inventory and the stock log

PURPOSE:
  Defines the boundary between the engine and the record store. The engine
  only needs: read a record, write a record, and run a group of reads and
  writes as one atomic transaction.

KEY INTERFACES:
  Store:   record access (jobs, inventory items, stock movements, employees)
  TxStore: Store plus WithTx for atomic multi-record updates

CONCURRENCY:
  Jobs carry a Version. SaveJob must fail with ErrConcurrentModification when
  the stored version differs from job.Version, and stores report their own
  lock/serialization failures the same way. Services retry such failures
  transparently (see runInTx).

ITEM LOOKUP:
  Items are addressed by id alone. Stores keep an id -> category index so a
  lookup never has to probe categories one by one.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (and PostgreSQL) via sqlx
  - workshop/store/memory.go: In-memory for testing
*/
package workshop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// GetJob returns a *NotFoundError when the job does not exist.
	GetJob(ctx context.Context, id JobID) (*Job, error)

	// ListJobs returns jobs with the given status, or all jobs when status is empty.
	ListJobs(ctx context.Context, status Status) ([]Job, error)

	// SaveJob inserts (Version == 0) or updates the job, bumping its version.
	SaveJob(ctx context.Context, job Job) error

	DeleteJob(ctx context.Context, id JobID) error

	// GetItem returns a *NotFoundError when the item does not exist.
	GetItem(ctx context.Context, id ItemID) (*InventoryItem, error)

	// ListItems returns items in category, or all items when category is empty.
	ListItems(ctx context.Context, category Category) ([]InventoryItem, error)

	SaveItem(ctx context.Context, item InventoryItem) error

	// AppendMovement adds an entry to the stock transaction log. Append-only.
	AppendMovement(ctx context.Context, m StockMovement) error

	ListMovements(ctx context.Context, itemID ItemID) ([]StockMovement, error)

	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// EventPublisher receives domain events after commit. Publishing failures are
// logged by the services and never undo a committed transaction.
type EventPublisher interface {
	Publish(ctx context.Context, ev DomainEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, DomainEvent) error { return nil }

// NopPublisher discards events.
var NopPublisher EventPublisher = nopPublisher{}

// =============================================================================
// HELPERS
// =============================================================================

// runInTx runs fn in a store transaction, retrying transparently when the
// store reports a concurrent modification. fn must not keep state across
// attempts.
func runInTx(ctx context.Context, store TxStore, attempts int, logger *slog.Logger, fn func(Store) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		logger.Warn("Transaction conflict, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}

// loadCatalog reads every inventory item into a Catalog.
func loadCatalog(ctx context.Context, s Store, settings Settings) (*Catalog, error) {
	items, err := s.ListItems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return NewCatalog(items, settings.CatalystItemID()), nil
}

func hourlyRate(ctx context.Context, s Store, id EmployeeID) (decimal.Decimal, error) {
	emp, err := s.GetEmployee(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return emp.HourlyRate, nil
}

func publish(ctx context.Context, p EventPublisher, logger *slog.Logger, ev DomainEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Error("Failed to publish domain event",
			slog.String("type", string(ev.Type)),
			slog.String("job_id", string(ev.JobID)),
			slog.Any("error", err),
		)
	}
}
