/*
Package workshop provides the job lifecycle and cost/time accounting engine.

PURPOSE:
  A manufacturing job moves through a fixed set of statuses while the engine
  accumulates active working time, resolves the job's recipe consumables into
  concrete material lines, derives labor and material cost, and keeps the
  inventory in step with what the job actually used. Physical stock-takes are
  reconciled against system stock through the same transactional store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Job: the tracked unit of work, with timer timestamps and a frozen recipe
  - InventoryItem: a stocked material with price and stock-take method
  - ConsumableDefinition: Fixed | Dimensional recipe entries (closed union)
  - StockMovement: one line of the stock transaction log

DESIGN PRINCIPLES:
  1. Precision: quantities, weights and money use decimal.Decimal
  2. Type Safety: JobID / ItemID / EmployeeID are distinct string types
  3. Auditability: adjustments and stock changes always leave a log entry
  4. Explicit configuration: catalyst rules and overhead live in Settings,
     passed into each component instead of read from globals

SEE ALSO:
  - status.go: status enum and transition table
  - elapsed.go: active time accounting
  - consumables.go: recipe resolution and the catalyst rule
  - cost.go: material / labor / total cost
  - jobs.go: JobService, the state machine entry point
  - stocktake.go: stock-take counting and reconciliation
  - adjustment.go: after-the-fact job adjustments
*/
package workshop

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type JobID string
type ItemID string
type EmployeeID string

// Category groups inventory items (resins, sheet stock, fixings, ...).
type Category string

// =============================================================================
// JOB
// =============================================================================

// Job is a manufacturing job. It is created in StatusPending from a product
// recipe and only changes through JobService transitions, edits and
// AdjustmentService adjustments.
type Job struct {
	ID               JobID
	JobCode          string // external job number shown on the shop floor
	Status           Status
	EstimatedMinutes int
	EmployeeID       EmployeeID

	// Timer
	StartedAt     *time.Time
	PausedAt      *time.Time
	CompletedAt   *time.Time
	TotalPausedMs int64

	// Recipe snapshot copied at creation
	Consumables        Consumables
	AmbientTemperature *float64

	IssueReason *string

	// Set once at approval, authoritative afterwards
	Costs                  *Costs
	ConsumablesUsedInitial map[ItemID]decimal.Decimal

	// Adjustment history
	ActualMinutes         *decimal.Decimal
	ConsumablesUsedActual map[ItemID]decimal.Decimal
	AdjustmentAuditLog    []AdjustmentAuditEntry
	AdjustmentReason      string
	LastAdjustedAt        *time.Time

	// Version is bumped by the store on every save and used to detect
	// concurrent writers. Zero means the job has never been persisted.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFinalized reports whether costs have been persisted for the job.
func (j Job) IsFinalized() bool { return j.Costs != nil }

// =============================================================================
// INVENTORY
// =============================================================================

type StockTakeMethod string

const (
	StockTakeQuantity StockTakeMethod = "quantity"
	StockTakeWeight   StockTakeMethod = "weight"
)

type InventoryItem struct {
	ID               ItemID
	Name             string
	Category         Category
	Unit             string
	Price            decimal.Decimal // cost per unit
	CurrentStock     decimal.Decimal
	StockTakeMethod  StockTakeMethod
	TareWeight       decimal.Decimal
	UnitWeight       decimal.Decimal
	RequiresCatalyst bool
}

type Employee struct {
	ID         EmployeeID
	Name       string
	HourlyRate decimal.Decimal
}

// =============================================================================
// STOCK MOVEMENTS - stock transaction log
// =============================================================================

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// StockMovement records one change to an item's stock level.
type StockMovement struct {
	ID             string
	ItemID         ItemID
	ItemName       string
	Direction      Direction
	Quantity       decimal.Decimal // always >= 0
	Reason         string
	AdjustedBy     string
	ResultingStock decimal.Decimal
	SessionID      string // stock-take session, empty for job adjustments
	JobID          JobID  // empty for stock-takes
	CreatedAt      time.Time
}

// =============================================================================
// CONSUMABLE DEFINITIONS - Fixed | Dimensional
// =============================================================================

// ConsumableDefinition is one entry of a job's recipe. The set of
// implementations is closed: Fixed and Dimensional.
type ConsumableDefinition interface {
	Item() ItemID
	consumableKind() string
}

// Fixed consumes an exact quantity of an item.
type Fixed struct {
	ItemID   ItemID
	Quantity decimal.Decimal
}

// Dimensional attaches cutting instructions to sheet or bar stock. Cuts are
// stored verbatim and never resolved into a quantity.
type Dimensional struct {
	ItemID ItemID
	Cuts   []Cut
}

type Cut struct {
	Dimensions string `json:"dimensions"`
	Notes      string `json:"notes,omitempty"`
}

func (f Fixed) Item() ItemID       { return f.ItemID }
func (d Dimensional) Item() ItemID { return d.ItemID }

func (Fixed) consumableKind() string       { return kindFixed }
func (Dimensional) consumableKind() string { return kindDimensional }

const (
	kindFixed       = "fixed"
	kindDimensional = "dimensional"
)

// Consumables is a recipe: an ordered list of definitions.
type Consumables []ConsumableDefinition

// consumableJSON is the wire form, tagged by kind.
type consumableJSON struct {
	Kind     string           `json:"kind"`
	ItemID   ItemID           `json:"itemId"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Cuts     []Cut            `json:"cuts,omitempty"`
}

func (c Consumables) MarshalJSON() ([]byte, error) {
	out := make([]consumableJSON, 0, len(c))
	for _, def := range c {
		switch d := def.(type) {
		case Fixed:
			q := d.Quantity
			out = append(out, consumableJSON{Kind: kindFixed, ItemID: d.ItemID, Quantity: &q})
		case Dimensional:
			out = append(out, consumableJSON{Kind: kindDimensional, ItemID: d.ItemID, Cuts: d.Cuts})
		default:
			return nil, fmt.Errorf("unknown consumable definition %T", def)
		}
	}
	return json.Marshal(out)
}

func (c *Consumables) UnmarshalJSON(data []byte) error {
	var raw []consumableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	defs := make(Consumables, 0, len(raw))
	for i, r := range raw {
		switch r.Kind {
		case kindFixed:
			if r.Quantity == nil {
				return fmt.Errorf("consumable %d: fixed entry requires quantity", i)
			}
			defs = append(defs, Fixed{ItemID: r.ItemID, Quantity: *r.Quantity})
		case kindDimensional:
			defs = append(defs, Dimensional{ItemID: r.ItemID, Cuts: r.Cuts})
		default:
			return fmt.Errorf("consumable %d: unknown kind %q", i, r.Kind)
		}
	}
	*c = defs
	return nil
}

// Validate checks the recipe entries are usable.
func (c Consumables) Validate() error {
	for i, def := range c {
		if def.Item() == "" {
			return &ValidationError{Field: fmt.Sprintf("consumables[%d].itemId", i), Message: "is required"}
		}
		if f, ok := def.(Fixed); ok && !f.Quantity.IsPositive() {
			return &ValidationError{Field: fmt.Sprintf("consumables[%d].quantity", i), Message: "must be positive"}
		}
	}
	return nil
}

// =============================================================================
// ADJUSTMENT AUDIT
// =============================================================================

// AdjustmentAuditEntry is one element of a job's append-only adjustment history.
type AdjustmentAuditEntry struct {
	ID                    string                     `json:"id"`
	AdjustedBy            string                     `json:"adjustedBy"`
	AdjustedAt            time.Time                  `json:"adjustedAt"`
	TimeAdjustment        decimal.Decimal            `json:"timeAdjustment"`
	ConsumableAdjustments map[ItemID]decimal.Decimal `json:"consumableAdjustments,omitempty"`
	Reason                string                     `json:"reason"`
}

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

type EventType string

const (
	EventJobCreated     EventType = "job.created"
	EventJobUpdated     EventType = "job.updated"
	EventJobDeleted     EventType = "job.deleted"
	EventJobTransition  EventType = "job.transitioned"
	EventJobAdjusted    EventType = "job.adjusted"
	EventStockReconcile EventType = "stock.reconciled"
)

// DomainEvent is emitted after a mutation has been committed.
type DomainEvent struct {
	Type      EventType         `json:"type"`
	JobID     JobID             `json:"jobId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Status    Status            `json:"status,omitempty"`
	At        time.Time         `json:"at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}
