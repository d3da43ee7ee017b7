package workshop_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-engine/workshop"
	"github.com/warp/workshop-engine/workshop/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func at(hour, minute int) time.Time {
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func tempPtr(t float64) *float64 { return &t }

func testSettings(t *testing.T) workshop.Settings {
	t.Helper()
	s, err := workshop.NewSettings(workshop.SettingsInput{
		OverheadCostPerHour: dec("5"),
		CatalystRules:       workshop.DefaultCatalystRules(),
		LiveRefresh:         10 * time.Millisecond,
		TransactionRetries:  3,
	})
	require.NoError(t, err)
	return s
}

// seededStore has a catalyst-hungry resin, the catalyst itself, a sheet of
// plywood and one employee.
func seededStore(t *testing.T) *store.TxMemory {
	t.Helper()
	ctx := context.Background()
	s := store.NewTxMemory()
	items := []workshop.InventoryItem{
		{ID: "resin", Name: "Polyester Resin", Category: "resins", Unit: "kg", Price: dec("10"), CurrentStock: dec("100"), StockTakeMethod: workshop.StockTakeQuantity, RequiresCatalyst: true},
		{ID: "mekp", Name: "MEKP Catalyst", Category: "resins", Unit: "kg", Price: dec("50"), CurrentStock: dec("5"), StockTakeMethod: workshop.StockTakeQuantity},
		{ID: "ply", Name: "Plywood 18mm", Category: "sheet", Unit: "sheet", Price: dec("40"), CurrentStock: dec("12"), StockTakeMethod: workshop.StockTakeQuantity},
		{ID: "screws", Name: "Screws 4x40", Category: "fixings", Unit: "pcs", Price: dec("0.05"), CurrentStock: dec("1000"), StockTakeMethod: workshop.StockTakeWeight, TareWeight: dec("50"), UnitWeight: dec("2.5")},
	}
	for _, it := range items {
		require.NoError(t, s.SaveItem(ctx, it))
	}
	require.NoError(t, s.SaveEmployee(ctx, workshop.Employee{ID: "emp-1", Name: "Sam", HourlyRate: dec("20")}))
	return s
}

func newJobService(t *testing.T, s workshop.TxStore, clock *fakeClock) *workshop.JobService {
	svc := workshop.NewJobService(s, testSettings(t), discardLogger())
	svc.Now = clock.Now
	return svc
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []workshop.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev workshop.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Types() []workshop.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]workshop.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}
