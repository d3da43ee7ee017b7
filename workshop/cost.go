package workshop

import (
	"time"

	"github.com/shopspring/decimal"
)

// Costs is the cost breakdown of a job. Amounts are rounded to cents.
type Costs struct {
	Material decimal.Decimal
	Labor    decimal.Decimal
	Total    decimal.Decimal

	// Unpriced lists resolved items that were missing from the catalog and
	// therefore contributed nothing to Material.
	Unpriced []ItemID
}

var msPerHour = decimal.NewFromInt(int64(time.Hour / time.Millisecond))

// CostEngine derives material, labor and total cost.
//
// Finalize is used once, at approval; its result is persisted on the job and
// never recomputed. Live computes the same figures on demand for jobs that
// are still running or paused and is never persisted.
type CostEngine struct {
	Settings Settings
}

// BurdenedRate is the employee's hourly rate plus overhead per hour.
func (ce CostEngine) BurdenedRate(hourlyRate decimal.Decimal) decimal.Decimal {
	return hourlyRate.Add(ce.Settings.OverheadCostPerHour())
}

// Compute applies the cost formulas to resolved lines and an active duration.
func (ce CostEngine) Compute(lines []ResolvedLine, catalog *Catalog, active time.Duration, hourlyRate decimal.Decimal) Costs {
	var c Costs
	material := decimal.Zero
	for _, l := range lines {
		if l.Dimensional {
			continue
		}
		item, ok := catalog.Item(l.ItemID)
		if !ok {
			c.Unpriced = append(c.Unpriced, l.ItemID)
			continue
		}
		material = material.Add(l.Quantity.Mul(item.Price))
	}

	hours := decimal.NewFromInt(active.Milliseconds()).Div(msPerHour)
	labor := hours.Mul(ce.BurdenedRate(hourlyRate))

	c.Material = material.Round(2)
	c.Labor = labor.Round(2)
	c.Total = c.Material.Add(c.Labor)
	return c
}

// Finalize computes the authoritative costs of a job that has just been
// approved (CompletedAt set). It also returns the per-item consumption
// totals recorded as the job's initial consumable usage.
func (ce CostEngine) Finalize(job Job, catalog *Catalog, hourlyRate decimal.Decimal) (Costs, map[ItemID]decimal.Decimal) {
	lines := ResolveConsumables(job.Consumables, catalog, ce.Settings, job.AmbientTemperature)

	var active time.Duration
	if job.CompletedAt != nil {
		if e, ok := ElapsedTime(job, *job.CompletedAt); ok {
			active = e.Duration
		}
	}
	return ce.Compute(lines, catalog, active, hourlyRate), TotalsByItem(lines)
}

// Live computes display-only costs at now. Finalized jobs return their
// persisted costs. ok is false when no elapsed time is available.
func (ce CostEngine) Live(job Job, catalog *Catalog, hourlyRate decimal.Decimal, now time.Time) (Costs, bool) {
	if job.Costs != nil {
		return *job.Costs, true
	}
	elapsed, ok := ElapsedTime(job, now)
	if !ok {
		return Costs{}, false
	}
	lines := ResolveConsumables(job.Consumables, catalog, ce.Settings, job.AmbientTemperature)
	return ce.Compute(lines, catalog, elapsed.Duration, hourlyRate), true
}
