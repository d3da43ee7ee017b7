package workshop

import (
	"strconv"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Efficiency compares estimated against actual duration. Valid is false when
// the ratio is not meaningful ("N/A").
type Efficiency struct {
	Percent int
	Valid   bool
}

// CalculateEfficiency returns round(100 * estimated / actual), halves away
// from zero. Zero or missing inputs and non-positive actual durations give
// N/A.
func CalculateEfficiency(estimatedMinutes, actualMinutes decimal.Decimal) Efficiency {
	if estimatedMinutes.IsZero() || !actualMinutes.IsPositive() {
		return Efficiency{}
	}
	pct := estimatedMinutes.Mul(hundred).Div(actualMinutes).Round(0)
	return Efficiency{Percent: int(pct.IntPart()), Valid: true}
}

func (e Efficiency) String() string {
	if !e.Valid {
		return "N/A"
	}
	return strconv.Itoa(e.Percent) + "%"
}

// JobEfficiency evaluates a job against its recorded actual time, falling back
// to the measured elapsed minutes when no adjustment has set one.
func JobEfficiency(job Job, elapsed Elapsed, hasElapsed bool) Efficiency {
	estimated := decimal.NewFromInt(int64(job.EstimatedMinutes))
	if job.ActualMinutes != nil {
		return CalculateEfficiency(estimated, *job.ActualMinutes)
	}
	if !hasElapsed {
		return Efficiency{}
	}
	return CalculateEfficiency(estimated, decimal.NewFromInt(int64(elapsed.Minutes)))
}
