package workshop

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CatalystRule is one temperature band. The first rule (in order) whose
// TemperatureMax is >= the ambient temperature applies.
type CatalystRule struct {
	TemperatureMax float64
	Percentage     decimal.Decimal
}

// SettingsInput holds the raw values used to build Settings.
type SettingsInput struct {
	OverheadCostPerHour decimal.Decimal
	CatalystItemID      ItemID
	CatalystRules       []CatalystRule
	LiveRefresh         time.Duration
	TransactionRetries  int
}

// Settings is the engine's constant tables, built once at startup and passed
// to each component. The zero value is not useful; use NewSettings.
type Settings struct {
	overhead       decimal.Decimal
	catalystItemID ItemID
	catalystRules  []CatalystRule
	liveRefresh    time.Duration
	txRetries      int
}

// DefaultCatalystRules are the bands used by the workshop floor: 3% up to
// 18°, 2% up to 28°, 1% above.
func DefaultCatalystRules() []CatalystRule {
	return []CatalystRule{
		{TemperatureMax: 18, Percentage: decimal.NewFromInt(3)},
		{TemperatureMax: 28, Percentage: decimal.NewFromInt(2)},
		{TemperatureMax: 100, Percentage: decimal.NewFromInt(1)},
	}
}

// NewSettings validates in and returns an immutable Settings value.
func NewSettings(in SettingsInput) (Settings, error) {
	if in.OverheadCostPerHour.IsNegative() {
		return Settings{}, &ValidationError{Field: "overhead_cost_per_hour", Message: "must not be negative"}
	}
	for i, r := range in.CatalystRules {
		if r.Percentage.IsNegative() {
			return Settings{}, &ValidationError{Field: fmt.Sprintf("catalyst_rules[%d].percentage", i), Message: "must not be negative"}
		}
	}
	if in.LiveRefresh <= 0 {
		in.LiveRefresh = time.Second
	}
	if in.TransactionRetries <= 0 {
		in.TransactionRetries = 3
	}

	rules := make([]CatalystRule, len(in.CatalystRules))
	copy(rules, in.CatalystRules)

	return Settings{
		overhead:       in.OverheadCostPerHour,
		catalystItemID: in.CatalystItemID,
		catalystRules:  rules,
		liveRefresh:    in.LiveRefresh,
		txRetries:      in.TransactionRetries,
	}, nil
}

// DefaultSettings uses the default catalyst bands and no overhead.
func DefaultSettings() Settings {
	s, _ := NewSettings(SettingsInput{CatalystRules: DefaultCatalystRules()})
	return s
}

func (s Settings) OverheadCostPerHour() decimal.Decimal { return s.overhead }
func (s Settings) CatalystItemID() ItemID               { return s.catalystItemID }
func (s Settings) LiveRefresh() time.Duration           { return s.liveRefresh }

func (s Settings) TransactionRetries() int {
	if s.txRetries <= 0 {
		return 1
	}
	return s.txRetries
}

// CatalystRules returns a copy of the configured bands.
func (s Settings) CatalystRules() []CatalystRule {
	out := make([]CatalystRule, len(s.catalystRules))
	copy(out, s.catalystRules)
	return out
}

// CatalystRuleFor returns the first band covering temperature.
func (s Settings) CatalystRuleFor(temperature float64) (CatalystRule, bool) {
	for _, r := range s.catalystRules {
		if r.TemperatureMax >= temperature {
			return r, true
		}
	}
	return CatalystRule{}, false
}
