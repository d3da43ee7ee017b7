package workshop

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - read-only view of inventory used for resolution and pricing
// =============================================================================

// Catalog indexes inventory items by id and knows which item is the
// catalyst / hardener.
type Catalog struct {
	items      map[ItemID]InventoryItem
	catalystID ItemID
}

// NewCatalog builds a catalog. When catalystID is empty the catalyst is the
// lowest-id item whose name mentions "catalyst" or "hardener".
func NewCatalog(items []InventoryItem, catalystID ItemID) *Catalog {
	c := &Catalog{items: make(map[ItemID]InventoryItem, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
	}

	if catalystID != "" {
		if _, ok := c.items[catalystID]; ok {
			c.catalystID = catalystID
		}
		return c
	}

	ids := make([]ItemID, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		name := strings.ToLower(c.items[id].Name)
		if strings.Contains(name, "catalyst") || strings.Contains(name, "hardener") {
			c.catalystID = id
			break
		}
	}
	return c
}

func (c *Catalog) Item(id ItemID) (InventoryItem, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Catalyst returns the catalyst item, if the catalog has one.
func (c *Catalog) Catalyst() (InventoryItem, bool) {
	if c.catalystID == "" {
		return InventoryItem{}, false
	}
	return c.Item(c.catalystID)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolvedLine is one concrete consumption line. Dimensional lines carry their
// cuts and a zero quantity.
type ResolvedLine struct {
	ItemID      ItemID          `json:"itemId"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cuts        []Cut           `json:"cuts,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Dimensional bool            `json:"dimensional,omitempty"`
	AutoAdded   bool            `json:"autoAdded,omitempty"`
}

// ResolveConsumables expands a recipe into consumption lines, in input order.
//
// For each Fixed entry whose item requires catalyst, and when the catalog has
// a catalyst item and a temperature is supplied, the first matching catalyst
// band adds a line of quantity × percentage/100 right after the base line.
// Bands with a zero percentage add nothing.
func ResolveConsumables(defs Consumables, catalog *Catalog, settings Settings, temperature *float64) []ResolvedLine {
	lines := make([]ResolvedLine, 0, len(defs))

	catalyst, hasCatalyst := catalog.Catalyst()

	for _, def := range defs {
		switch d := def.(type) {
		case Fixed:
			lines = append(lines, ResolvedLine{ItemID: d.ItemID, Quantity: d.Quantity})

			item, ok := catalog.Item(d.ItemID)
			if !ok || !item.RequiresCatalyst || !hasCatalyst || temperature == nil {
				continue
			}
			rule, ok := settings.CatalystRuleFor(*temperature)
			if !ok || !rule.Percentage.IsPositive() {
				continue
			}
			lines = append(lines, ResolvedLine{
				ItemID:    catalyst.ID,
				Quantity:  d.Quantity.Mul(rule.Percentage).Div(decimal.NewFromInt(100)),
				Notes:     fmt.Sprintf("auto-added at %s%% for %s°", rule.Percentage.String(), formatTemperature(*temperature)),
				AutoAdded: true,
			})

		case Dimensional:
			cuts := make([]Cut, len(d.Cuts))
			copy(cuts, d.Cuts)
			lines = append(lines, ResolvedLine{
				ItemID:      d.ItemID,
				Quantity:    decimal.Zero,
				Cuts:        cuts,
				Notes:       fmt.Sprintf("see %d cutting instructions", len(d.Cuts)),
				Dimensional: true,
			})
		}
	}
	return lines
}

// TotalsByItem sums the quantities of the resolved lines per item. Dimensional
// lines contribute nothing.
func TotalsByItem(lines []ResolvedLine) map[ItemID]decimal.Decimal {
	totals := make(map[ItemID]decimal.Decimal)
	for _, l := range lines {
		if l.Dimensional {
			continue
		}
		totals[l.ItemID] = totals[l.ItemID].Add(l.Quantity)
	}
	return totals
}

func formatTemperature(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
