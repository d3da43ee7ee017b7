package workshop_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-engine/workshop"
)

func testCatalog() *workshop.Catalog {
	return workshop.NewCatalog([]workshop.InventoryItem{
		{ID: "resin", Name: "Polyester Resin", Price: dec("10"), RequiresCatalyst: true},
		{ID: "mekp", Name: "MEKP Catalyst", Price: dec("50")},
		{ID: "ply", Name: "Plywood 18mm", Price: dec("40")},
		{ID: "gelcoat", Name: "Gelcoat", Price: dec("12")},
	}, "")
}

func resinRecipe() workshop.Consumables {
	return workshop.Consumables{
		workshop.Fixed{ItemID: "resin", Quantity: dec("2")},
		workshop.Dimensional{ItemID: "ply", Cuts: []workshop.Cut{
			{Dimensions: "600x400", Notes: "base"},
			{Dimensions: "600x200"},
		}},
		workshop.Fixed{ItemID: "gelcoat", Quantity: dec("0.5")},
	}
}

func TestResolveConsumables_CatalystBands(t *testing.T) {
	// GIVEN: bands [{18,3%},{28,2%},{100,1%}]
	// WHEN: resolving a resin line at different temperatures
	// THEN: the first band whose max covers the temperature applies
	tests := []struct {
		temperature float64
		wantQty     string
		wantNote    string
	}{
		{15, "0.06", "auto-added at 3% for 15°"},
		{18, "0.06", "auto-added at 3% for 18°"},
		{20, "0.04", "auto-added at 2% for 20°"},
		{30, "0.02", "auto-added at 1% for 30°"},
	}
	settings := workshop.DefaultSettings()
	for _, tt := range tests {
		lines := workshop.ResolveConsumables(resinRecipe(), testCatalog(), settings, tempPtr(tt.temperature))

		require.Len(t, lines, 4)
		assert.Equal(t, workshop.ItemID("resin"), lines[0].ItemID)
		assert.Equal(t, workshop.ItemID("mekp"), lines[1].ItemID)
		assert.True(t, lines[1].AutoAdded)
		assert.True(t, dec(tt.wantQty).Equal(lines[1].Quantity), "temperature %v: got %s", tt.temperature, lines[1].Quantity)
		assert.Equal(t, tt.wantNote, lines[1].Notes)
	}
}

func TestResolveConsumables_NoTemperature_NoCatalyst(t *testing.T) {
	lines := workshop.ResolveConsumables(resinRecipe(), testCatalog(), workshop.DefaultSettings(), nil)
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.False(t, l.AutoAdded)
	}
}

func TestResolveConsumables_AboveEveryBand_NoCatalyst(t *testing.T) {
	lines := workshop.ResolveConsumables(resinRecipe(), testCatalog(), workshop.DefaultSettings(), tempPtr(120))
	assert.Len(t, lines, 3)
}

func TestResolveConsumables_ZeroPercentBand_NoCatalyst(t *testing.T) {
	settings, err := workshop.NewSettings(workshop.SettingsInput{
		CatalystRules: []workshop.CatalystRule{{TemperatureMax: 100, Percentage: decimal.Zero}},
	})
	require.NoError(t, err)

	lines := workshop.ResolveConsumables(resinRecipe(), testCatalog(), settings, tempPtr(20))
	assert.Len(t, lines, 3)
}

func TestResolveConsumables_NoCatalystInCatalog(t *testing.T) {
	catalog := workshop.NewCatalog([]workshop.InventoryItem{
		{ID: "resin", Name: "Polyester Resin", RequiresCatalyst: true},
	}, "")
	lines := workshop.ResolveConsumables(resinRecipe(), catalog, workshop.DefaultSettings(), tempPtr(20))
	assert.Len(t, lines, 3)
}

func TestResolveConsumables_ConfiguredCatalystItem(t *testing.T) {
	settings, err := workshop.NewSettings(workshop.SettingsInput{
		CatalystItemID: "hard-2",
		CatalystRules:  workshop.DefaultCatalystRules(),
	})
	require.NoError(t, err)
	catalog := workshop.NewCatalog([]workshop.InventoryItem{
		{ID: "resin", Name: "Epoxy", RequiresCatalyst: true},
		{ID: "hard-1", Name: "Fast Hardener"},
		{ID: "hard-2", Name: "Slow Hardener"},
	}, settings.CatalystItemID())

	lines := workshop.ResolveConsumables(workshop.Consumables{workshop.Fixed{ItemID: "resin", Quantity: dec("1")}}, catalog, settings, tempPtr(10))
	require.Len(t, lines, 2)
	assert.Equal(t, workshop.ItemID("hard-2"), lines[1].ItemID)
}

func TestResolveConsumables_DimensionalLine(t *testing.T) {
	lines := workshop.ResolveConsumables(resinRecipe(), testCatalog(), workshop.DefaultSettings(), nil)

	ply := lines[1]
	assert.True(t, ply.Dimensional)
	assert.True(t, ply.Quantity.IsZero())
	assert.Len(t, ply.Cuts, 2)
	assert.Equal(t, "see 2 cutting instructions", ply.Notes)
}

func TestResolveConsumables_Idempotent(t *testing.T) {
	catalog := testCatalog()
	settings := workshop.DefaultSettings()

	first, err := json.Marshal(workshop.ResolveConsumables(resinRecipe(), catalog, settings, tempPtr(20)))
	require.NoError(t, err)
	second, err := json.Marshal(workshop.ResolveConsumables(resinRecipe(), catalog, settings, tempPtr(20)))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTotalsByItem(t *testing.T) {
	recipe := append(resinRecipe(), workshop.Fixed{ItemID: "resin", Quantity: dec("1")})
	lines := workshop.ResolveConsumables(recipe, testCatalog(), workshop.DefaultSettings(), tempPtr(20))

	totals := workshop.TotalsByItem(lines)
	assert.True(t, dec("3").Equal(totals["resin"]))
	assert.True(t, dec("0.06").Equal(totals["mekp"]))
	assert.True(t, dec("0.5").Equal(totals["gelcoat"]))
	_, hasPly := totals["ply"]
	assert.False(t, hasPly)
}

func TestConsumables_JSONTaggedUnion(t *testing.T) {
	raw := `[{"kind":"fixed","itemId":"resin","quantity":1.5},{"kind":"dimensional","itemId":"ply","cuts":[{"dimensions":"100x100"}]}]`

	var c workshop.Consumables
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c, 2)

	fixed, ok := c[0].(workshop.Fixed)
	require.True(t, ok)
	assert.True(t, dec("1.5").Equal(fixed.Quantity))

	dim, ok := c[1].(workshop.Dimensional)
	require.True(t, ok)
	assert.Equal(t, "100x100", dim.Cuts[0].Dimensions)
}

func TestConsumables_JSONRejectsUnknownKind(t *testing.T) {
	var c workshop.Consumables
	err := json.Unmarshal([]byte(`[{"kind":"liquid","itemId":"x"}]`), &c)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`[{"kind":"fixed","itemId":"x"}]`), &c)
	assert.Error(t, err, "fixed entries need a quantity")
}

func TestConsumables_Validate(t *testing.T) {
	err := workshop.Consumables{workshop.Fixed{ItemID: "resin", Quantity: decimal.Zero}}.Validate()
	assert.ErrorIs(t, err, workshop.ErrValidation)

	err = workshop.Consumables{workshop.Dimensional{}}.Validate()
	assert.ErrorIs(t, err, workshop.ErrValidation)

	assert.NoError(t, resinRecipe().Validate())
}
