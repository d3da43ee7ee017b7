/*
Package seed loads demo workshop data into a store.

PURPOSE:
  Populates inventory and employees from a YAML file so a fresh database can
  be used for demos and manual testing without hand-entering the catalog.

FORMAT:
  employees:
    - id: emp-1
      name: Sam Carter
      hourly_rate: "22.50"
  inventory:
    - id: resin-poly
      name: Polyester Resin
      category: resins
      unit: kg
      price: "8.40"
      current_stock: "120"
      requires_catalyst: true
    - id: screws-4x40
      category: fixings
      stock_take_method: weight
      tare_weight: "50"
      unit_weight: "2.5"

APPLY RULES:
  Employees are upserted. Items that already exist keep their stock level;
  only catalog fields are refreshed, so re-seeding never rewrites counted
  stock. Everything is applied in one transaction.

SEE ALSO:
  - configs/seed.yaml: Demo data
  - cmd/server/main.go: -seed flag
*/
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
	"gopkg.in/yaml.v3"
)

// Data is the content of a seed file.
type Data struct {
	Employees []Employee `yaml:"employees"`
	Inventory []Item     `yaml:"inventory"`
}

type Employee struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	HourlyRate string `yaml:"hourly_rate"`
}

type Item struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Category         string `yaml:"category"`
	Unit             string `yaml:"unit"`
	Price            string `yaml:"price"`
	CurrentStock     string `yaml:"current_stock"`
	StockTakeMethod  string `yaml:"stock_take_method"`
	TareWeight       string `yaml:"tare_weight"`
	UnitWeight       string `yaml:"unit_weight"`
	RequiresCatalyst bool   `yaml:"requires_catalyst"`
}

// Summary reports what Apply wrote.
type Summary struct {
	Employees    int
	ItemsCreated int
	ItemsUpdated int
}

// Load reads and parses a seed file.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &data, nil
}

// Apply writes d into store in one transaction.
func (d *Data) Apply(ctx context.Context, store workshop.TxStore) (Summary, error) {
	employees := make([]workshop.Employee, 0, len(d.Employees))
	for i, e := range d.Employees {
		emp, err := e.toEmployee()
		if err != nil {
			return Summary{}, fmt.Errorf("employees[%d]: %w", i, err)
		}
		employees = append(employees, emp)
	}
	items := make([]workshop.InventoryItem, 0, len(d.Inventory))
	for i, it := range d.Inventory {
		item, err := it.toItem()
		if err != nil {
			return Summary{}, fmt.Errorf("inventory[%d]: %w", i, err)
		}
		items = append(items, item)
	}

	var sum Summary
	err := store.WithTx(ctx, func(tx workshop.Store) error {
		sum = Summary{}
		for _, e := range employees {
			if err := tx.SaveEmployee(ctx, e); err != nil {
				return err
			}
			sum.Employees++
		}
		for _, item := range items {
			existing, err := tx.GetItem(ctx, item.ID)
			switch {
			case err == nil:
				item.CurrentStock = existing.CurrentStock
				sum.ItemsUpdated++
			case workshop.IsNotFound(err):
				sum.ItemsCreated++
			default:
				return err
			}
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (e Employee) toEmployee() (workshop.Employee, error) {
	if e.ID == "" {
		return workshop.Employee{}, &workshop.ValidationError{Field: "id", Message: "is required"}
	}
	rate, err := parseDecimal("hourly_rate", e.HourlyRate)
	if err != nil {
		return workshop.Employee{}, err
	}
	return workshop.Employee{ID: workshop.EmployeeID(e.ID), Name: e.Name, HourlyRate: rate}, nil
}

func (it Item) toItem() (workshop.InventoryItem, error) {
	if it.ID == "" {
		return workshop.InventoryItem{}, &workshop.ValidationError{Field: "id", Message: "is required"}
	}
	if it.Category == "" {
		return workshop.InventoryItem{}, &workshop.ValidationError{Field: "category", Message: "is required"}
	}

	item := workshop.InventoryItem{
		ID:               workshop.ItemID(it.ID),
		Name:             it.Name,
		Category:         workshop.Category(it.Category),
		Unit:             it.Unit,
		StockTakeMethod:  workshop.StockTakeMethod(it.StockTakeMethod),
		RequiresCatalyst: it.RequiresCatalyst,
	}
	if item.Name == "" {
		item.Name = it.ID
	}
	switch item.StockTakeMethod {
	case "":
		item.StockTakeMethod = workshop.StockTakeQuantity
	case workshop.StockTakeQuantity, workshop.StockTakeWeight:
	default:
		return workshop.InventoryItem{}, &workshop.ValidationError{Field: "stock_take_method", Message: fmt.Sprintf("unknown method %q", it.StockTakeMethod)}
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price", it.Price, &item.Price},
		{"current_stock", it.CurrentStock, &item.CurrentStock},
		{"tare_weight", it.TareWeight, &item.TareWeight},
		{"unit_weight", it.UnitWeight, &item.UnitWeight},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return workshop.InventoryItem{}, err
		}
		*f.dst = v
	}
	return item, nil
}

// parseDecimal treats an empty value as zero.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &workshop.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", raw)}
	}
	return d, nil
}
