// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps inventory partitioned by category, with an item -> category
// index so lookups by id never scan categories.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[workshop.JobID]workshop.Job
	inventory map[workshop.Category]map[workshop.ItemID]workshop.InventoryItem
	index     map[workshop.ItemID]workshop.Category
	movements []workshop.StockMovement
	employees map[workshop.EmployeeID]workshop.Employee
}

func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[workshop.JobID]workshop.Job),
		inventory: make(map[workshop.Category]map[workshop.ItemID]workshop.InventoryItem),
		index:     make(map[workshop.ItemID]workshop.Category),
		employees: make(map[workshop.EmployeeID]workshop.Employee),
	}
}

// --- jobs ---

func (m *Memory) GetJob(_ context.Context, id workshop.JobID) (*workshop.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getJobLocked(id)
}

func (m *Memory) getJobLocked(id workshop.JobID) (*workshop.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, &workshop.NotFoundError{Kind: "job", ID: string(id)}
	}
	c := cloneJob(job)
	return &c, nil
}

func (m *Memory) ListJobs(_ context.Context, status workshop.Status) ([]workshop.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listJobsLocked(status), nil
}

func (m *Memory) listJobsLocked(status workshop.Status) []workshop.Job {
	var out []workshop.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (m *Memory) SaveJob(_ context.Context, job workshop.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveJobLocked(job)
}

func (m *Memory) saveJobLocked(job workshop.Job) error {
	current, exists := m.jobs[job.ID]
	switch {
	case job.Version == 0 && exists:
		return workshop.ErrConcurrentModification
	case job.Version != 0 && (!exists || current.Version != job.Version):
		return workshop.ErrConcurrentModification
	}
	job = cloneJob(job)
	job.Version++
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, id workshop.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteJobLocked(id)
}

func (m *Memory) deleteJobLocked(id workshop.JobID) error {
	if _, ok := m.jobs[id]; !ok {
		return &workshop.NotFoundError{Kind: "job", ID: string(id)}
	}
	delete(m.jobs, id)
	return nil
}

// --- inventory ---

func (m *Memory) GetItem(_ context.Context, id workshop.ItemID) (*workshop.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getItemLocked(id)
}

func (m *Memory) getItemLocked(id workshop.ItemID) (*workshop.InventoryItem, error) {
	cat, ok := m.index[id]
	if !ok {
		return nil, &workshop.NotFoundError{Kind: "item", ID: string(id)}
	}
	item := m.inventory[cat][id]
	return &item, nil
}

func (m *Memory) ListItems(_ context.Context, category workshop.Category) ([]workshop.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listItemsLocked(category), nil
}

func (m *Memory) listItemsLocked(category workshop.Category) []workshop.InventoryItem {
	var out []workshop.InventoryItem
	for cat, items := range m.inventory {
		if category != "" && cat != category {
			continue
		}
		for _, it := range items {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *Memory) SaveItem(_ context.Context, item workshop.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveItemLocked(item)
	return nil
}

// saveItemLocked keeps the index current, including when an item moves
// between categories.
func (m *Memory) saveItemLocked(item workshop.InventoryItem) {
	if old, ok := m.index[item.ID]; ok && old != item.Category {
		delete(m.inventory[old], item.ID)
	}
	if m.inventory[item.Category] == nil {
		m.inventory[item.Category] = make(map[workshop.ItemID]workshop.InventoryItem)
	}
	m.inventory[item.Category][item.ID] = item
	m.index[item.ID] = item.Category
}

func (m *Memory) AppendMovement(_ context.Context, mv workshop.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, mv)
	return nil
}

func (m *Memory) ListMovements(_ context.Context, itemID workshop.ItemID) ([]workshop.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMovementsLocked(itemID), nil
}

func (m *Memory) listMovementsLocked(itemID workshop.ItemID) []workshop.StockMovement {
	var out []workshop.StockMovement
	for _, mv := range m.movements {
		if itemID == "" || mv.ItemID == itemID {
			out = append(out, mv)
		}
	}
	return out
}

// --- employees ---

func (m *Memory) GetEmployee(_ context.Context, id workshop.EmployeeID) (*workshop.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEmployeeLocked(id)
}

func (m *Memory) getEmployeeLocked(id workshop.EmployeeID) (*workshop.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return nil, &workshop.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return &e, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e workshop.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(workshop.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	jobs      map[workshop.JobID]workshop.Job
	inventory map[workshop.Category]map[workshop.ItemID]workshop.InventoryItem
	index     map[workshop.ItemID]workshop.Category
	movements []workshop.StockMovement
	employees map[workshop.EmployeeID]workshop.Employee
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		jobs:      make(map[workshop.JobID]workshop.Job, len(tm.jobs)),
		inventory: make(map[workshop.Category]map[workshop.ItemID]workshop.InventoryItem, len(tm.inventory)),
		index:     make(map[workshop.ItemID]workshop.Category, len(tm.index)),
		movements: append([]workshop.StockMovement(nil), tm.movements...),
		employees: make(map[workshop.EmployeeID]workshop.Employee, len(tm.employees)),
	}
	for k, v := range tm.jobs {
		s.jobs[k] = v
	}
	for cat, items := range tm.inventory {
		cp := make(map[workshop.ItemID]workshop.InventoryItem, len(items))
		for k, v := range items {
			cp[k] = v
		}
		s.inventory[cat] = cp
	}
	for k, v := range tm.index {
		s.index[k] = v
	}
	for k, v := range tm.employees {
		s.employees[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.jobs = s.jobs
	tm.inventory = s.inventory
	tm.index = s.index
	tm.movements = s.movements
	tm.employees = s.employees
}

// txMemoryView operates on the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetJob(_ context.Context, id workshop.JobID) (*workshop.Job, error) {
	return tv.parent.getJobLocked(id)
}

func (tv *txMemoryView) ListJobs(_ context.Context, status workshop.Status) ([]workshop.Job, error) {
	return tv.parent.listJobsLocked(status), nil
}

func (tv *txMemoryView) SaveJob(_ context.Context, job workshop.Job) error {
	return tv.parent.saveJobLocked(job)
}

func (tv *txMemoryView) DeleteJob(_ context.Context, id workshop.JobID) error {
	return tv.parent.deleteJobLocked(id)
}

func (tv *txMemoryView) GetItem(_ context.Context, id workshop.ItemID) (*workshop.InventoryItem, error) {
	return tv.parent.getItemLocked(id)
}

func (tv *txMemoryView) ListItems(_ context.Context, category workshop.Category) ([]workshop.InventoryItem, error) {
	return tv.parent.listItemsLocked(category), nil
}

func (tv *txMemoryView) SaveItem(_ context.Context, item workshop.InventoryItem) error {
	tv.parent.saveItemLocked(item)
	return nil
}

func (tv *txMemoryView) AppendMovement(_ context.Context, mv workshop.StockMovement) error {
	tv.parent.movements = append(tv.parent.movements, mv)
	return nil
}

func (tv *txMemoryView) ListMovements(_ context.Context, itemID workshop.ItemID) ([]workshop.StockMovement, error) {
	return tv.parent.listMovementsLocked(itemID), nil
}

func (tv *txMemoryView) GetEmployee(_ context.Context, id workshop.EmployeeID) (*workshop.Employee, error) {
	return tv.parent.getEmployeeLocked(id)
}

func (tv *txMemoryView) SaveEmployee(_ context.Context, e workshop.Employee) error {
	tv.parent.employees[e.ID] = e
	return nil
}

// cloneJob copies the slices and maps of a job so callers cannot mutate
// stored state.
func cloneJob(j workshop.Job) workshop.Job {
	j.Consumables = append(workshop.Consumables(nil), j.Consumables...)
	j.AdjustmentAuditLog = append([]workshop.AdjustmentAuditEntry(nil), j.AdjustmentAuditLog...)
	j.ConsumablesUsedInitial = cloneQuantities(j.ConsumablesUsedInitial)
	j.ConsumablesUsedActual = cloneQuantities(j.ConsumablesUsedActual)
	if j.Costs != nil {
		c := *j.Costs
		j.Costs = &c
	}
	return j
}

func cloneQuantities(m map[workshop.ItemID]decimal.Decimal) map[workshop.ItemID]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[workshop.ItemID]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
