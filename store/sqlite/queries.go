package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
)

// queries holds every statement, run against either the database handle or
// an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

// =============================================================================
// JOBS
// =============================================================================

type jobRow struct {
	ID                 string          `db:"id"`
	JobCode            string          `db:"job_code"`
	Status             string          `db:"status"`
	EstimatedMinutes   int             `db:"estimated_minutes"`
	EmployeeID         string          `db:"employee_id"`
	StartedAt          sql.NullString  `db:"started_at"`
	PausedAt           sql.NullString  `db:"paused_at"`
	CompletedAt        sql.NullString  `db:"completed_at"`
	TotalPausedMs      int64           `db:"total_paused_ms"`
	ConsumablesJSON    string          `db:"consumables_json"`
	AmbientTemperature sql.NullFloat64 `db:"ambient_temperature"`
	IssueReason        sql.NullString  `db:"issue_reason"`
	CostsJSON          sql.NullString  `db:"costs_json"`
	UsedInitialJSON    sql.NullString  `db:"used_initial_json"`
	UsedActualJSON     sql.NullString  `db:"used_actual_json"`
	ActualMinutes      sql.NullString  `db:"actual_minutes"`
	AuditJSON          string          `db:"audit_json"`
	AdjustmentReason   string          `db:"adjustment_reason"`
	LastAdjustedAt     sql.NullString  `db:"last_adjusted_at"`
	Version            int64           `db:"version"`
	CreatedAt          string          `db:"created_at"`
	UpdatedAt          string          `db:"updated_at"`
}

const jobColumns = `id, job_code, status, estimated_minutes, employee_id,
	started_at, paused_at, completed_at, total_paused_ms, consumables_json,
	ambient_temperature, issue_reason, costs_json, used_initial_json,
	used_actual_json, actual_minutes, audit_json, adjustment_reason,
	last_adjusted_at, version, created_at, updated_at`

func toJobRow(job workshop.Job) (jobRow, error) {
	row := jobRow{
		ID:               string(job.ID),
		JobCode:          job.JobCode,
		Status:           string(job.Status),
		EstimatedMinutes: job.EstimatedMinutes,
		EmployeeID:       string(job.EmployeeID),
		StartedAt:        nullTime(job.StartedAt),
		PausedAt:         nullTime(job.PausedAt),
		CompletedAt:      nullTime(job.CompletedAt),
		TotalPausedMs:    job.TotalPausedMs,
		IssueReason:      nullString(job.IssueReason),
		ActualMinutes:    nullDecimal(job.ActualMinutes),
		AdjustmentReason: job.AdjustmentReason,
		LastAdjustedAt:   nullTime(job.LastAdjustedAt),
		Version:          job.Version,
		CreatedAt:        formatTime(job.CreatedAt),
		UpdatedAt:        formatTime(job.UpdatedAt),
	}
	if job.AmbientTemperature != nil {
		row.AmbientTemperature = sql.NullFloat64{Float64: *job.AmbientTemperature, Valid: true}
	}

	consumables := job.Consumables
	if consumables == nil {
		consumables = workshop.Consumables{}
	}
	b, err := json.Marshal(consumables)
	if err != nil {
		return row, fmt.Errorf("failed to encode consumables: %w", err)
	}
	row.ConsumablesJSON = string(b)

	audit := job.AdjustmentAuditLog
	if audit == nil {
		audit = []workshop.AdjustmentAuditEntry{}
	}
	if b, err = json.Marshal(audit); err != nil {
		return row, fmt.Errorf("failed to encode audit log: %w", err)
	}
	row.AuditJSON = string(b)

	if row.CostsJSON, err = nullJSON(job.Costs, job.Costs == nil); err != nil {
		return row, fmt.Errorf("failed to encode costs: %w", err)
	}
	if row.UsedInitialJSON, err = nullJSON(job.ConsumablesUsedInitial, job.ConsumablesUsedInitial == nil); err != nil {
		return row, fmt.Errorf("failed to encode initial usage: %w", err)
	}
	if row.UsedActualJSON, err = nullJSON(job.ConsumablesUsedActual, job.ConsumablesUsedActual == nil); err != nil {
		return row, fmt.Errorf("failed to encode actual usage: %w", err)
	}
	return row, nil
}

func (r jobRow) toJob() (workshop.Job, error) {
	job := workshop.Job{
		ID:               workshop.JobID(r.ID),
		JobCode:          r.JobCode,
		Status:           workshop.Status(r.Status),
		EstimatedMinutes: r.EstimatedMinutes,
		EmployeeID:       workshop.EmployeeID(r.EmployeeID),
		TotalPausedMs:    r.TotalPausedMs,
		AdjustmentReason: r.AdjustmentReason,
		Version:          r.Version,
	}

	var err error
	if job.StartedAt, err = parseNullTime(r.StartedAt); err != nil {
		return job, err
	}
	if job.PausedAt, err = parseNullTime(r.PausedAt); err != nil {
		return job, err
	}
	if job.CompletedAt, err = parseNullTime(r.CompletedAt); err != nil {
		return job, err
	}
	if job.LastAdjustedAt, err = parseNullTime(r.LastAdjustedAt); err != nil {
		return job, err
	}
	if job.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return job, err
	}
	if job.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return job, err
	}

	if r.AmbientTemperature.Valid {
		t := r.AmbientTemperature.Float64
		job.AmbientTemperature = &t
	}
	if r.IssueReason.Valid {
		reason := r.IssueReason.String
		job.IssueReason = &reason
	}
	if r.ActualMinutes.Valid {
		d, err := decimal.NewFromString(r.ActualMinutes.String)
		if err != nil {
			return job, fmt.Errorf("invalid actual minutes: %w", err)
		}
		job.ActualMinutes = &d
	}

	if err := json.Unmarshal([]byte(r.ConsumablesJSON), &job.Consumables); err != nil {
		return job, fmt.Errorf("invalid consumables: %w", err)
	}
	if err := json.Unmarshal([]byte(r.AuditJSON), &job.AdjustmentAuditLog); err != nil {
		return job, fmt.Errorf("invalid audit log: %w", err)
	}
	if len(job.AdjustmentAuditLog) == 0 {
		job.AdjustmentAuditLog = nil
	}
	if r.CostsJSON.Valid {
		var c workshop.Costs
		if err := json.Unmarshal([]byte(r.CostsJSON.String), &c); err != nil {
			return job, fmt.Errorf("invalid costs: %w", err)
		}
		job.Costs = &c
	}
	if r.UsedInitialJSON.Valid {
		if err := json.Unmarshal([]byte(r.UsedInitialJSON.String), &job.ConsumablesUsedInitial); err != nil {
			return job, fmt.Errorf("invalid initial usage: %w", err)
		}
	}
	if r.UsedActualJSON.Valid {
		if err := json.Unmarshal([]byte(r.UsedActualJSON.String), &job.ConsumablesUsedActual); err != nil {
			return job, fmt.Errorf("invalid actual usage: %w", err)
		}
	}
	return job, nil
}

func (q queries) getJob(ctx context.Context, id workshop.JobID) (*workshop.Job, error) {
	var row jobRow
	query := q.ext.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q.ext, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &workshop.NotFoundError{Kind: "job", ID: string(id)}
		}
		return nil, translate(fmt.Errorf("failed to get job: %w", err))
	}
	job, err := row.toJob()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (q queries) listJobs(ctx context.Context, status workshop.Status) ([]workshop.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []jobRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, translate(fmt.Errorf("failed to list jobs: %w", err))
	}

	jobs := make([]workshop.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// saveJob inserts a new job (Version 0) or performs a version-guarded update.
func (q queries) saveJob(ctx context.Context, job workshop.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}

	if job.Version == 0 {
		row.Version = 1
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES (:id, :job_code, :status, :estimated_minutes, :employee_id,
				:started_at, :paused_at, :completed_at, :total_paused_ms, :consumables_json,
				:ambient_temperature, :issue_reason, :costs_json, :used_initial_json,
				:used_actual_json, :actual_minutes, :audit_json, :adjustment_reason,
				:last_adjusted_at, :version, :created_at, :updated_at)`, row)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: job %s already exists", workshop.ErrConcurrentModification, job.ID)
			}
			return translate(fmt.Errorf("failed to insert job: %w", err))
		}
		return nil
	}

	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE jobs SET
			job_code = :job_code,
			status = :status,
			estimated_minutes = :estimated_minutes,
			employee_id = :employee_id,
			started_at = :started_at,
			paused_at = :paused_at,
			completed_at = :completed_at,
			total_paused_ms = :total_paused_ms,
			consumables_json = :consumables_json,
			ambient_temperature = :ambient_temperature,
			issue_reason = :issue_reason,
			costs_json = :costs_json,
			used_initial_json = :used_initial_json,
			used_actual_json = :used_actual_json,
			actual_minutes = :actual_minutes,
			audit_json = :audit_json,
			adjustment_reason = :adjustment_reason,
			last_adjusted_at = :last_adjusted_at,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return translate(fmt.Errorf("failed to update job: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s changed since version %d", workshop.ErrConcurrentModification, job.ID, job.Version)
	}
	return nil
}

func (q queries) deleteJob(ctx context.Context, id workshop.JobID) error {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(`DELETE FROM jobs WHERE id = ?`), string(id))
	if err != nil {
		return translate(fmt.Errorf("failed to delete job: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n == 0 {
		return &workshop.NotFoundError{Kind: "job", ID: string(id)}
	}
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

type itemRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	Category         string `db:"category"`
	Unit             string `db:"unit"`
	Price            string `db:"price"`
	CurrentStock     string `db:"current_stock"`
	StockTakeMethod  string `db:"stock_take_method"`
	TareWeight       string `db:"tare_weight"`
	UnitWeight       string `db:"unit_weight"`
	RequiresCatalyst bool   `db:"requires_catalyst"`
}

const itemColumns = `id, name, category, unit, price, current_stock,
	stock_take_method, tare_weight, unit_weight, requires_catalyst`

func (r itemRow) toItem() (workshop.InventoryItem, error) {
	item := workshop.InventoryItem{
		ID:               workshop.ItemID(r.ID),
		Name:             r.Name,
		Category:         workshop.Category(r.Category),
		Unit:             r.Unit,
		StockTakeMethod:  workshop.StockTakeMethod(r.StockTakeMethod),
		RequiresCatalyst: r.RequiresCatalyst,
	}
	var err error
	if item.Price, err = parseDecimal(r.Price); err != nil {
		return item, fmt.Errorf("invalid price for item %s: %w", r.ID, err)
	}
	if item.CurrentStock, err = parseDecimal(r.CurrentStock); err != nil {
		return item, fmt.Errorf("invalid stock for item %s: %w", r.ID, err)
	}
	if item.TareWeight, err = parseDecimal(r.TareWeight); err != nil {
		return item, fmt.Errorf("invalid tare weight for item %s: %w", r.ID, err)
	}
	if item.UnitWeight, err = parseDecimal(r.UnitWeight); err != nil {
		return item, fmt.Errorf("invalid unit weight for item %s: %w", r.ID, err)
	}
	return item, nil
}

func (q queries) getItem(ctx context.Context, id workshop.ItemID) (*workshop.InventoryItem, error) {
	var row itemRow
	query := q.ext.Rebind(`SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q.ext, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &workshop.NotFoundError{Kind: "item", ID: string(id)}
		}
		return nil, translate(fmt.Errorf("failed to get item: %w", err))
	}
	item, err := row.toItem()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (q queries) listItems(ctx context.Context, category workshop.Category) ([]workshop.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY id ASC`

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, translate(fmt.Errorf("failed to list items: %w", err))
	}

	items := make([]workshop.InventoryItem, 0, len(rows))
	for _, r := range rows {
		item, err := r.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (q queries) saveItem(ctx context.Context, item workshop.InventoryItem) error {
	row := itemRow{
		ID:               string(item.ID),
		Name:             item.Name,
		Category:         string(item.Category),
		Unit:             item.Unit,
		Price:            item.Price.String(),
		CurrentStock:     item.CurrentStock.String(),
		StockTakeMethod:  string(item.StockTakeMethod),
		TareWeight:       item.TareWeight.String(),
		UnitWeight:       item.UnitWeight.String(),
		RequiresCatalyst: item.RequiresCatalyst,
	}
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (:id, :name, :category, :unit, :price, :current_stock,
			:stock_take_method, :tare_weight, :unit_weight, :requires_catalyst)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			unit = excluded.unit,
			price = excluded.price,
			current_stock = excluded.current_stock,
			stock_take_method = excluded.stock_take_method,
			tare_weight = excluded.tare_weight,
			unit_weight = excluded.unit_weight,
			requires_catalyst = excluded.requires_catalyst`, row)
	if err != nil {
		return translate(fmt.Errorf("failed to save item: %w", err))
	}
	return nil
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

type movementRow struct {
	ID             string `db:"id"`
	ItemID         string `db:"item_id"`
	ItemName       string `db:"item_name"`
	Direction      string `db:"direction"`
	Quantity       string `db:"quantity"`
	Reason         string `db:"reason"`
	AdjustedBy     string `db:"adjusted_by"`
	ResultingStock string `db:"resulting_stock"`
	SessionID      string `db:"session_id"`
	JobID          string `db:"job_id"`
	CreatedAt      string `db:"created_at"`
}

const movementColumns = `id, item_id, item_name, direction, quantity, reason,
	adjusted_by, resulting_stock, session_id, job_id, created_at`

func (q queries) appendMovement(ctx context.Context, m workshop.StockMovement) error {
	row := movementRow{
		ID:             m.ID,
		ItemID:         string(m.ItemID),
		ItemName:       m.ItemName,
		Direction:      string(m.Direction),
		Quantity:       m.Quantity.String(),
		Reason:         m.Reason,
		AdjustedBy:     m.AdjustedBy,
		ResultingStock: m.ResultingStock.String(),
		SessionID:      m.SessionID,
		JobID:          string(m.JobID),
		CreatedAt:      formatTime(m.CreatedAt),
	}
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (:id, :item_id, :item_name, :direction, :quantity, :reason,
			:adjusted_by, :resulting_stock, :session_id, :job_id, :created_at)`, row)
	if err != nil {
		return translate(fmt.Errorf("failed to append stock movement: %w", err))
	}
	return nil
}

func (q queries) listMovements(ctx context.Context, itemID workshop.ItemID) ([]workshop.StockMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	var args []any
	if itemID != "" {
		query += ` WHERE item_id = ?`
		args = append(args, string(itemID))
	}
	query += ` ORDER BY seq ASC`

	var rows []movementRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, translate(fmt.Errorf("failed to list stock movements: %w", err))
	}

	out := make([]workshop.StockMovement, 0, len(rows))
	for _, r := range rows {
		m := workshop.StockMovement{
			ID:         r.ID,
			ItemID:     workshop.ItemID(r.ItemID),
			ItemName:   r.ItemName,
			Direction:  workshop.Direction(r.Direction),
			Reason:     r.Reason,
			AdjustedBy: r.AdjustedBy,
			SessionID:  r.SessionID,
			JobID:      workshop.JobID(r.JobID),
		}
		var err error
		if m.Quantity, err = parseDecimal(r.Quantity); err != nil {
			return nil, err
		}
		if m.ResultingStock, err = parseDecimal(r.ResultingStock); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type employeeRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	HourlyRate string `db:"hourly_rate"`
}

func (q queries) getEmployee(ctx context.Context, id workshop.EmployeeID) (*workshop.Employee, error) {
	var row employeeRow
	query := q.ext.Rebind(`SELECT id, name, hourly_rate FROM employees WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q.ext, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &workshop.NotFoundError{Kind: "employee", ID: string(id)}
		}
		return nil, translate(fmt.Errorf("failed to get employee: %w", err))
	}
	rate, err := parseDecimal(row.HourlyRate)
	if err != nil {
		return nil, fmt.Errorf("invalid hourly rate for employee %s: %w", row.ID, err)
	}
	return &workshop.Employee{ID: workshop.EmployeeID(row.ID), Name: row.Name, HourlyRate: rate}, nil
}

func (q queries) saveEmployee(ctx context.Context, e workshop.Employee) error {
	row := employeeRow{ID: string(e.ID), Name: e.Name, HourlyRate: e.HourlyRate.String()}
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO employees (id, name, hourly_rate)
		VALUES (:id, :name, :hourly_rate)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			hourly_rate = excluded.hourly_rate`, row)
	if err != nil {
		return translate(fmt.Errorf("failed to save employee: %w", err))
	}
	return nil
}
