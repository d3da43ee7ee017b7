/*
jobs.go - Job lifecycle service

PURPOSE:
  JobService is the only writer of job status. It creates jobs from recipes,
  applies transition events, gates edits and deletes on locked jobs, and
  finalizes costs at approval.

TRANSITION FLOW:
  1. Load the job inside a store transaction
  2. ApplyEvent (status.go) checks the table and sets timestamps
  3. On approve: load catalog + employee rate, CostEngine.Finalize
  4. Save; the store rejects the write if another writer got there first,
     in which case the whole transaction is retried
  5. Publish a domain event after commit

EXAMPLE:
  svc := workshop.NewJobService(store, settings, logger)
  job, err := svc.Create(ctx, workshop.NewJob{JobCode: "J-1042", ...})
  job, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
*/
package workshop

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time.
type Clock func() time.Time

type JobService struct {
	Store    TxStore
	Settings Settings
	Costs    CostEngine
	Events   EventPublisher
	Logger   *slog.Logger
	Now      Clock
}

func NewJobService(store TxStore, settings Settings, logger *slog.Logger) *JobService {
	return &JobService{
		Store:    store,
		Settings: settings,
		Costs:    CostEngine{Settings: settings},
		Events:   NopPublisher,
		Logger:   logger,
		Now:      time.Now,
	}
}

// NewJob is a job created from a product recipe.
type NewJob struct {
	JobCode            string
	EstimatedMinutes   int
	EmployeeID         EmployeeID
	Consumables        Consumables
	AmbientTemperature *float64
}

// JobEdit lists the editable fields; nil means unchanged.
type JobEdit struct {
	JobCode            *string
	EstimatedMinutes   *int
	EmployeeID         *EmployeeID
	Consumables        Consumables
	AmbientTemperature *float64
}

// =============================================================================
// CREATE / READ
// =============================================================================

// Create stores a new pending job with the recipe consumables copied in.
func (s *JobService) Create(ctx context.Context, in NewJob) (*Job, error) {
	if strings.TrimSpace(in.JobCode) == "" {
		return nil, &ValidationError{Field: "jobCode", Message: "is required"}
	}
	if in.EstimatedMinutes < 0 {
		return nil, &ValidationError{Field: "estimatedTime", Message: "must not be negative"}
	}
	if err := in.Consumables.Validate(); err != nil {
		return nil, err
	}

	now := s.Now()
	job := Job{
		ID:                 JobID(uuid.NewString()),
		JobCode:            strings.TrimSpace(in.JobCode),
		Status:             StatusPending,
		EstimatedMinutes:   in.EstimatedMinutes,
		EmployeeID:         in.EmployeeID,
		Consumables:        append(Consumables(nil), in.Consumables...),
		AmbientTemperature: in.AmbientTemperature,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.Store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	job.Version = 1

	s.Logger.Info("Job created",
		slog.String("job_id", string(job.ID)),
		slog.String("job_code", job.JobCode),
	)
	publish(ctx, s.Events, s.Logger, DomainEvent{Type: EventJobCreated, JobID: job.ID, Status: job.Status, At: now})
	return &job, nil
}

func (s *JobService) Get(ctx context.Context, id JobID) (*Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context, status Status) ([]Job, error) {
	return s.Store.ListJobs(ctx, status)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Apply performs event on the job. reason is required for reject and ignored
// otherwise. Approving a job finalizes and persists its costs.
func (s *JobService) Apply(ctx context.Context, id JobID, ev Event, reason string) (*Job, error) {
	var result Job
	err := runInTx(ctx, s.Store, s.Settings.TransactionRetries(), s.Logger, func(tx Store) error {
		job, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		from := job.Status

		next, err := ApplyEvent(*job, ev, s.Now(), reason)
		if err != nil {
			return err
		}

		if ev == EventApprove {
			if err := s.finalize(ctx, tx, &next); err != nil {
				return err
			}
		}

		if err := tx.SaveJob(ctx, next); err != nil {
			return err
		}
		next.Version++
		result = next

		s.Logger.Info("Job transitioned",
			slog.String("job_id", string(id)),
			slog.String("event", string(ev)),
			slog.String("from", string(from)),
			slog.String("to", string(next.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.Events, s.Logger, DomainEvent{
		Type:   EventJobTransition,
		JobID:  id,
		Status: result.Status,
		At:     result.UpdatedAt,
		Attrs:  map[string]string{"event": string(ev)},
	})
	return &result, nil
}

func (s *JobService) finalize(ctx context.Context, tx Store, job *Job) error {
	catalog, err := loadCatalog(ctx, tx, s.Settings)
	if err != nil {
		return err
	}
	rate, err := hourlyRate(ctx, tx, job.EmployeeID)
	if err != nil {
		return err
	}

	costs, used := s.Costs.Finalize(*job, catalog, rate)
	if len(costs.Unpriced) > 0 {
		s.Logger.Warn("Finalizing job with unpriced consumables",
			slog.String("job_id", string(job.ID)),
			slog.Any("items", costs.Unpriced),
		)
	}
	job.Costs = &costs
	job.ConsumablesUsedInitial = used
	job.ConsumablesUsedActual = copyQuantities(used)
	return nil
}

// =============================================================================
// EDIT / DELETE
// =============================================================================

// Edit changes recipe or planning fields of an unlocked job. Finalized costs
// are left as they are.
func (s *JobService) Edit(ctx context.Context, id JobID, edit JobEdit) (*Job, error) {
	if edit.EstimatedMinutes != nil && *edit.EstimatedMinutes < 0 {
		return nil, &ValidationError{Field: "estimatedTime", Message: "must not be negative"}
	}
	if edit.JobCode != nil && strings.TrimSpace(*edit.JobCode) == "" {
		return nil, &ValidationError{Field: "jobCode", Message: "must not be empty"}
	}
	if edit.Consumables != nil {
		if err := edit.Consumables.Validate(); err != nil {
			return nil, err
		}
	}

	var result Job
	err := runInTx(ctx, s.Store, s.Settings.TransactionRetries(), s.Logger, func(tx Store) error {
		job, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !job.Status.CanEdit() {
			return &StateError{JobID: id, Status: job.Status, Action: "edit"}
		}

		if edit.JobCode != nil {
			job.JobCode = strings.TrimSpace(*edit.JobCode)
		}
		if edit.EstimatedMinutes != nil {
			job.EstimatedMinutes = *edit.EstimatedMinutes
		}
		if edit.EmployeeID != nil {
			job.EmployeeID = *edit.EmployeeID
		}
		if edit.Consumables != nil {
			job.Consumables = append(Consumables(nil), edit.Consumables...)
		}
		if edit.AmbientTemperature != nil {
			job.AmbientTemperature = edit.AmbientTemperature
		}
		job.UpdatedAt = s.Now()

		if err := tx.SaveJob(ctx, *job); err != nil {
			return err
		}
		job.Version++
		result = *job
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.Events, s.Logger, DomainEvent{Type: EventJobUpdated, JobID: id, Status: result.Status, At: result.UpdatedAt})
	return &result, nil
}

// Delete removes an unlocked job.
func (s *JobService) Delete(ctx context.Context, id JobID) error {
	err := runInTx(ctx, s.Store, s.Settings.TransactionRetries(), s.Logger, func(tx Store) error {
		job, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !job.Status.CanEdit() {
			return &StateError{JobID: id, Status: job.Status, Action: "delete"}
		}
		return tx.DeleteJob(ctx, id)
	})
	if err != nil {
		return err
	}

	s.Logger.Info("Job deleted", slog.String("job_id", string(id)))
	publish(ctx, s.Events, s.Logger, DomainEvent{Type: EventJobDeleted, JobID: id, At: s.Now()})
	return nil
}

// =============================================================================
// CONSUMABLES
// =============================================================================

// ResolvedConsumables resolves the job's recipe against current inventory.
// A non-nil temperature overrides the one recorded on the job.
func (s *JobService) ResolvedConsumables(ctx context.Context, id JobID, temperature *float64) ([]ResolvedLine, error) {
	job, err := s.Store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(ctx, s.Store, s.Settings)
	if err != nil {
		return nil, err
	}
	if temperature == nil {
		temperature = job.AmbientTemperature
	}
	return ResolveConsumables(job.Consumables, catalog, s.Settings, temperature), nil
}
