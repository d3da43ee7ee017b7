package workshop

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LiveSnapshot is the display-only view of a job at a point in time.
type LiveSnapshot struct {
	JobID      JobID
	Status     Status
	At         time.Time
	Elapsed    Elapsed
	HasElapsed bool
	Efficiency Efficiency
	Costs      Costs
	HasCosts   bool
	Finalized  bool
}

// Snapshot evaluates elapsed time and live cost at the current time. Nothing
// is written.
func (s *JobService) Snapshot(ctx context.Context, id JobID) (LiveSnapshot, error) {
	job, err := s.Store.GetJob(ctx, id)
	if err != nil {
		return LiveSnapshot{}, err
	}
	now := s.Now()

	snap := LiveSnapshot{JobID: job.ID, Status: job.Status, At: now, Finalized: job.IsFinalized()}
	snap.Elapsed, snap.HasElapsed = ElapsedTime(*job, now)
	snap.Efficiency = JobEfficiency(*job, snap.Elapsed, snap.HasElapsed)

	if job.IsFinalized() {
		snap.Costs, snap.HasCosts = *job.Costs, true
		return snap, nil
	}
	if !snap.HasElapsed {
		return snap, nil
	}

	catalog, err := loadCatalog(ctx, s.Store, s.Settings)
	if err != nil {
		return LiveSnapshot{}, err
	}
	rate, err := hourlyRate(ctx, s.Store, job.EmployeeID)
	if err != nil {
		if !IsNotFound(err) {
			return LiveSnapshot{}, err
		}
		// Without a rate there is still a live elapsed time worth showing.
		return snap, nil
	}
	snap.Costs, snap.HasCosts = s.Costs.Live(*job, catalog, rate, now)
	return snap, nil
}

// Watch re-evaluates the job's snapshot every interval until ctx is done.
// The first snapshot is sent immediately. The channel is closed when the
// watch stops; a failed evaluation (for example, the job was deleted) stops
// the watch as well.
func (s *JobService) Watch(ctx context.Context, id JobID, interval time.Duration) (<-chan LiveSnapshot, error) {
	if interval <= 0 {
		interval = s.Settings.LiveRefresh()
	}
	first, err := s.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan LiveSnapshot, 1)
	out <- first

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := s.Snapshot(ctx, id)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						s.Logger.Debug("Live watch stopped",
							slog.String("job_id", string(id)),
							slog.Any("error", err),
						)
					}
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
