package workshop

import (
	"fmt"
	"time"
)

// Elapsed is the active working time of a job.
type Elapsed struct {
	Duration time.Duration
	Minutes  int // whole minutes, floored
	Text     string
}

// ElapsedTime computes the active duration of job, excluding paused
// intervals. ok is false when there is nothing meaningful to report: the job
// never started, the reference timestamp for its status is missing, or the
// stored timestamps are inconsistent and would yield a negative duration.
//
// The reference point depends on the status: CompletedAt for complete,
// awaiting_qc, issue and archived_issue; PausedAt for paused; now otherwise.
func ElapsedTime(job Job, now time.Time) (Elapsed, bool) {
	if job.StartedAt == nil {
		return Elapsed{}, false
	}

	var ref time.Time
	switch {
	case job.Status.measuredToCompletion():
		if job.CompletedAt == nil {
			return Elapsed{}, false
		}
		ref = *job.CompletedAt
	case job.Status == StatusPaused:
		if job.PausedAt == nil {
			return Elapsed{}, false
		}
		ref = *job.PausedAt
	default:
		ref = now
	}

	active := ref.Sub(*job.StartedAt) - time.Duration(job.TotalPausedMs)*time.Millisecond
	if active < 0 {
		return Elapsed{}, false
	}

	minutes := int(active / time.Minute)
	return Elapsed{Duration: active, Minutes: minutes, Text: FormatMinutes(minutes)}, true
}

// FormatMinutes renders minutes as "Hh Mm", dropping the hours part when it
// is zero: 65 -> "1h 5m", 50 -> "50m".
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
