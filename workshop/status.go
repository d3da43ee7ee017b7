/*
status.go - Job status enum and transition table

STATE MACHINE:

  pending ──start──▶ in_progress ──submit──▶ awaiting_qc ──approve──▶ complete
                      │      ▲                    │
                    pause  resume               reject
                      ▼      │                    ▼
                      paused                    issue ──archive──▶ archived_issue

EFFECTS (applied by ApplyEvent):
  start    StartedAt = now
  pause    PausedAt = now
  resume   TotalPausedMs += now - PausedAt, PausedAt cleared
  submit   no timestamp change
  approve  CompletedAt = now (costs are finalized by JobService)
  reject   IssueReason = reason
  archive  terminal

LOCKING:
  A job is locked while a timer may be running or QC is pending
  (in_progress, awaiting_qc). Locked jobs cannot be edited or deleted.
*/
package workshop

import (
	"strings"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusPaused        Status = "paused"
	StatusAwaitingQC    Status = "awaiting_qc"
	StatusComplete      Status = "complete"
	StatusIssue         Status = "issue"
	StatusArchivedIssue Status = "archived_issue"
)

var allStatuses = []Status{
	StatusPending, StatusInProgress, StatusPaused, StatusAwaitingQC,
	StatusComplete, StatusIssue, StatusArchivedIssue,
}

// ParseStatus returns the status named s.
func ParseStatus(s string) (Status, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Locked reports whether edits and deletes are forbidden.
func (s Status) Locked() bool {
	return s == StatusInProgress || s == StatusAwaitingQC
}

// CanEdit reports whether a job in this status may be edited or deleted.
func (s Status) CanEdit() bool {
	_, known := ParseStatus(string(s))
	return known && !s.Locked()
}

// measuredToCompletion lists the statuses whose elapsed time is measured up to
// CompletedAt rather than the wall clock.
func (s Status) measuredToCompletion() bool {
	switch s {
	case StatusComplete, StatusAwaitingQC, StatusIssue, StatusArchivedIssue:
		return true
	}
	return false
}

// =============================================================================
// EVENTS AND TRANSITION TABLE
// =============================================================================

type Event string

const (
	EventStart   Event = "start"
	EventPause   Event = "pause"
	EventResume  Event = "resume"
	EventSubmit  Event = "submit"
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventArchive Event = "archive"
)

var transitions = map[Status]map[Event]Status{
	StatusPending:    {EventStart: StatusInProgress},
	StatusInProgress: {EventPause: StatusPaused, EventSubmit: StatusAwaitingQC},
	StatusPaused:     {EventResume: StatusInProgress},
	StatusAwaitingQC: {EventApprove: StatusComplete, EventReject: StatusIssue},
	StatusIssue:      {EventArchive: StatusArchivedIssue},
}

// ParseEvent returns the event named s.
func ParseEvent(s string) (Event, bool) {
	switch ev := Event(s); ev {
	case EventStart, EventPause, EventResume, EventSubmit, EventApprove, EventReject, EventArchive:
		return ev, true
	}
	return "", false
}

// NextStatus looks up the transition table.
func NextStatus(from Status, ev Event) (Status, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// ApplyEvent performs a transition and its timestamp effects on a copy of job.
// Cost finalization on approve is not part of this function.
func ApplyEvent(job Job, ev Event, now time.Time, reason string) (Job, error) {
	to, ok := NextStatus(job.Status, ev)
	if !ok {
		return job, &StateError{JobID: job.ID, Status: job.Status, Action: string(ev)}
	}

	switch ev {
	case EventStart:
		job.StartedAt = timePtr(now)
	case EventPause:
		job.PausedAt = timePtr(now)
	case EventResume:
		if job.PausedAt != nil {
			if paused := now.Sub(*job.PausedAt).Milliseconds(); paused > 0 {
				job.TotalPausedMs += paused
			}
		}
		job.PausedAt = nil
	case EventApprove:
		job.CompletedAt = timePtr(now)
	case EventReject:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return job, &ValidationError{Field: "reason", Message: "is required to reject a job"}
		}
		job.IssueReason = &reason
	}

	job.Status = to
	job.UpdatedAt = now
	return job, nil
}

func timePtr(t time.Time) *time.Time { return &t }
