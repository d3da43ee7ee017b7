package workshop_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-engine/workshop"
)

func TestNextStatus_TransitionTable(t *testing.T) {
	legal := []struct {
		from workshop.Status
		ev   workshop.Event
		to   workshop.Status
	}{
		{workshop.StatusPending, workshop.EventStart, workshop.StatusInProgress},
		{workshop.StatusInProgress, workshop.EventPause, workshop.StatusPaused},
		{workshop.StatusPaused, workshop.EventResume, workshop.StatusInProgress},
		{workshop.StatusInProgress, workshop.EventSubmit, workshop.StatusAwaitingQC},
		{workshop.StatusAwaitingQC, workshop.EventApprove, workshop.StatusComplete},
		{workshop.StatusAwaitingQC, workshop.EventReject, workshop.StatusIssue},
		{workshop.StatusIssue, workshop.EventArchive, workshop.StatusArchivedIssue},
	}
	for _, tt := range legal {
		to, ok := workshop.NextStatus(tt.from, tt.ev)
		assert.True(t, ok, "%s --%s-->", tt.from, tt.ev)
		assert.Equal(t, tt.to, to)
	}

	illegal := []struct {
		from workshop.Status
		ev   workshop.Event
	}{
		{workshop.StatusPending, workshop.EventPause},
		{workshop.StatusPaused, workshop.EventSubmit},
		{workshop.StatusInProgress, workshop.EventApprove},
		{workshop.StatusComplete, workshop.EventStart},
		{workshop.StatusArchivedIssue, workshop.EventArchive},
		{workshop.StatusIssue, workshop.EventResume},
	}
	for _, tt := range illegal {
		_, ok := workshop.NextStatus(tt.from, tt.ev)
		assert.False(t, ok, "%s --%s-->", tt.from, tt.ev)
	}
}

func TestApplyEvent_IllegalTransition_StateError(t *testing.T) {
	job := workshop.Job{ID: "j1", Status: workshop.StatusComplete}
	_, err := workshop.ApplyEvent(job, workshop.EventStart, at(9, 0), "")

	require.Error(t, err)
	assert.ErrorIs(t, err, workshop.ErrInvalidState)
	var se *workshop.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, workshop.StatusComplete, se.Status)
}

func TestApplyEvent_PauseResumeAccumulates(t *testing.T) {
	job := workshop.Job{ID: "j1", Status: workshop.StatusPending}

	job, err := workshop.ApplyEvent(job, workshop.EventStart, at(9, 0), "")
	require.NoError(t, err)
	job, err = workshop.ApplyEvent(job, workshop.EventPause, at(9, 30), "")
	require.NoError(t, err)
	job, err = workshop.ApplyEvent(job, workshop.EventResume, at(9, 45), "")
	require.NoError(t, err)
	job, err = workshop.ApplyEvent(job, workshop.EventPause, at(10, 0), "")
	require.NoError(t, err)
	job, err = workshop.ApplyEvent(job, workshop.EventResume, at(10, 5), "")
	require.NoError(t, err)

	assert.Equal(t, workshop.StatusInProgress, job.Status)
	assert.Nil(t, job.PausedAt)
	assert.Equal(t, int64(20*time.Minute/time.Millisecond), job.TotalPausedMs)
}

func TestApplyEvent_ResumeBeforePause_NeverShrinks(t *testing.T) {
	job := workshop.Job{ID: "j1", Status: workshop.StatusPaused, PausedAt: timeP(at(10, 0)), TotalPausedMs: 1000}
	job, err := workshop.ApplyEvent(job, workshop.EventResume, at(9, 0), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), job.TotalPausedMs)
}

func TestApplyEvent_RejectRequiresReason(t *testing.T) {
	job := workshop.Job{ID: "j1", Status: workshop.StatusAwaitingQC}

	_, err := workshop.ApplyEvent(job, workshop.EventReject, at(9, 0), "  ")
	assert.ErrorIs(t, err, workshop.ErrValidation)

	job, err = workshop.ApplyEvent(job, workshop.EventReject, at(9, 0), "porosity in laminate")
	require.NoError(t, err)
	require.NotNil(t, job.IssueReason)
	assert.Equal(t, "porosity in laminate", *job.IssueReason)
	assert.Equal(t, workshop.StatusIssue, job.Status)
}

func TestStatus_EditGate(t *testing.T) {
	for _, s := range []workshop.Status{workshop.StatusInProgress, workshop.StatusAwaitingQC} {
		assert.False(t, s.CanEdit(), string(s))
		assert.True(t, s.Locked(), string(s))
	}
	for _, s := range []workshop.Status{
		workshop.StatusPending, workshop.StatusPaused, workshop.StatusComplete,
		workshop.StatusIssue, workshop.StatusArchivedIssue,
	} {
		assert.True(t, s.CanEdit(), string(s))
		assert.False(t, s.Locked(), string(s))
	}
	assert.False(t, workshop.Status("done").CanEdit())
}

func TestParseStatusAndEvent(t *testing.T) {
	s, ok := workshop.ParseStatus("awaiting_qc")
	assert.True(t, ok)
	assert.Equal(t, workshop.StatusAwaitingQC, s)
	_, ok = workshop.ParseStatus("done")
	assert.False(t, ok)

	ev, ok := workshop.ParseEvent("archive")
	assert.True(t, ok)
	assert.Equal(t, workshop.EventArchive, ev)
	_, ok = workshop.ParseEvent("finish")
	assert.False(t, ok)
}
