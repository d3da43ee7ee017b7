package workshop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-engine/workshop"
)

func resinJob() workshop.NewJob {
	return workshop.NewJob{
		JobCode:            "J-1042",
		EstimatedMinutes:   72,
		EmployeeID:         "emp-1",
		Consumables:        workshop.Consumables{workshop.Fixed{ItemID: "resin", Quantity: dec("2")}},
		AmbientTemperature: tempPtr(20),
	}
}

// runToAwaitingQC drives a created job through start 14:00, pause 14:30,
// resume 14:40 and submit 15:10.
func runToAwaitingQC(t *testing.T, svc *workshop.JobService, clock *fakeClock, id workshop.JobID) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		at time.Time
		ev workshop.Event
	}{
		{at(14, 0), workshop.EventStart},
		{at(14, 30), workshop.EventPause},
		{at(14, 40), workshop.EventResume},
		{at(15, 10), workshop.EventSubmit},
	}
	for _, st := range steps {
		clock.Set(st.at)
		_, err := svc.Apply(ctx, id, st.ev, "")
		require.NoError(t, err, "event %s", st.ev)
	}
}

func TestJobService_Create(t *testing.T) {
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)

	job, err := svc.Create(context.Background(), resinJob())
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, workshop.StatusPending, job.Status)
	assert.Equal(t, int64(1), job.Version)
	assert.Nil(t, job.Costs)

	stored, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.JobCode, stored.JobCode)
	assert.Equal(t, job.Version, stored.Version)
}

func TestJobService_Create_Validation(t *testing.T) {
	svc := newJobService(t, seededStore(t), newClock(at(13, 0)))

	in := resinJob()
	in.JobCode = " "
	_, err := svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, workshop.ErrValidation)

	in = resinJob()
	in.EstimatedMinutes = -1
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, workshop.ErrValidation)
}

func TestJobService_ApproveFinalizesCosts(t *testing.T) {
	// GIVEN: resin 2 @ 10 with catalyst at 20° (2% of 2 = 0.04 @ 50),
	//        employee rate 20 + overhead 5, 60 active minutes
	// WHEN: the job is approved
	// THEN: material 22.00, labor 25.00, total 47.00 are persisted
	ctx := context.Background()
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)
	runToAwaitingQC(t, svc, clock, job.ID)

	approved, err := svc.Apply(ctx, job.ID, workshop.EventApprove, "")
	require.NoError(t, err)

	assert.Equal(t, workshop.StatusComplete, approved.Status)
	require.NotNil(t, approved.CompletedAt)
	assert.True(t, approved.CompletedAt.Equal(at(15, 10)))
	require.NotNil(t, approved.Costs)
	assert.Equal(t, "22.00", approved.Costs.Material.StringFixed(2))
	assert.Equal(t, "25.00", approved.Costs.Labor.StringFixed(2))
	assert.Equal(t, "47.00", approved.Costs.Total.StringFixed(2))
	assert.Empty(t, approved.Costs.Unpriced)

	assert.True(t, dec("2").Equal(approved.ConsumablesUsedInitial["resin"]))
	assert.True(t, dec("0.04").Equal(approved.ConsumablesUsedInitial["mekp"]))
	assert.Equal(t, approved.ConsumablesUsedInitial, approved.ConsumablesUsedActual)

	stored, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Costs)
	assert.Equal(t, "47.00", stored.Costs.Total.StringFixed(2))
	assert.Equal(t, approved.Version, stored.Version)
}

func TestJobService_EditAfterCompleteKeepsCosts(t *testing.T) {
	ctx := context.Background()
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)
	runToAwaitingQC(t, svc, clock, job.ID)
	_, err = svc.Apply(ctx, job.ID, workshop.EventApprove, "")
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	code := "J-1042B"
	edited, err := svc.Edit(ctx, job.ID, workshop.JobEdit{
		JobCode:     &code,
		Consumables: workshop.Consumables{workshop.Fixed{ItemID: "resin", Quantity: dec("50")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "J-1042B", edited.JobCode)
	require.NotNil(t, edited.Costs)
	assert.Equal(t, "47.00", edited.Costs.Total.StringFixed(2))
	assert.Equal(t, "22.00", edited.Costs.Material.StringFixed(2))
}

func TestJobService_EditAndDeleteGate(t *testing.T) {
	ctx := context.Background()
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)
	code := "renamed"

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	// pending: editable
	_, err = svc.Edit(ctx, job.ID, workshop.JobEdit{JobCode: &code})
	require.NoError(t, err)

	// in_progress: locked
	_, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.NoError(t, err)
	_, err = svc.Edit(ctx, job.ID, workshop.JobEdit{JobCode: &code})
	assert.ErrorIs(t, err, workshop.ErrInvalidState)
	assert.ErrorIs(t, svc.Delete(ctx, job.ID), workshop.ErrInvalidState)

	// paused: editable
	_, err = svc.Apply(ctx, job.ID, workshop.EventPause, "")
	require.NoError(t, err)
	_, err = svc.Edit(ctx, job.ID, workshop.JobEdit{JobCode: &code})
	require.NoError(t, err)

	// awaiting_qc: locked
	_, err = svc.Apply(ctx, job.ID, workshop.EventResume, "")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, job.ID, workshop.EventSubmit, "")
	require.NoError(t, err)
	_, err = svc.Edit(ctx, job.ID, workshop.JobEdit{JobCode: &code})
	assert.ErrorIs(t, err, workshop.ErrInvalidState)
	var se *workshop.StateError
	require.ErrorAs(t, svc.Delete(ctx, job.ID), &se)
	assert.Equal(t, "delete", se.Action)

	// issue: deletable
	_, err = svc.Apply(ctx, job.ID, workshop.EventReject, "delaminated")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, job.ID))

	_, err = svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, workshop.ErrNotFound)
}

func TestJobService_IllegalEventLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, seededStore(t), newClock(at(13, 0)))

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	_, err = svc.Apply(ctx, job.ID, workshop.EventApprove, "")
	assert.ErrorIs(t, err, workshop.ErrInvalidState)

	stored, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, workshop.StatusPending, stored.Status)
	assert.Equal(t, job.Version, stored.Version)
}

func TestJobService_ApproveWithoutEmployee_RollsBack(t *testing.T) {
	ctx := context.Background()
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)

	in := resinJob()
	in.EmployeeID = "ghost"
	job, err := svc.Create(ctx, in)
	require.NoError(t, err)
	runToAwaitingQC(t, svc, clock, job.ID)

	_, err = svc.Apply(ctx, job.ID, workshop.EventApprove, "")
	assert.ErrorIs(t, err, workshop.ErrNotFound)

	stored, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, workshop.StatusAwaitingQC, stored.Status)
	assert.Nil(t, stored.Costs)
}

func TestJobService_ApproveWithUnknownItem_ReportsUnpriced(t *testing.T) {
	ctx := context.Background()
	clock := newClock(at(13, 0))
	svc := newJobService(t, seededStore(t), clock)

	in := resinJob()
	in.Consumables = append(in.Consumables, workshop.Fixed{ItemID: "discontinued", Quantity: dec("3")})
	job, err := svc.Create(ctx, in)
	require.NoError(t, err)
	runToAwaitingQC(t, svc, clock, job.ID)

	approved, err := svc.Apply(ctx, job.ID, workshop.EventApprove, "")
	require.NoError(t, err)
	assert.Equal(t, []workshop.ItemID{"discontinued"}, approved.Costs.Unpriced)
	assert.Equal(t, "22.00", approved.Costs.Material.StringFixed(2))
}

func TestJobService_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, seededStore(t), newClock(at(13, 0)))
	pub := &recordingPublisher{}
	svc.Events = pub

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)
	_, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.Error(t, err)

	assert.Equal(t, []workshop.EventType{workshop.EventJobCreated, workshop.EventJobTransition}, pub.Types())
}

func TestJobService_ResolvedConsumables_TemperatureOverride(t *testing.T) {
	ctx := context.Background()
	svc := newJobService(t, seededStore(t), newClock(at(13, 0)))

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	lines, err := svc.ResolvedConsumables(ctx, job.ID, nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, dec("0.04").Equal(lines[1].Quantity))

	lines, err = svc.ResolvedConsumables(ctx, job.ID, tempPtr(10))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, dec("0.06").Equal(lines[1].Quantity))
}

// =============================================================================
// CONFLICT RETRY
// =============================================================================

// conflictingStore fails the first n transactions with a concurrent
// modification before delegating.
type conflictingStore struct {
	workshop.TxStore
	mu        sync.Mutex
	remaining int
	calls     int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(workshop.Store) error) error {
	c.mu.Lock()
	c.calls++
	fail := c.remaining > 0
	if fail {
		c.remaining--
	}
	c.mu.Unlock()
	if fail {
		return workshop.ErrConcurrentModification
	}
	return c.TxStore.WithTx(ctx, fn)
}

func TestJobService_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	base := seededStore(t)
	flaky := &conflictingStore{TxStore: base, remaining: 2}
	svc := newJobService(t, flaky, newClock(at(13, 0)))

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	started, err := svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.NoError(t, err)
	assert.Equal(t, workshop.StatusInProgress, started.Status)
	assert.Equal(t, 3, flaky.calls)
}

func TestJobService_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	flaky := &conflictingStore{TxStore: seededStore(t), remaining: 10}
	svc := newJobService(t, flaky, newClock(at(13, 0)))

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	_, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, workshop.ErrConcurrentModification)
	assert.Equal(t, workshop.KindInternal, workshop.KindOf(err))
	assert.Equal(t, 3, flaky.calls)
}

func TestJobService_StaleWriteRejected(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	svc := newJobService(t, s, newClock(at(13, 0)))

	job, err := svc.Create(ctx, resinJob())
	require.NoError(t, err)

	stale := *job
	_, err = svc.Apply(ctx, job.ID, workshop.EventStart, "")
	require.NoError(t, err)

	stale.JobCode = "stale"
	assert.ErrorIs(t, s.SaveJob(ctx, stale), workshop.ErrConcurrentModification)
}
