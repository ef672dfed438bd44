package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/events"
	"github.com/arnavshah/relief-dispatch-go/pkg/matching"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
	"github.com/arnavshah/relief-dispatch-go/pkg/testutil"
)

type fixture struct {
	db     *gorm.DB
	coord  *Coordinator
	events *events.MockPublisher
	stats  *database.StatsStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	f := &fixture{
		db:     db,
		events: &events.MockPublisher{},
		stats:  &database.StatsStore{DB: db},
	}
	f.coord = NewCoordinator(db, database.CandidateRepository{}, Options{
		Events:      f.events,
		Stats:       f.stats,
		LockTimeout: 5 * time.Second,
	})
	return f
}

func uintPtr(v uint) *uint { return &v }

func TestAutoAssign_PrefersSkilledVolunteer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vol := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{
		Username: "medic", Volunteer: true, Skills: "Medical training", Location: &models.Coordinates{Lat: 1, Lon: 1},
	})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{
		Username: "nearby", Location: &models.Coordinates{Lat: 0, Lon: 0.1},
	})
	req := testutil.CreateRequest(t, f.db, models.RequestMedical, models.StatusPending, nil)

	out, err := f.coord.AutoAssign(ctx, testutil.Staff(99), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)
	assert.Equal(t, vol.ID, out.ResponderID)
	assert.Equal(t, models.StatusAssigned, out.Status)
	assert.False(t, out.OverCapacity)
	assert.NoError(t, out.Err())

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, models.StatusAssigned, row.Status)
	require.NotNil(t, row.AssignedResponderID)
	assert.Equal(t, vol.ID, *row.AssignedResponderID)
	assert.True(t, row.Consistent())

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, req.ID, evs[0].RequestID)
	assert.Equal(t, vol.ID, evs[0].ResponderID)
	assert.Equal(t, events.ModeAuto, evs[0].Mode)

	stats, err := f.stats.Recent(ctx, 99)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].AutoAssigned)
}

func TestAutoAssign_SecondCallIsAlreadyAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r1", Volunteer: true})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r2", Volunteer: true})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	first, err := f.coord.AutoAssign(ctx, testutil.Staff(99), req.ID, 1)
	require.NoError(t, err)
	require.Equal(t, KindAssigned, first.Kind)
	assert.Equal(t, r.ID, first.ResponderID)
	before := testutil.LoadRequest(t, f.db, req.ID)

	second, err := f.coord.AutoAssign(ctx, testutil.Staff(98), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyAssigned, second.Kind)
	assert.Equal(t, models.StatusAssigned, second.Status)
	assert.Equal(t, r.ID, second.ResponderID)
	assert.ErrorIs(t, second.Err(), ErrAlreadyAssigned)

	after := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, *before.AssignedResponderID, *after.AssignedResponderID)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "rejected attempt must not write")
	assert.Len(t, f.events.Events(), 1)
}

func TestAutoAssign_ConcurrentCallsAssignOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: name, Volunteer: true})
	}
	req := testutil.CreateRequest(t, f.db, models.RequestWater, models.StatusPending, nil)

	const callers = 16
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				outcomes[i], err = f.coord.AutoAssign(ctx, testutil.Staff(uint(100+i)), req.ID, 1)
			} else {
				outcomes[i], err = f.coord.SelfAssign(ctx, testutil.Staff(uint(100+i)), req.ID)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var winners int
	var winner uint
	for _, out := range outcomes {
		switch out.Kind {
		case KindAssigned:
			winners++
			winner = out.ResponderID
		case KindAlreadyAssigned:
		default:
			t.Fatalf("unexpected outcome %s", out.Kind)
		}
	}
	require.Equal(t, 1, winners)
	for _, out := range outcomes {
		assert.Equal(t, winner, out.ResponderID, "losers report the winning responder")
	}

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, winner, *row.AssignedResponderID)
	assert.Len(t, f.events.Events(), 1)
	assert.Equal(t, 0, f.coord.locks.Len())
}

func TestAutoAssign_NotFound(t *testing.T) {
	f := newFixture(t)
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})

	out, err := f.coord.AutoAssign(context.Background(), testutil.Staff(1), 424242, 1)
	require.NoError(t, err)
	assert.Equal(t, KindNotFound, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrNotFound)
}

func TestAutoAssign_NoCandidateLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "victim", NotStaff: true})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "unapproved", Volunteer: true, Inactive: true})
	req := testutil.CreateRequest(t, f.db, models.RequestShelter, models.StatusPending, nil)

	out, err := f.coord.AutoAssign(ctx, testutil.Staff(7), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindNoCandidate, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrNoCandidate)

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, models.StatusPending, row.Status)
	assert.Nil(t, row.AssignedResponderID)
	assert.Empty(t, f.events.Events())

	stats, err := f.stats.Recent(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].NoCandidate)
}

func TestAssign_UnauthorizedOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r", Volunteer: true})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	operators := []models.Operator{
		{ID: 1, IsActive: true},
		{ID: 2, IsStaff: true},
		{ID: 3, IsSuperuser: true},
	}
	for _, op := range operators {
		out, err := f.coord.AutoAssign(ctx, op, req.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, KindUnauthorized, out.Kind)

		out, err = f.coord.SelfAssign(ctx, op, req.ID)
		require.NoError(t, err)
		assert.Equal(t, KindUnauthorized, out.Kind)

		out, err = f.coord.UpdateStatus(ctx, op, req.ID, models.StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, KindUnauthorized, out.Kind)
		assert.ErrorIs(t, out.Err(), ErrUnauthorized)
	}

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, models.StatusPending, row.Status)
	assert.Nil(t, row.AssignedResponderID)
}

func TestAutoAssign_CapacityAndLiveLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	skilled := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "skilled", Volunteer: true, Skills: "food"})
	spare := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "spare", Volunteer: true})

	first := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)
	second := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)
	third := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	out, err := f.coord.AutoAssign(ctx, testutil.Staff(99), first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, skilled.ID, out.ResponderID)

	// skilled now holds one active task, so it is at capacity
	out, err = f.coord.AutoAssign(ctx, testutil.Staff(99), second.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, spare.ID, out.ResponderID)
	assert.False(t, out.OverCapacity)

	// everyone is full: the top-ranked responder is used anyway
	out, err = f.coord.AutoAssign(ctx, testutil.Staff(99), third.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)
	assert.Equal(t, skilled.ID, out.ResponderID)
	assert.True(t, out.OverCapacity)
}

func TestAutoAssign_RankingMatchesPureSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "far", Volunteer: true, Location: &models.Coordinates{Lat: 10, Lon: 10}})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "near", Volunteer: true, Location: &models.Coordinates{Lat: 0.5, Lon: 0.5}})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "unknown", Volunteer: true})
	req := testutil.CreateRequest(t, f.db, models.RequestRescue, models.StatusPending, nil)

	preview, err := f.coord.Preview(ctx, req.ID, 1)
	require.NoError(t, err)
	require.Len(t, preview.Ranked, 3)
	require.NotNil(t, preview.Selection)
	assert.Equal(t, "near", preview.Ranked[0].Username)
	assert.Equal(t, "unknown", preview.Ranked[2].Username)
	assert.False(t, preview.Ranked[2].DistanceKnown)

	out, err := f.coord.AutoAssign(ctx, testutil.Staff(99), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, preview.Selection.ResponderID, out.ResponderID)

	_, err = f.coord.Preview(ctx, 9999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelfAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	me := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "me"})
	other := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "other"})
	req := testutil.CreateRequest(t, f.db, models.RequestOther, models.StatusPending, nil)

	out, err := f.coord.SelfAssign(ctx, me.Operator(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)
	assert.Equal(t, me.ID, out.ResponderID)

	out, err = f.coord.SelfAssign(ctx, other.Operator(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyAssigned, out.Kind)
	assert.Equal(t, me.ID, out.ResponderID)

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.ModeSelf, evs[0].Mode)

	stats, err := f.stats.Recent(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].SelfAssigned)

	out, err = f.coord.SelfAssign(ctx, me.Operator(), 31337)
	require.NoError(t, err)
	assert.Equal(t, KindNotFound, out.Kind)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := testutil.Staff(99)

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	req := testutil.CreateRequest(t, f.db, models.RequestMedical, models.StatusPending, nil)

	out, err := f.coord.UpdateStatus(ctx, op, req.ID, models.StatusAssigned)
	require.NoError(t, err)
	assert.Equal(t, KindInvalidTransition, out.Kind, "ASSIGNED needs a responder")

	out, err = f.coord.UpdateStatus(ctx, op, req.ID, models.StatusEnRoute)
	require.NoError(t, err)
	assert.Equal(t, KindInvalidTransition, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrInvalidTransition)

	_, err = f.coord.SelfAssign(ctx, r.Operator(), req.ID)
	require.NoError(t, err)

	for _, to := range []models.Status{models.StatusEnRoute, models.StatusCompleted} {
		out, err = f.coord.UpdateStatus(ctx, op, req.ID, to)
		require.NoError(t, err)
		assert.Equal(t, KindUpdated, out.Kind)
		assert.Equal(t, to, out.Status)
		assert.Equal(t, r.ID, out.ResponderID)
	}

	out, err = f.coord.UpdateStatus(ctx, op, req.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, KindInvalidTransition, out.Kind, "terminal states are final")

	out, err = f.coord.UpdateStatus(ctx, op, req.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, KindInvalidTransition, out.Kind)

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.True(t, row.Consistent())
}

func TestUpdateStatus_ReopenAndCancelClearResponder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := testutil.Staff(99)

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	reopen := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusEnRoute, uintPtr(r.ID))
	cancel := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusAssigned, uintPtr(r.ID))

	out, err := f.coord.UpdateStatus(ctx, op, reopen.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, out.Kind)
	row := testutil.LoadRequest(t, f.db, reopen.ID)
	assert.Equal(t, models.StatusPending, row.Status)
	assert.Nil(t, row.AssignedResponderID)

	out, err = f.coord.UpdateStatus(ctx, op, cancel.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, out.Kind)
	row = testutil.LoadRequest(t, f.db, cancel.ID)
	assert.Equal(t, models.StatusCancelled, row.Status)
	assert.Nil(t, row.AssignedResponderID)
	assert.True(t, row.Consistent())

	// a reopened request can be assigned again
	out, err = f.coord.AutoAssign(ctx, op, reopen.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)

	out, err = f.coord.UpdateStatus(ctx, op, 5555, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, KindNotFound, out.Kind)
}

func TestUpdateStatus_EventsReachTheResponder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := testutil.Staff(99)

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	held := testutil.CreateRequest(t, f.db, models.RequestMedical, models.StatusAssigned, uintPtr(r.ID))
	reopened := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusEnRoute, uintPtr(r.ID))
	unheld := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	out, err := f.coord.UpdateStatus(ctx, op, held.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, out.Kind)
	assert.Zero(t, out.ResponderID)
	assert.Equal(t, r.ID, out.PreviousResponderID)

	out, err = f.coord.UpdateStatus(ctx, op, reopened.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, r.ID, out.PreviousResponderID)

	// nobody held it, nobody to tell
	out, err = f.coord.UpdateStatus(ctx, op, unheld.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, out.Kind)

	evs := f.events.Events()
	require.Len(t, evs, 2)
	for i, id := range []uint{held.ID, reopened.ID} {
		assert.Equal(t, id, evs[i].RequestID)
		assert.Equal(t, events.ModeStatus, evs[i].Mode)
		assert.Zero(t, evs[i].ResponderID)
		assert.Equal(t, r.ID, evs[i].PreviousResponderID)
		assert.Equal(t, r.ID, evs[i].Recipient())
	}
	assert.Equal(t, models.StatusCancelled, evs[0].Status)
	assert.Equal(t, models.StatusPending, evs[1].Status)
}

func TestUpdateStatus_SameStatusIsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := testutil.Staff(99)

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusCompleted, uintPtr(r.ID))
	before := testutil.LoadRequest(t, f.db, req.ID)

	out, err := f.coord.UpdateStatus(ctx, op, req.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, KindUnchanged, out.Kind)
	assert.False(t, out.Succeeded())
	assert.NoError(t, out.Err())
	assert.Equal(t, r.ID, out.ResponderID)

	assert.Empty(t, f.events.Events())
	assert.Equal(t, before.UpdatedAt, testutil.LoadRequest(t, f.db, req.ID).UpdatedAt)
}

func TestOutcome_ZeroValueIsNotASuccess(t *testing.T) {
	var out Outcome
	assert.False(t, out.Succeeded())
	assert.NotEqual(t, KindAssigned, out.Kind)
	assert.Equal(t, "unknown", out.Kind.String())
}

type panickingSource struct{}

func (panickingSource) EligibleCandidates(*gorm.DB) ([]matching.Candidate, error) {
	panic("candidate source exploded")
}

type failingSource struct{}

func (failingSource) EligibleCandidates(*gorm.DB) ([]matching.Candidate, error) {
	return nil, errors.New("connection reset")
}

func TestAutoAssign_PanicReleasesLockAndRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	f.coord.candidates = panickingSource{}
	assert.Panics(t, func() {
		_, _ = f.coord.AutoAssign(ctx, testutil.Staff(1), req.ID, 1)
	})
	assert.Equal(t, 0, f.coord.locks.Len())
	assert.Equal(t, models.StatusPending, testutil.LoadRequest(t, f.db, req.ID).Status)

	f.coord.candidates = failingSource{}
	_, err := f.coord.AutoAssign(ctx, testutil.Staff(1), req.ID, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, f.coord.locks.Len())

	f.coord.candidates = database.CandidateRepository{}
	out, err := f.coord.AutoAssign(ctx, testutil.Staff(1), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)
}

func TestAutoAssign_LockTimeout(t *testing.T) {
	f := newFixture(t)
	f.coord.lockTimeout = 20 * time.Millisecond

	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	unlock, err := f.coord.locks.Lock(context.Background(), req.ID)
	require.NoError(t, err)
	defer unlock()

	_, err = f.coord.AutoAssign(context.Background(), testutil.Staff(1), req.ID, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusPending, testutil.LoadRequest(t, f.db, req.ID).Status)
}

func TestAutoAssign_PublishFailureKeepsAssignment(t *testing.T) {
	f := newFixture(t)
	f.events.Err = errors.New("broker down")

	r := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "r"})
	req := testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusPending, nil)

	out, err := f.coord.AutoAssign(context.Background(), testutil.Staff(1), req.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, KindAssigned, out.Kind)

	row := testutil.LoadRequest(t, f.db, req.ID)
	assert.Equal(t, models.StatusAssigned, row.Status)
	assert.Equal(t, r.ID, *row.AssignedResponderID)
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	busy := testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "busy", Volunteer: true})
	testutil.CreateResponder(t, f.db, testutil.ResponderOpts{Username: "idle"})
	testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusAssigned, uintPtr(busy.ID))
	testutil.CreateRequest(t, f.db, models.RequestFood, models.StatusEnRoute, uintPtr(busy.ID))

	report, err := f.coord.Load(ctx)
	require.NoError(t, err)
	require.Len(t, report.Responders, 2)
	assert.Equal(t, "busy", report.Responders[0].Username)
	assert.True(t, report.Responders[0].Volunteer)
	assert.Equal(t, 2, report.Responders[0].ActiveTasks)
	assert.Equal(t, 0, report.Responders[1].ActiveTasks)
	assert.Less(t, report.FairnessScore, 100.0)
}
