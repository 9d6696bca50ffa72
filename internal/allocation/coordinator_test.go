package allocation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bay-allocation-backend/internal/db"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
	"bay-allocation-backend/internal/store"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	envs []*events.Envelope
}

func (r *recorder) Deliver(env *events.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return true
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Event.Type()
	}
	return out
}

func (r *recorder) last() *events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envs[len(r.envs)-1]
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Apply(context.Context, store.Mutation) error { return f.err }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", regexp.MustCompile(`\W`).ReplaceAllString(t.Name(), "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB)
	require.NoError(t, store.SeedBays(context.Background(), s, 24))
	return s
}

// newTestCoordinator returns a coordinator over 24 seeded bays and a recorder
// attached to its event stream.
func newTestCoordinator(t *testing.T) (*Coordinator, store.Store, *recorder) {
	t.Helper()
	s := newTestStore(t)
	c, err := New(context.Background(), s, events.NewBus(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	rec := &recorder{}
	require.True(t, c.Subscribe("test", rec))
	return c, s, rec
}

func submit(t *testing.T, c *Coordinator, user, callsign string, bay int64) model.Request {
	t.Helper()
	req, err := c.Submit(context.Background(), SubmitInput{UserID: user, FlightCallsign: callsign, BayID: bay})
	require.NoError(t, err)
	return req
}

func requireConsistent(t *testing.T, c *Coordinator) {
	t.Helper()
	require.NoError(t, c.Snapshot().Validate())
}

func TestCoordinator_SubmitThenDeny(t *testing.T) {
	ctx := context.Background()
	c, s, rec := newTestCoordinator(t)

	req := submit(t, c, "crew-1", "ba123", 5)
	assert.Equal(t, "BA123", req.FlightCallsign)
	assert.Equal(t, model.RequestPending, req.Status)
	assert.Equal(t, fixedNow, req.RequestedAt)

	bay, err := c.Bay(5)
	require.NoError(t, err)
	assert.Equal(t, model.BayPending, bay.Status)
	requireConsistent(t, c)

	newReq := rec.envs[1].Event.(model.NewRequest)
	assert.Equal(t, int64(5), newReq.Request.RequestedBayID)
	assert.Equal(t, model.RequestPending, newReq.Request.Status)

	denied, err := c.Deny(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDenied, denied.Status)
	require.NotNil(t, denied.RespondedAt)

	assert.Equal(t, []model.EventType{
		model.EventInitialState,
		model.EventNewRequest,
		model.EventBayUpdated,
		model.EventRequestResolved,
		model.EventBayUpdated,
	}, rec.types())
	last := rec.last().Event.(model.BayUpdated)
	assert.Equal(t, int64(5), last.Bay.ID)
	assert.Equal(t, model.BayFree, last.Bay.Status)
	requireConsistent(t, c)

	persisted, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDenied, persisted.Status)
	persistedBay, err := s.GetBay(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.BayFree, persistedBay.Status)
}

func TestCoordinator_SubmitErrors(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	submit(t, c, "crew-1", "BA123", 3)

	testCases := []struct {
		name      string
		input     SubmitInput
		expectErr error
	}{
		{"unknown bay", SubmitInput{UserID: "u", FlightCallsign: "AF447", BayID: 99}, ErrInvalidBay},
		{"bay not free", SubmitInput{UserID: "u", FlightCallsign: "AF447", BayID: 3}, ErrBayUnavailable},
		{"short callsign", SubmitInput{UserID: "u", FlightCallsign: "AF", BayID: 4}, ErrValidation},
		{"long callsign", SubmitInput{UserID: "u", FlightCallsign: "ABCDEFGHI", BayID: 4}, ErrValidation},
		{"missing user", SubmitInput{FlightCallsign: "AF447", BayID: 4}, ErrValidation},
		{"missing bay", SubmitInput{UserID: "u", FlightCallsign: "AF447"}, ErrValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := c.Seq()
			_, err := c.Submit(context.Background(), tc.input)
			assert.ErrorIs(t, err, tc.expectErr)
			assert.Equal(t, before, c.Seq())
		})
	}
	requireConsistent(t, c)
}

func TestCoordinator_ValidationErrorFields(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, err := c.Submit(context.Background(), SubmitInput{FlightCallsign: "x"})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"userId", "flightCallsign", "requestedBayId"}, fields)
	assert.Equal(t, "VALIDATION_ERROR", Code(err))
}

func TestCoordinator_ApproveTwice(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newTestCoordinator(t)
	req := submit(t, c, "crew-1", "EZY42", 7)

	approved, err := c.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, approved.Status)
	after := c.Snapshot()
	seq := c.Seq()

	_, err = c.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = c.Deny(ctx, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	assert.Equal(t, after, c.Snapshot())
	assert.Equal(t, seq, c.Seq())

	bay, _ := c.Bay(7)
	assert.Equal(t, model.BayOccupied, bay.Status)
	assert.Equal(t, "EZY42", bay.OccupantOrEmpty())
	assert.Equal(t, model.EventBayUpdated, rec.last().Event.Type())
	requireConsistent(t, c)

	_, err = c.Approve(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_SuggestAndAcceptRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newTestCoordinator(t)
	req := submit(t, c, "crew-1", "BA123", 5)

	suggested, err := c.SuggestAlternative(ctx, req.ID, 7, "use bay 7")
	require.NoError(t, err)
	require.NotNil(t, suggested.SuggestedBayID)
	assert.Equal(t, int64(7), *suggested.SuggestedBayID)
	assert.Equal(t, model.RequestPending, suggested.Status)
	assert.Equal(t, "use bay 7", *suggested.ResponseNotes)
	assert.Equal(t, model.EventAlternativeSuggested, rec.last().Event.Type())
	requireConsistent(t, c)

	mark := len(rec.types())
	accepted, err := c.AcceptAlternative(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, accepted.Status)
	assert.Equal(t, int64(7), accepted.RequestedBayID)
	assert.Nil(t, accepted.SuggestedBayID)
	assert.NotNil(t, accepted.RespondedAt)

	five, _ := c.Bay(5)
	seven, _ := c.Bay(7)
	assert.Equal(t, model.BayFree, five.Status)
	assert.Equal(t, model.BayOccupied, seven.Status)
	assert.Equal(t, "BA123", seven.OccupantOrEmpty())

	assert.Equal(t, []model.EventType{
		model.EventRequestResolved,
		model.EventBayUpdated,
		model.EventBayUpdated,
	}, rec.types()[mark:])
	assert.Equal(t, int64(5), rec.envs[mark+1].Event.(model.BayUpdated).Bay.ID)
	assert.Equal(t, int64(7), rec.envs[mark+2].Event.(model.BayUpdated).Bay.ID)
	requireConsistent(t, c)
}

func TestCoordinator_SuggestErrors(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	req := submit(t, c, "crew-1", "BA123", 5)
	other := submit(t, c, "crew-2", "LH400", 6)

	_, err := c.SuggestAlternative(ctx, 404, 7, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.SuggestAlternative(ctx, req.ID, 99, "")
	assert.ErrorIs(t, err, ErrInvalidBay)
	_, err = c.SuggestAlternative(ctx, req.ID, 5, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.SuggestAlternative(ctx, req.ID, 0, "")
	assert.ErrorIs(t, err, ErrValidation)

	// Suggesting a bay that is not free is allowed; accepting it is not.
	_, err = c.SuggestAlternative(ctx, req.ID, 6, "")
	require.NoError(t, err)
	_, err = c.AcceptAlternative(ctx, req.ID)
	assert.ErrorIs(t, err, ErrBayUnavailable)

	_, err = c.AcceptAlternative(ctx, other.ID)
	assert.ErrorIs(t, err, ErrNoSuggestionPending)
	_, err = c.AcceptAlternative(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Deny(ctx, req.ID)
	require.NoError(t, err)
	_, err = c.SuggestAlternative(ctx, req.ID, 7, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = c.AcceptAlternative(ctx, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	requireConsistent(t, c)
}

func TestCoordinator_Cancel(t *testing.T) {
	ctx := context.Background()
	c, s, rec := newTestCoordinator(t)
	req := submit(t, c, "crew-1", "BA123", 2)

	require.NoError(t, c.Cancel(ctx, req.ID))
	assert.Equal(t, []model.EventType{model.EventRequestCancelled, model.EventBayUpdated}, rec.types()[3:])
	assert.Equal(t, req.ID, rec.envs[3].Event.(model.RequestCancelled).RequestID)

	_, err := c.Request(req.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	bay, _ := c.Bay(2)
	assert.Equal(t, model.BayFree, bay.Status)

	assert.ErrorIs(t, c.Cancel(ctx, req.ID), ErrNotFound)

	approved := submit(t, c, "crew-1", "BA124", 2)
	_, err = c.Approve(ctx, approved.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Cancel(ctx, approved.ID), ErrNotCancelable)
	requireConsistent(t, c)
}

func TestCoordinator_ForceRelease(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newTestCoordinator(t)

	_, err := c.ForceRelease(ctx, 1, model.RoleATC)
	assert.ErrorIs(t, err, ErrInvalidState)

	req := submit(t, c, "crew-1", "BA123", 1)
	_, err = c.ForceRelease(ctx, 1, model.RoleATC)
	assert.ErrorIs(t, err, ErrInvalidState, "pending bays go through deny or cancel")

	_, err = c.Approve(ctx, req.ID)
	require.NoError(t, err)

	_, err = c.ForceRelease(ctx, 1, model.RoleStakeholder)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.ForceRelease(ctx, 99, model.RoleATC)
	assert.ErrorIs(t, err, ErrNotFound)

	bay, err := c.ForceRelease(ctx, 1, model.RoleATC)
	require.NoError(t, err)
	assert.Equal(t, model.BayFree, bay.Status)
	assert.Nil(t, bay.Occupant)
	assert.Equal(t, model.BayUpdated{Bay: bay}, rec.last().Event)
	requireConsistent(t, c)
}

func TestCoordinator_DenyAfterBayLeftPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	flight := "AF447"
	require.NoError(t, s.Apply(ctx, store.Mutation{
		Bays: []model.Bay{{ID: 4, Number: 4, Status: model.BayOccupied, Occupant: &flight}},
		Requests: []model.Request{{
			ID: 10, UserID: "u", FlightCallsign: "BA123", RequestedBayID: 4,
			Status: model.RequestPending, RequestedAt: fixedNow,
		}},
	}))

	c, err := New(ctx, s, events.NewBus())
	require.NoError(t, err)
	assert.Equal(t, int64(11), c.nextID)

	_, err = c.Approve(ctx, 10)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Deny(ctx, 10)
	require.NoError(t, err)
	bay, _ := c.Bay(4)
	assert.Equal(t, model.BayOccupied, bay.Status)
	assert.Equal(t, "AF447", bay.OccupantOrEmpty())
}

func TestCoordinator_ConcurrentSubmitsOneWinner(t *testing.T) {
	c, _, rec := newTestCoordinator(t)

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Submit(context.Background(), SubmitInput{
				UserID:         fmt.Sprintf("crew-%d", i),
				FlightCallsign: fmt.Sprintf("FL%03d", i),
				BayID:          9,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrBayUnavailable):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)

	newRequests := 0
	for _, typ := range rec.types() {
		if typ == model.EventNewRequest {
			newRequests++
		}
	}
	assert.Equal(t, 1, newRequests)
	requireConsistent(t, c)
}

func TestCoordinator_ApproveRacingCancel(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)

	for i := 0; i < 200; i++ {
		req := submit(t, c, "crew", fmt.Sprintf("RACE%d", i), 7)

		var (
			wg         sync.WaitGroup
			approveErr error
			cancelErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = c.Approve(ctx, req.ID)
		}()
		go func() {
			defer wg.Done()
			cancelErr = c.Cancel(ctx, req.ID)
		}()
		wg.Wait()

		switch {
		case approveErr == nil:
			require.ErrorIs(t, cancelErr, ErrNotCancelable)
			got, err := c.Request(req.ID)
			require.NoError(t, err)
			assert.Equal(t, model.RequestApproved, got.Status)
			requireConsistent(t, c)
			_, err = c.ForceRelease(ctx, 7, model.RoleATC)
			require.NoError(t, err)
		case cancelErr == nil:
			require.ErrorIs(t, approveErr, ErrNotFound)
			bay, err := c.Bay(7)
			require.NoError(t, err)
			assert.Equal(t, model.BayFree, bay.Status)
		default:
			t.Fatalf("both lost: approve=%v cancel=%v", approveErr, cancelErr)
		}
		requireConsistent(t, c)
	}
}

func TestCoordinator_RestartKeepsIDsAndSequence(t *testing.T) {
	ctx := context.Background()
	c, s, _ := newTestCoordinator(t)

	first := submit(t, c, "crew", "BA1", 1)
	second := submit(t, c, "crew", "BA2", 2)
	require.NoError(t, c.Cancel(ctx, second.ID))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	seq := c.Seq()
	require.Equal(t, uint64(6), seq)

	bus := events.NewBus()
	restarted, err := New(ctx, s, bus, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	assert.Equal(t, seq, restarted.Seq())
	_, err = restarted.Request(second.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &recorder{}
	require.True(t, restarted.Subscribe("after-restart", rec))
	assert.Equal(t, seq, rec.envs[0].Seq)

	third := submit(t, restarted, "crew", "BA3", 2)
	assert.Equal(t, int64(3), third.ID)
	require.Len(t, rec.envs, 3)
	assert.Equal(t, seq+1, rec.envs[1].Seq)
	assert.Equal(t, seq+2, rec.envs[2].Seq)
}

func TestCoordinator_StoreFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bus := events.NewBus()
	c, err := New(ctx, failingStore{Store: s, err: errors.New("disk full")}, bus)
	require.NoError(t, err)
	before := c.Snapshot()

	_, err = c.Submit(ctx, SubmitInput{UserID: "u", FlightCallsign: "BA123", BayID: 5})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, "INTERNAL", Code(err))

	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, uint64(0), bus.Seq())
	assert.Equal(t, int64(1), c.nextID)
}

func TestCoordinator_LateJoinerSeesAppliedState(t *testing.T) {
	ctx := context.Background()
	c, _, early := newTestCoordinator(t)

	// Each cycle emits four or five events.
	for i := 0; i < 250; i++ {
		bay := int64(i%24 + 1)
		req := submit(t, c, "crew", fmt.Sprintf("RUN%d", i), bay)
		if i%2 == 0 {
			_, err := c.Deny(ctx, req.ID)
			require.NoError(t, err)
			continue
		}
		_, err := c.Approve(ctx, req.ID)
		require.NoError(t, err)
		_, err = c.ForceRelease(ctx, bay, model.RoleATC)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, c.Seq(), uint64(1000))

	late := &recorder{}
	require.True(t, c.Subscribe("late", late))
	initial := late.envs[0]
	assert.Equal(t, c.Seq(), initial.Seq)

	replayed := replay(t, early.envs[0].Event.(model.InitialState).Snapshot, early.envs[1:])
	assert.Equal(t, replayed, initial.Event.(model.InitialState).Snapshot)

	req := submit(t, c, "crew", "LATE1", 3)
	require.Len(t, late.envs, 3)
	assert.Equal(t, initial.Seq+1, late.envs[1].Seq)
	assert.Equal(t, req, late.envs[1].Event.(model.NewRequest).Request)
}

// replay applies a stream of events to a snapshot the way a client view does.
func replay(t *testing.T, snap model.Snapshot, envs []*events.Envelope) model.Snapshot {
	t.Helper()
	bays := make(map[int64]model.Bay)
	for _, b := range snap.Bays {
		bays[b.ID] = b
	}
	reqs := make(map[int64]model.Request)
	for _, r := range snap.Requests {
		reqs[r.ID] = r
	}
	for _, env := range envs {
		switch ev := env.Event.(type) {
		case model.NewRequest:
			reqs[ev.Request.ID] = ev.Request
		case model.RequestResolved:
			reqs[ev.Request.ID] = ev.Request
		case model.AlternativeSuggested:
			reqs[ev.Request.ID] = ev.Request
		case model.RequestCancelled:
			delete(reqs, ev.RequestID)
		case model.BayUpdated:
			bays[ev.Bay.ID] = ev.Bay
		default:
			t.Fatalf("unexpected event %s in stream", ev.Type())
		}
	}
	out := model.Snapshot{Bays: make([]model.Bay, 0, len(bays)), Requests: make([]model.Request, 0, len(reqs))}
	for _, b := range bays {
		out.Bays = append(out.Bays, b)
	}
	for _, r := range reqs {
		out.Requests = append(out.Requests, r)
	}
	out.Sort()
	return out
}
