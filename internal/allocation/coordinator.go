package allocation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
	"bay-allocation-backend/internal/parse"
	"bay-allocation-backend/internal/store"
)

// Publisher is the event bus the coordinator commits into.
type Publisher interface {
	Publish(evts ...model.Event) uint64
	Attach(id string, sub events.Subscriber, initial model.Event) bool
	Unsubscribe(id string)
	Seq() uint64
	Advance(seq uint64)
}

// Coordinator owns the bay table and the request ledger. Every mutation runs
// under one write lock together with its persistence and event emission, so
// snapshots never observe a half-applied transition and the event stream
// follows commit order.
type Coordinator struct {
	mu       sync.RWMutex
	bays     map[int64]model.Bay
	requests map[int64]model.Request
	nextID   int64

	store store.Store
	bus   Publisher
	now   func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New loads the current bays and requests from s and returns a coordinator
// publishing into bus.
func New(ctx context.Context, s store.Store, bus Publisher, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		bays:     make(map[int64]model.Bay),
		requests: make(map[int64]model.Request),
		nextID:   1,
		store:    s,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}

	bays, err := s.ListBays(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bays: %w", err)
	}
	requests, err := s.ListRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}
	for _, b := range bays {
		c.bays[b.ID] = b
	}
	for _, r := range requests {
		c.requests[r.ID] = r
	}
	lastID, err := s.LastRequestID(ctx)
	if err != nil {
		return nil, err
	}
	c.nextID = lastID + 1
	seq, err := s.LastSeq(ctx)
	if err != nil {
		return nil, err
	}
	bus.Advance(seq)

	if err := c.snapshotLocked().Validate(); err != nil {
		log.Printf("Warning: loaded allocation state is inconsistent: %v", err)
	}
	log.Printf("Allocation state loaded: %d bays, %d requests, next request id %d, event seq %d", len(bays), len(requests), c.nextID, bus.Seq())
	return c, nil
}

// SubmitInput is the input of Submit.
type SubmitInput struct {
	UserID         string `json:"userId" validate:"required,max=64"`
	FlightCallsign string `json:"flightCallsign" validate:"required,callsign"`
	BayID          int64  `json:"requestedBayId" validate:"required,gt=0"`
	Notes          string `json:"notes" validate:"max=500"`
}

// Submit creates a Pending request for a Free bay and moves the bay to Pending.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (model.Request, error) {
	if err := validateStruct(in); err != nil {
		return model.Request{}, err
	}
	callsign, err := parse.Callsign(in.FlightCallsign)
	if err != nil {
		return model.Request{}, invalid("flightCallsign", err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bay, ok := c.bays[in.BayID]
	if !ok {
		return model.Request{}, fmt.Errorf("%w: bay %d does not exist", ErrInvalidBay, in.BayID)
	}
	if bay.Status != model.BayFree {
		return model.Request{}, fmt.Errorf("%w: bay %d is %s", ErrBayUnavailable, bay.Number, bay.Status)
	}

	req := model.Request{
		ID:             c.nextID,
		UserID:         in.UserID,
		FlightCallsign: callsign,
		RequestedBayID: bay.ID,
		Status:         model.RequestPending,
		Notes:          model.StringPtr(in.Notes),
		RequestedAt:    c.now(),
	}
	bay.Status = model.BayPending

	err = c.commit(ctx,
		store.Mutation{Bays: []model.Bay{bay}, Requests: []model.Request{req}},
		model.NewRequest{Request: req},
		model.BayUpdated{Bay: bay},
	)
	if err != nil {
		return model.Request{}, err
	}
	c.nextID++
	return req, nil
}

// Approve resolves a pending request and marks its bay Occupied by the flight.
func (c *Coordinator) Approve(ctx context.Context, requestID int64) (model.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.openRequestLocked(requestID)
	if err != nil {
		return model.Request{}, err
	}
	bay := c.bays[req.RequestedBayID]
	if bay.Status != model.BayPending {
		return model.Request{}, fmt.Errorf("%w: bay %d is %s, not pending", ErrInvalidState, bay.Number, bay.Status)
	}

	req.Approve(c.now())
	bay.Occupy(req.FlightCallsign)

	err = c.commit(ctx,
		store.Mutation{Bays: []model.Bay{bay}, Requests: []model.Request{req}},
		model.RequestResolved{Request: req},
		model.BayUpdated{Bay: bay},
	)
	if err != nil {
		return model.Request{}, err
	}
	return req, nil
}

// Deny resolves a pending request as Denied. The bay reverts to Free only if
// it is still Pending.
func (c *Coordinator) Deny(ctx context.Context, requestID int64) (model.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.openRequestLocked(requestID)
	if err != nil {
		return model.Request{}, err
	}
	bay := c.bays[req.RequestedBayID]

	req.Deny(c.now())
	if bay.Status == model.BayPending {
		bay.Free()
	}

	err = c.commit(ctx,
		store.Mutation{Bays: []model.Bay{bay}, Requests: []model.Request{req}},
		model.RequestResolved{Request: req},
		model.BayUpdated{Bay: bay},
	)
	if err != nil {
		return model.Request{}, err
	}
	return req, nil
}

// Decision is the authority's answer to a request.
type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionDeny    Decision = "denied"
)

// Resolve applies an approve or deny decision.
func (c *Coordinator) Resolve(ctx context.Context, requestID int64, d Decision) (model.Request, error) {
	switch d {
	case DecisionApprove:
		return c.Approve(ctx, requestID)
	case DecisionDeny:
		return c.Deny(ctx, requestID)
	default:
		return model.Request{}, invalid("status", fmt.Sprintf("must be %q or %q", DecisionApprove, DecisionDeny))
	}
}

// SuggestAlternative proposes another bay for a pending request without
// changing its status. The suggested bay is not required to be Free.
func (c *Coordinator) SuggestAlternative(ctx context.Context, requestID, suggestedBayID int64, notes string) (model.Request, error) {
	if suggestedBayID <= 0 {
		return model.Request{}, invalid("suggestedBayId", "is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.openRequestLocked(requestID)
	if err != nil {
		return model.Request{}, err
	}
	if _, ok := c.bays[suggestedBayID]; !ok {
		return model.Request{}, fmt.Errorf("%w: bay %d does not exist", ErrInvalidBay, suggestedBayID)
	}
	if suggestedBayID == req.RequestedBayID {
		return model.Request{}, invalid("suggestedBayId", "must differ from the requested bay")
	}

	req.SuggestedBayID = &suggestedBayID
	req.ResponseNotes = model.StringPtr(notes)

	err = c.commit(ctx,
		store.Mutation{Requests: []model.Request{req}},
		model.AlternativeSuggested{Request: req},
	)
	if err != nil {
		return model.Request{}, err
	}
	return req, nil
}

// AcceptAlternative re-targets a pending request to its suggested bay and
// approves it there, freeing the originally requested bay.
func (c *Coordinator) AcceptAlternative(ctx context.Context, requestID int64) (model.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return model.Request{}, fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}
	if req.SuggestedBayID == nil {
		return model.Request{}, fmt.Errorf("%w: request %d", ErrNoSuggestionPending, requestID)
	}
	if !req.IsOpen() {
		return model.Request{}, fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, requestID, req.Status)
	}
	target, ok := c.bays[*req.SuggestedBayID]
	if !ok {
		return model.Request{}, fmt.Errorf("%w: bay %d does not exist", ErrInvalidBay, *req.SuggestedBayID)
	}
	if target.Status != model.BayFree {
		return model.Request{}, fmt.Errorf("%w: bay %d is %s", ErrBayUnavailable, target.Number, target.Status)
	}

	original := c.bays[req.RequestedBayID]
	if original.Status == model.BayPending {
		original.Free()
	}

	req.RequestedBayID = target.ID
	req.SuggestedBayID = nil
	req.Approve(c.now())
	target.Occupy(req.FlightCallsign)

	err := c.commit(ctx,
		store.Mutation{Bays: []model.Bay{original, target}, Requests: []model.Request{req}},
		model.RequestResolved{Request: req},
		model.BayUpdated{Bay: original},
		model.BayUpdated{Bay: target},
	)
	if err != nil {
		return model.Request{}, err
	}
	return req, nil
}

// Cancel deletes a pending request and frees its bay.
func (c *Coordinator) Cancel(ctx context.Context, requestID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}
	if !req.IsOpen() {
		return fmt.Errorf("%w: request %d is %s", ErrNotCancelable, requestID, req.Status)
	}
	bay := c.bays[req.RequestedBayID]
	if bay.Status == model.BayPending {
		bay.Free()
	}

	return c.commit(ctx,
		store.Mutation{Bays: []model.Bay{bay}, DeletedRequestIDs: []int64{requestID}},
		model.RequestCancelled{RequestID: requestID},
		model.BayUpdated{Bay: bay},
	)
}

// ForceRelease frees an Occupied bay. Only the authority role may do this.
func (c *Coordinator) ForceRelease(ctx context.Context, bayID int64, role model.Role) (model.Bay, error) {
	if role != model.RoleATC {
		return model.Bay{}, fmt.Errorf("%w: only %s may release bays", ErrForbidden, model.RoleATC)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bay, ok := c.bays[bayID]
	if !ok {
		return model.Bay{}, fmt.Errorf("%w: bay %d", ErrNotFound, bayID)
	}
	if bay.Status != model.BayOccupied {
		return model.Bay{}, fmt.Errorf("%w: bay %d is %s, only occupied bays can be released", ErrInvalidState, bay.Number, bay.Status)
	}
	bay.Free()

	if err := c.commit(ctx, store.Mutation{Bays: []model.Bay{bay}}, model.BayUpdated{Bay: bay}); err != nil {
		return model.Bay{}, err
	}
	return bay, nil
}

// Subscribe attaches sub to the event stream. sub first receives an
// InitialState with the full current state, then every event committed
// after it. Returns false if sub refused the snapshot.
func (c *Coordinator) Subscribe(id string, sub events.Subscriber) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bus.Attach(id, sub, model.InitialState{Snapshot: c.snapshotLocked()})
}

// Unsubscribe detaches the subscriber registered under id.
func (c *Coordinator) Unsubscribe(id string) {
	c.bus.Unsubscribe(id)
}

// Seq returns the sequence of the last committed event.
func (c *Coordinator) Seq() uint64 {
	return c.bus.Seq()
}

// Snapshot returns a copy of the full current state.
func (c *Coordinator) Snapshot() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Bays returns every bay ordered by id.
func (c *Coordinator) Bays() []model.Bay {
	return c.Snapshot().Bays
}

// Bay returns a single bay.
func (c *Coordinator) Bay(id int64) (model.Bay, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bay, ok := c.bays[id]
	if !ok {
		return model.Bay{}, fmt.Errorf("%w: bay %d", ErrNotFound, id)
	}
	return bay, nil
}

// Request returns a single request.
func (c *Coordinator) Request(id int64) (model.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.requests[id]
	if !ok {
		return model.Request{}, fmt.Errorf("%w: request %d", ErrNotFound, id)
	}
	return req, nil
}

// Requests returns the requests matching filter ordered by id.
func (c *Coordinator) Requests(filter store.RequestFilter) []model.Request {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Request, 0, len(c.requests))
	for _, r := range c.requests {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.BayID != 0 && r.RequestedBayID != filter.BayID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) openRequestLocked(id int64) (model.Request, error) {
	req, ok := c.requests[id]
	if !ok {
		return model.Request{}, fmt.Errorf("%w: request %d", ErrNotFound, id)
	}
	if !req.IsOpen() {
		return model.Request{}, fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, id, req.Status)
	}
	return req, nil
}

func (c *Coordinator) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Bays:     make([]model.Bay, 0, len(c.bays)),
		Requests: make([]model.Request, 0, len(c.requests)),
	}
	for _, b := range c.bays {
		snap.Bays = append(snap.Bays, b)
	}
	for _, r := range c.requests {
		snap.Requests = append(snap.Requests, r)
	}
	snap.Sort()
	return snap
}

// commit persists m, applies it to the in-memory tables and publishes evts.
// Must be called with c.mu held for writing. A persistence failure leaves
// the in-memory state untouched.
func (c *Coordinator) commit(ctx context.Context, m store.Mutation, evts ...model.Event) error {
	// Only commit publishes, so the bus numbers evts from here.
	m.Seq = c.bus.Seq() + uint64(len(evts))
	if err := c.store.Apply(context.WithoutCancel(ctx), m); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	for _, b := range m.Bays {
		c.bays[b.ID] = b
	}
	for _, r := range m.Requests {
		c.requests[r.ID] = r
	}
	for _, id := range m.DeletedRequestIDs {
		delete(c.requests, id)
	}
	c.bus.Publish(evts...)
	return nil
}
