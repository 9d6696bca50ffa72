package client

import (
	"errors"
	"fmt"
	"sync"

	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
)

var (
	// ErrSequenceGap means an event was missed and the view must be rebuilt
	// from a fresh InitialState.
	ErrSequenceGap = errors.New("event sequence gap")
	ErrNotSynced   = errors.New("view has no initial state")
)

// View is a client-side replica of the bay table and request ledger built
// from one InitialState plus the contiguous event stream after it.
type View struct {
	mu       sync.RWMutex
	synced   bool
	seq      uint64
	bays     map[int64]model.Bay
	requests map[int64]model.Request
}

// NewView creates an empty, unsynced view.
func NewView() *View {
	return &View{
		bays:     make(map[int64]model.Bay),
		requests: make(map[int64]model.Request),
	}
}

// Apply folds env into the view. An InitialState replaces everything; any
// other event must carry the next sequence number.
func (v *View) Apply(env *events.Envelope) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if initial, ok := env.Event.(model.InitialState); ok {
		v.bays = make(map[int64]model.Bay, len(initial.Bays))
		v.requests = make(map[int64]model.Request, len(initial.Requests))
		for _, b := range initial.Bays {
			v.bays[b.ID] = b
		}
		for _, r := range initial.Requests {
			v.requests[r.ID] = r
		}
		v.seq = env.Seq
		v.synced = true
		return nil
	}

	if !v.synced {
		return ErrNotSynced
	}
	if env.Seq != v.seq+1 {
		return fmt.Errorf("%w: at %d, received %d", ErrSequenceGap, v.seq, env.Seq)
	}

	switch ev := env.Event.(type) {
	case model.NewRequest:
		v.requests[ev.Request.ID] = ev.Request
	case model.RequestResolved:
		v.requests[ev.Request.ID] = ev.Request
	case model.AlternativeSuggested:
		v.requests[ev.Request.ID] = ev.Request
	case model.RequestCancelled:
		delete(v.requests, ev.RequestID)
	case model.BayUpdated:
		v.bays[ev.Bay.ID] = ev.Bay
	}
	v.seq = env.Seq
	return nil
}

// Reset drops all state; the next event accepted must be an InitialState.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.synced = false
	v.seq = 0
	v.bays = make(map[int64]model.Bay)
	v.requests = make(map[int64]model.Request)
}

// Synced reports whether the view holds an InitialState.
func (v *View) Synced() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.synced
}

// Seq returns the sequence of the last applied event.
func (v *View) Seq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// Bay returns a bay from the view.
func (v *View) Bay(id int64) (model.Bay, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.bays[id]
	return b, ok
}

// Snapshot returns a sorted copy of the view.
func (v *View) Snapshot() model.Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := model.Snapshot{
		Bays:     make([]model.Bay, 0, len(v.bays)),
		Requests: make([]model.Request, 0, len(v.requests)),
	}
	for _, b := range v.bays {
		snap.Bays = append(snap.Bays, b)
	}
	for _, r := range v.requests {
		snap.Requests = append(snap.Requests, r)
	}
	snap.Sort()
	return snap
}
