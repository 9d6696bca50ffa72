package store

import (
	"errors"

	"bay-allocation-backend/internal/model"
)

// ErrNotFound is returned by point lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// Mutation is the set of writes produced by one committed transition.
// Apply persists all of it or none of it.
type Mutation struct {
	Bays              []model.Bay
	Requests          []model.Request
	DeletedRequestIDs []int64
	// Seq, when non-zero, is the sequence of the last event the transition
	// emits. It is saved as the checkpoint.
	Seq uint64
}

// Empty reports whether the mutation writes nothing.
func (m Mutation) Empty() bool {
	return len(m.Bays) == 0 && len(m.Requests) == 0 && len(m.DeletedRequestIDs) == 0 && m.Seq == 0
}

// RequestFilter narrows FindRequests. Zero-valued fields match everything.
type RequestFilter struct {
	UserID string
	Status model.RequestStatus
	BayID  int64
}
