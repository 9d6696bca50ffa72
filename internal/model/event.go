package model

import (
	"encoding/json"
	"fmt"
)

// EventType names a kind of event on the real-time stream.
type EventType string

const (
	EventInitialState         EventType = "INITIAL_STATE"
	EventNewRequest           EventType = "NEW_REQUEST"
	EventRequestResolved      EventType = "REQUEST_RESOLVED"
	EventAlternativeSuggested EventType = "ALTERNATIVE_SUGGESTED"
	EventRequestCancelled     EventType = "REQUEST_CANCELLED"
	EventBayUpdated           EventType = "BAY_UPDATED"
)

// Event is a committed state transition (or the initial snapshot). The set of
// implementations is closed: only the types in this file satisfy it.
type Event interface {
	Type() EventType
	event()
}

// InitialState carries the full state a connection starts from.
type InitialState struct {
	Snapshot
}

// NewRequest is emitted when a request is submitted.
type NewRequest struct {
	Request Request `json:"request"`
}

// RequestResolved is emitted when a request is approved or denied.
type RequestResolved struct {
	Request Request `json:"request"`
}

// AlternativeSuggested is emitted when the authority proposes another bay.
type AlternativeSuggested struct {
	Request Request `json:"request"`
}

// RequestCancelled is emitted when a pending request is withdrawn.
type RequestCancelled struct {
	RequestID int64 `json:"requestId"`
}

// BayUpdated carries a bay's state after a transition.
type BayUpdated struct {
	Bay Bay `json:"bay"`
}

func (InitialState) Type() EventType         { return EventInitialState }
func (NewRequest) Type() EventType           { return EventNewRequest }
func (RequestResolved) Type() EventType      { return EventRequestResolved }
func (AlternativeSuggested) Type() EventType { return EventAlternativeSuggested }
func (RequestCancelled) Type() EventType     { return EventRequestCancelled }
func (BayUpdated) Type() EventType           { return EventBayUpdated }

func (InitialState) event()         {}
func (NewRequest) event()           {}
func (RequestResolved) event()      {}
func (AlternativeSuggested) event() {}
func (RequestCancelled) event()     {}
func (BayUpdated) event()           {}

// DecodeEvent decodes a payload of the given type into its concrete event.
func DecodeEvent(t EventType, payload json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch t {
	case EventInitialState:
		var e InitialState
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventNewRequest:
		var e NewRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventRequestResolved:
		var e RequestResolved
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventAlternativeSuggested:
		var e AlternativeSuggested
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventRequestCancelled:
		var e RequestCancelled
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventBayUpdated:
		var e BayUpdated
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return ev, nil
}
