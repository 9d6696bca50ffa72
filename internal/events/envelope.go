package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"bay-allocation-backend/internal/model"
)

// Frame is the wire shape of every message on a long-lived connection.
type Frame struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is an event stamped with its position in the commit order.
// Seq of an InitialState envelope is the sequence of the last event the
// snapshot already includes.
type Envelope struct {
	Seq   uint64
	Event model.Event

	once  sync.Once
	frame []byte
	err   error
}

// NewEnvelope wraps an event at the given sequence.
func NewEnvelope(seq uint64, ev model.Event) *Envelope {
	return &Envelope{Seq: seq, Event: ev}
}

// Frame returns the JSON encoding of the envelope. It is computed once and
// shared by every subscriber.
func (e *Envelope) Frame() ([]byte, error) {
	e.once.Do(func() {
		payload, err := json.Marshal(e.Event)
		if err != nil {
			e.err = fmt.Errorf("failed to marshal %s payload: %w", e.Event.Type(), err)
			return
		}
		e.frame, e.err = json.Marshal(Frame{
			Type:    string(e.Event.Type()),
			Seq:     e.Seq,
			Payload: payload,
		})
	})
	return e.frame, e.err
}

// DecodeEnvelope parses an event frame produced by Frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return f.Envelope()
}

// Envelope decodes the frame's payload as an event.
func (f Frame) Envelope() (*Envelope, error) {
	ev, err := model.DecodeEvent(model.EventType(f.Type), f.Payload)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(f.Seq, ev), nil
}
