package model

import (
	"time"

	"gorm.io/gorm"
)

// RequestStatus is the resolution state of an allocation request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// Request is a requester's ask to occupy a specific bay.
type Request struct {
	ID             int64         `gorm:"primaryKey" json:"id"`
	UserID         string        `gorm:"size:64;index;not null" json:"userId"`
	FlightCallsign string        `gorm:"size:8;not null" json:"flightCallsign"`
	RequestedBayID int64         `gorm:"index;not null" json:"requestedBayId"`
	SuggestedBayID *int64        `json:"suggestedBayId"`
	Status         RequestStatus `gorm:"size:16;index;not null;default:pending" json:"status"`
	Notes          *string       `json:"notes"`
	ResponseNotes  *string       `json:"responseNotes"`
	RequestedAt    time.Time     `gorm:"not null" json:"requestedAt"`
	RespondedAt    *time.Time    `json:"respondedAt"`

	// Cancelled requests are soft-deleted so their ids are never handed out again.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsOpen reports whether the request still awaits a resolution.
func (r Request) IsOpen() bool {
	return r.Status == RequestPending
}

// resolve moves the request out of Pending. RespondedAt is only ever set once.
func (r *Request) resolve(status RequestStatus, at time.Time) {
	r.Status = status
	if r.RespondedAt == nil {
		r.RespondedAt = &at
	}
}

// Approve marks the request Approved at the given time.
func (r *Request) Approve(at time.Time) { r.resolve(RequestApproved, at) }

// Deny marks the request Denied at the given time.
func (r *Request) Deny(at time.Time) { r.resolve(RequestDenied, at) }

// StringPtr returns nil for an empty string so optional text columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
