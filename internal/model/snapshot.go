package model

import (
	"errors"
	"fmt"
	"sort"
)

// Snapshot is a point-in-time copy of every bay and request.
type Snapshot struct {
	Bays     []Bay     `json:"bays"`
	Requests []Request `json:"requests"`
}

// Sort orders bays and requests by id.
func (s *Snapshot) Sort() {
	sort.Slice(s.Bays, func(i, j int) bool { return s.Bays[i].ID < s.Bays[j].ID })
	sort.Slice(s.Requests, func(i, j int) bool { return s.Requests[i].ID < s.Requests[j].ID })
}

// Validate checks the cross-record invariants between bays and requests and
// returns every violation found.
func (s Snapshot) Validate() error {
	bays := make(map[int64]Bay, len(s.Bays))
	for _, b := range s.Bays {
		bays[b.ID] = b
	}

	var errs []error
	openByBay := make(map[int64]int)
	for _, r := range s.Requests {
		if _, ok := bays[r.RequestedBayID]; !ok {
			errs = append(errs, fmt.Errorf("request %d references unknown bay %d", r.ID, r.RequestedBayID))
		}
		if r.SuggestedBayID != nil {
			if _, ok := bays[*r.SuggestedBayID]; !ok {
				errs = append(errs, fmt.Errorf("request %d suggests unknown bay %d", r.ID, *r.SuggestedBayID))
			} else if *r.SuggestedBayID == r.RequestedBayID {
				errs = append(errs, fmt.Errorf("request %d suggests its own bay %d", r.ID, r.RequestedBayID))
			}
		}
		if r.IsOpen() {
			openByBay[r.RequestedBayID]++
			if r.RespondedAt != nil {
				errs = append(errs, fmt.Errorf("pending request %d has a response time", r.ID))
			}
		} else if r.RespondedAt == nil {
			errs = append(errs, fmt.Errorf("%s request %d has no response time", r.Status, r.ID))
		}
	}

	for _, b := range s.Bays {
		open := openByBay[b.ID]
		switch b.Status {
		case BayPending:
			if open != 1 {
				errs = append(errs, fmt.Errorf("pending bay %d has %d open requests", b.Number, open))
			}
		case BayFree, BayOccupied:
			if open != 0 {
				errs = append(errs, fmt.Errorf("%s bay %d has %d open requests", b.Status, b.Number, open))
			}
		default:
			errs = append(errs, fmt.Errorf("bay %d has unknown status %q", b.Number, b.Status))
		}
		occupied := b.OccupantOrEmpty() != ""
		if occupied != (b.Status == BayOccupied) {
			errs = append(errs, fmt.Errorf("bay %d is %s with occupant %q", b.Number, b.Status, b.OccupantOrEmpty()))
		}
	}
	return errors.Join(errs...)
}
