package model

// BayStatus is the allocation state of a parking bay.
type BayStatus string

const (
	BayFree     BayStatus = "free"
	BayPending  BayStatus = "pending"
	BayOccupied BayStatus = "occupied"
)

// Bay represents an allocatable parking bay.
type Bay struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	Number   int       `gorm:"uniqueIndex;not null" json:"bayNumber"`
	Status   BayStatus `gorm:"size:16;not null;default:free" json:"status"`
	Occupant *string   `gorm:"column:current_flight;size:16" json:"currentFlight"`
}

// OccupantOrEmpty returns the occupying flight callsign, or "" for an unoccupied bay.
func (b Bay) OccupantOrEmpty() string {
	if b.Occupant == nil {
		return ""
	}
	return *b.Occupant
}

// Free reverts the bay to Free and clears its occupant.
func (b *Bay) Free() {
	b.Status = BayFree
	b.Occupant = nil
}

// Occupy marks the bay Occupied by the given flight.
func (b *Bay) Occupy(callsign string) {
	b.Status = BayOccupied
	b.Occupant = &callsign
}
