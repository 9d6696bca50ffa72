package model

// CheckpointID is the primary key of the single Checkpoint row.
const CheckpointID = 1

// Checkpoint records the sequence of the last committed event so the event
// stream continues where it stopped after a restart.
type Checkpoint struct {
	ID  int   `gorm:"primaryKey"`
	Seq int64 `gorm:"not null"`
}
