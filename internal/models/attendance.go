package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is the per (identity, date) row. Once both times are set
// the record is terminal for that date.
type AttendanceRecord struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	IdentityID uuid.UUID  `json:"identity_id" db:"identity_id"`
	Date       time.Time  `json:"date" db:"date"`
	CheckIn    *time.Time `json:"check_in,omitempty" db:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty" db:"check_out"`
}

type AttendanceState string

const (
	StateUnmarked   AttendanceState = "unmarked"
	StateCheckedIn  AttendanceState = "checked_in"
	StateCheckedOut AttendanceState = "checked_out"
)

func (r *AttendanceRecord) State() AttendanceState {
	switch {
	case r == nil || r.CheckIn == nil:
		return StateUnmarked
	case r.CheckOut == nil:
		return StateCheckedIn
	default:
		return StateCheckedOut
	}
}

type EventKind string

const (
	EventCheckedIn         EventKind = "checked_in"
	EventAlreadyCheckedIn  EventKind = "already_checked_in"
	EventCheckedOut        EventKind = "checked_out"
	EventAlreadyCheckedOut EventKind = "already_checked_out"
)

// AttendanceEvent is emitted for every gated recognition.
type AttendanceEvent struct {
	Kind       EventKind  `json:"kind"`
	IdentityID uuid.UUID  `json:"identity_id"`
	Name       string     `json:"name"`
	Camera     string     `json:"camera"`
	Date       string     `json:"date"` // YYYY-MM-DD
	At         time.Time  `json:"at"`
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
}

// Transition reports whether the event changed the stored record.
func (e AttendanceEvent) Transition() bool {
	return e.Kind == EventCheckedIn || e.Kind == EventCheckedOut
}

// AttendanceRow is a record joined with its identity, used by reports.
type AttendanceRow struct {
	AttendanceRecord
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// Sighting is an audit row written for every gated recognition.
type Sighting struct {
	ID          uuid.UUID `json:"id" db:"id"`
	IdentityID  uuid.UUID `json:"identity_id" db:"identity_id"`
	Camera      string    `json:"camera" db:"camera"`
	Distance    float64   `json:"distance" db:"distance"`
	Embedding   []float32 `json:"-" db:"embedding"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"`
	Event       EventKind `json:"event" db:"event"`
	SeenAt      time.Time `json:"seen_at" db:"seen_at"`
}
