package session

import (
	"database/sql"
	"fmt"
	"time"
)

// Key identifies the single standup session of one calendar day.
// It is always passed into core operations explicitly; the core never
// derives "today" from the wall clock on its own.
type Key string

const keyLayout = "2006-01-02"

// NewKey derives the session key for the calendar day of t, in t's location.
func NewKey(t time.Time) Key {
	return Key(t.Format(keyLayout))
}

// ParseKey validates a raw date string (YYYY-MM-DD) and returns it as a Key.
func ParseKey(raw string) (Key, error) {
	if _, err := time.Parse(keyLayout, raw); err != nil {
		return "", fmt.Errorf("invalid session key %q: %w", raw, err)
	}
	return Key(raw), nil
}

func (k Key) String() string { return string(k) }

// Status is the lifecycle state of a session. Transitions are forward-only:
// SCHEDULED -> ACTIVE -> ENDED, with ENDED terminal.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusEnded     Status = "ENDED"
)

// CanTransitionTo reports whether advancing from s to next is a valid
// lifecycle step.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusActive
	case StatusActive:
		return next == StatusEnded
	default:
		return false
	}
}

// AttendanceStatus is the per-participant mark held in the transient
// attendance map while a session is active, and snapshotted into the ledger
// at finalize time.
type AttendanceStatus string

const (
	AttendancePresent      AttendanceStatus = "PRESENT"
	AttendanceNotAvailable AttendanceStatus = "NOT_AVAILABLE"
	AttendanceMissed       AttendanceStatus = "MISSED"
)

// ParseAttendanceStatus maps a raw status string to a known mark value.
func ParseAttendanceStatus(raw string) (AttendanceStatus, error) {
	switch AttendanceStatus(raw) {
	case AttendancePresent, AttendanceNotAvailable, AttendanceMissed:
		return AttendanceStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown attendance status: %q", raw)
	}
}

// Session is the per-day standup document.
// Corresponds to the 'standup_sessions' table.
type Session struct {
	Key           Key
	Status        Status
	ScheduledTime time.Time
	ScheduledBy   string
	StartedAt     sql.NullTime
	EndedAt       sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deadline is the instant after which the timeout watcher may auto-close
// the session.
func (s *Session) Deadline(gracePeriod time.Duration) time.Time {
	return s.ScheduledTime.Add(gracePeriod)
}

// Mark is a single entry of the transient attendance map: one participant's
// status (and, for NOT_AVAILABLE, a reason) within one session.
// Corresponds to one row of the 'attendance_marks' table; upserting a row is
// the field-level merge of the session document.
type Mark struct {
	SessionKey    Key
	ParticipantID int64
	Status        AttendanceStatus
	Reason        sql.NullString
	MarkedBy      string
	UpdatedAt     time.Time
}

// Snapshot is the read-only view returned by Query: the session plus its
// current transient attendance map.
type Snapshot struct {
	Session Session
	Marks   []*Mark
}
