package session

import (
	"context"
	"time"

	"standup_attendance_service/internal/domain/ledger"
	"standup_attendance_service/internal/domain/roster"
)

// FinalizeResult is the outcome of a finalize attempt. AlreadyFinalized is
// true when another caller won the status CAS first; the committed ledger is
// returned either way so that racing callers observe the same result.
type FinalizeResult struct {
	AlreadyFinalized bool
	Session          *Session
	Records          []*ledger.Record
}

// Repository defines persistence operations for Session documents and their
// attendance marks. Implementations must honor the concurrency contract of
// the session store: per-mark writes are atomic field-level merges guarded by
// the session being ACTIVE, and Finalize arbitrates racing callers through a
// compare-and-swap on the status column.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByKey(ctx context.Context, key Key) (*Session, error)
	// Reschedule moves the scheduled time of a still-SCHEDULED session.
	Reschedule(ctx context.Context, key Key, at time.Time, by string) error
	// Activate flips SCHEDULED -> ACTIVE and stamps startedAt exactly once.
	// Returns false when the session was not in SCHEDULED (already active or
	// ended); the caller decides whether that is a no-op or a violation.
	Activate(ctx context.Context, key Key, startedAt time.Time) (bool, error)

	// UpsertMark performs the field-level merge of a single participant's
	// mark. Fails with ErrSessionNotActive when the session is not ACTIVE at
	// write time. Each successful merge is published as one change event.
	UpsertMark(ctx context.Context, m *Mark) error
	ListMarks(ctx context.Context, key Key) ([]*Mark, error)

	// Finalize atomically flips ACTIVE -> ENDED and materializes one
	// attendance record per roster participant in the same transaction. The
	// CAS loser gets the already-committed result with AlreadyFinalized set.
	Finalize(ctx context.Context, key Key, endedAt time.Time, participants []*roster.Participant) (*FinalizeResult, error)

	// ListDueForActivation returns SCHEDULED sessions whose scheduled time
	// is at or before now.
	ListDueForActivation(ctx context.Context, now time.Time) ([]*Session, error)
	// ListActiveScheduledBefore returns ACTIVE sessions whose scheduled time
	// is at or before cutoff; the watcher derives cutoff = now - gracePeriod.
	ListActiveScheduledBefore(ctx context.Context, cutoff time.Time) ([]*Session, error)
}

// ChangeEvent is one delta of the session document, published to every
// subscriber after each committed write. Kind is "mark" for field-level
// merges of the attendance map and "status" for lifecycle transitions.
type ChangeEvent struct {
	SessionKey    string    `json:"session_key"`
	Kind          string    `json:"kind"`
	ParticipantID int64     `json:"participant_id,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

const (
	ChangeKindMark   = "mark"
	ChangeKindStatus = "status"
)
