package ledger

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable attendance ledger entry: the resolved status of one
// participant for one session, snapshotted at finalize time. Once written for
// a (session, participant) pair it is never mutated or duplicated.
// Corresponds to the 'attendance_records' table.
type Record struct {
	ID            uuid.UUID
	SessionKey    string
	ParticipantID int64
	FullName      string
	Email         string
	Status        string
	Reason        sql.NullString
	ScheduledTime time.Time
	FinalizedAt   time.Time
	CreatedAt     time.Time
}
