package session

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"standup_attendance_service/internal/domain/ledger"
	"standup_attendance_service/internal/domain/roster"
)

// FallbackReason is stored when a NOT_AVAILABLE mark somehow reaches
// finalization without a reason. The mutation gateway validates reasons at
// write time, so this value should not normally appear in the ledger.
const FallbackReason = "No reason provided"

// ResolveRecords materializes the permanent attendance ledger for a session:
// one record per non-archived roster participant, resolved from the transient
// marks, defaulting to MISSED for participants that were never marked.
func ResolveRecords(s *Session, marks []*Mark, participants []*roster.Participant, finalizedAt time.Time) []*ledger.Record {
	byParticipant := make(map[int64]*Mark, len(marks))
	for _, m := range marks {
		byParticipant[m.ParticipantID] = m
	}

	records := make([]*ledger.Record, 0, len(participants))
	for _, p := range participants {
		if p.IsArchived {
			continue
		}

		status := AttendanceMissed
		reason := sql.NullString{}
		if m, ok := byParticipant[p.ID]; ok {
			status = m.Status
			if status == AttendanceNotAvailable {
				reason = m.Reason
				if !reason.Valid || reason.String == "" {
					reason = sql.NullString{String: FallbackReason, Valid: true}
				}
			}
		}

		records = append(records, &ledger.Record{
			ID:            uuid.New(),
			SessionKey:    s.Key.String(),
			ParticipantID: p.ID,
			FullName:      p.FullName,
			Email:         p.Email,
			Status:        string(status),
			Reason:        reason,
			ScheduledTime: s.ScheduledTime,
			FinalizedAt:   finalizedAt,
		})
	}
	return records
}
