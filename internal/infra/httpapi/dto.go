package httpapi

import (
	"time"

	"standup_attendance_service/internal/domain/ledger"
	"standup_attendance_service/internal/domain/session"
)

type scheduleRequest struct {
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
}

type markRequest struct {
	Status string `json:"status" validate:"required,oneof=PRESENT NOT_AVAILABLE MISSED"`
	Reason string `json:"reason" validate:"required_if=Status NOT_AVAILABLE"`
}

type sessionResponse struct {
	Key           string     `json:"key"`
	Status        string     `json:"status"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	ScheduledBy   string     `json:"scheduled_by"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

type markResponse struct {
	ParticipantID int64     `json:"participant_id"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	MarkedBy      string    `json:"marked_by"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type snapshotResponse struct {
	Session sessionResponse `json:"session"`
	Marks   []markResponse  `json:"marks"`
}

type recordResponse struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"session_key"`
	ParticipantID int64     `json:"participant_id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

type finalizeResponse struct {
	AlreadyFinalized bool             `json:"already_finalized"`
	Session          sessionResponse  `json:"session"`
	Records          []recordResponse `json:"records"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	resp := sessionResponse{
		Key:           s.Key.String(),
		Status:        string(s.Status),
		ScheduledTime: s.ScheduledTime,
		ScheduledBy:   s.ScheduledBy,
	}
	if s.StartedAt.Valid {
		t := s.StartedAt.Time
		resp.StartedAt = &t
	}
	if s.EndedAt.Valid {
		t := s.EndedAt.Time
		resp.EndedAt = &t
	}
	return resp
}

func toSnapshotResponse(snap *session.Snapshot) snapshotResponse {
	marks := make([]markResponse, 0, len(snap.Marks))
	for _, m := range snap.Marks {
		marks = append(marks, markResponse{
			ParticipantID: m.ParticipantID,
			Status:        string(m.Status),
			Reason:        m.Reason.String,
			MarkedBy:      m.MarkedBy,
			UpdatedAt:     m.UpdatedAt,
		})
	}
	return snapshotResponse{Session: toSessionResponse(&snap.Session), Marks: marks}
}

func toRecordResponses(records []*ledger.Record) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{
			ID:            r.ID.String(),
			SessionKey:    r.SessionKey,
			ParticipantID: r.ParticipantID,
			FullName:      r.FullName,
			Email:         r.Email,
			Status:        r.Status,
			Reason:        r.Reason.String,
			ScheduledTime: r.ScheduledTime,
			FinalizedAt:   r.FinalizedAt,
		})
	}
	return out
}
