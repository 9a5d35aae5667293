package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"standup_attendance_service/internal/domain/roster"
	"standup_attendance_service/internal/domain/session"
)

// SessionChangesChannel is the Postgres NOTIFY channel carrying one
// session.ChangeEvent per committed write of the session document.
const SessionChangesChannel = "standup_session_changes"

// Custom errors specific to the session store
var (
	ErrSessionNotFound     = fmt.Errorf("session not found")
	ErrDuplicateSession    = fmt.Errorf("a session for this date already exists")
	ErrSessionNotActive    = fmt.Errorf("session is not active")
	ErrParticipantNotFound = fmt.Errorf("participant not found in roster")
	ErrBatchWriteFailed    = fmt.Errorf("attendance record batch write failed")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type PostgresSessionRepository struct {
	db *sql.DB
}

func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

const sessionColumns = `session_key, status, scheduled_time, scheduled_by, started_at, ended_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*session.Session, error) {
	s := &session.Session{}
	err := row.Scan(&s.Key, &s.Status, &s.ScheduledTime, &s.ScheduledBy, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSessionRepository) Create(ctx context.Context, s *session.Session) error {
	query := `INSERT INTO standup_sessions (session_key, status, scheduled_time, scheduled_by)
               VALUES ($1, $2, $3, $4)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, s.Key, s.Status, s.ScheduledTime, s.ScheduledBy).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateSession
		}
		return fmt.Errorf("error creating session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) GetByKey(ctx context.Context, key session.Key) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM standup_sessions WHERE session_key = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("error getting session by key: %w", err)
	}
	return s, nil
}

func (r *PostgresSessionRepository) Reschedule(ctx context.Context, key session.Key, at time.Time, by string) error {
	query := `UPDATE standup_sessions
               SET scheduled_time = $1, scheduled_by = $2, updated_at = NOW()
               WHERE session_key = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, at, by, key, session.StatusScheduled)
	if err != nil {
		return fmt.Errorf("error rescheduling session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking reschedule result: %w", err)
	}
	if affected == 0 {
		// Either the session vanished or it advanced past SCHEDULED between
		// the caller's check and this write.
		if _, err := r.GetByKey(ctx, key); err != nil {
			return err
		}
		return fmt.Errorf("session %s is no longer in SCHEDULED state", key)
	}
	return nil
}

func (r *PostgresSessionRepository) Activate(ctx context.Context, key session.Key, startedAt time.Time) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for activation: %w", err)
	}
	defer txn.Rollback()

	query := `UPDATE standup_sessions
               SET status = $1, started_at = $2, updated_at = NOW()
               WHERE session_key = $3 AND status = $4`
	res, err := txn.ExecContext(ctx, query, session.StatusActive, startedAt, key, session.StatusScheduled)
	if err != nil {
		return false, fmt.Errorf("error activating session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking activation result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := notifyChange(ctx, txn, session.ChangeEvent{
		SessionKey: key.String(),
		Kind:       session.ChangeKindStatus,
		Status:     string(session.StatusActive),
		OccurredAt: startedAt,
	}); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit activation: %w", err)
	}
	return true, nil
}

// UpsertMark is the field-level merge of the session document: exactly one
// (session, participant) row is written, so concurrent edits to other
// participants are never clobbered. The FOR SHARE lock on the session row
// serializes marks against the finalize transaction's status CAS: a mark can
// only commit while the session is still ACTIVE.
func (r *PostgresSessionRepository) UpsertMark(ctx context.Context, m *session.Mark) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for mark upsert: %w", err)
	}
	defer txn.Rollback()

	var status session.Status
	err = txn.QueryRowContext(ctx,
		`SELECT status FROM standup_sessions WHERE session_key = $1 FOR SHARE`,
		m.SessionKey).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrSessionNotFound
		}
		return fmt.Errorf("error locking session row for mark upsert: %w", err)
	}
	if status != session.StatusActive {
		return ErrSessionNotActive
	}

	query := `INSERT INTO attendance_marks (session_key, participant_id, status, reason, marked_by, updated_at)
               VALUES ($1, $2, $3, $4, $5, NOW())
               ON CONFLICT (session_key, participant_id)
               DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason,
                             marked_by = EXCLUDED.marked_by, updated_at = NOW()
               RETURNING updated_at`
	err = txn.QueryRowContext(ctx, query, m.SessionKey, m.ParticipantID, m.Status, m.Reason, m.MarkedBy).Scan(&m.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrParticipantNotFound
		}
		return fmt.Errorf("error upserting attendance mark: %w", err)
	}

	if err := notifyChange(ctx, txn, session.ChangeEvent{
		SessionKey:    m.SessionKey.String(),
		Kind:          session.ChangeKindMark,
		ParticipantID: m.ParticipantID,
		Status:        string(m.Status),
		Reason:        m.Reason.String,
		OccurredAt:    m.UpdatedAt,
	}); err != nil {
		return err
	}
	return txn.Commit()
}

func (r *PostgresSessionRepository) ListMarks(ctx context.Context, key session.Key) ([]*session.Mark, error) {
	query := `SELECT session_key, participant_id, status, reason, marked_by, updated_at
               FROM attendance_marks WHERE session_key = $1 ORDER BY participant_id`
	rows, err := r.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("error listing attendance marks: %w", err)
	}
	defer rows.Close()

	marks := make([]*session.Mark, 0)
	for rows.Next() {
		m := &session.Mark{}
		if err := rows.Scan(&m.SessionKey, &m.ParticipantID, &m.Status, &m.Reason, &m.MarkedBy, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning attendance mark: %w", err)
		}
		marks = append(marks, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance marks: %w", err)
	}
	return marks, nil
}

// Finalize runs the commit algorithm in a single transaction: CAS the status
// from ACTIVE to ENDED, read the marks under the row lock, and batch-insert
// the resolved attendance records. A transaction failure rolls everything
// back, so a retry is always safe and no partial ledger is ever readable.
// Exactly one of two racing callers wins the CAS; the loser is handed the
// committed result with AlreadyFinalized set.
func (r *PostgresSessionRepository) Finalize(ctx context.Context, key session.Key, endedAt time.Time, participants []*roster.Participant) (*session.FinalizeResult, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for finalize: %w", err)
	}
	defer txn.Rollback()

	casQuery := `UPDATE standup_sessions
                  SET status = $1, ended_at = $2, updated_at = NOW()
                  WHERE session_key = $3 AND status = $4
                  RETURNING ` + sessionColumns
	sess, err := scanSession(txn.QueryRowContext(ctx, casQuery, session.StatusEnded, endedAt, key, session.StatusActive))
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("error in finalize status swap: %w", err)
		}
		// CAS miss: not found, not yet active, or already ended.
		txn.Rollback()
		return r.finalizeLost(ctx, key)
	}

	markRows, err := txn.QueryContext(ctx,
		`SELECT session_key, participant_id, status, reason, marked_by, updated_at
          FROM attendance_marks WHERE session_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("error reading marks during finalize: %w", err)
	}
	marks := make([]*session.Mark, 0)
	for markRows.Next() {
		m := &session.Mark{}
		if err := markRows.Scan(&m.SessionKey, &m.ParticipantID, &m.Status, &m.Reason, &m.MarkedBy, &m.UpdatedAt); err != nil {
			markRows.Close()
			return nil, fmt.Errorf("error scanning mark during finalize: %w", err)
		}
		marks = append(marks, m)
	}
	if err := markRows.Err(); err != nil {
		markRows.Close()
		return nil, fmt.Errorf("error iterating marks during finalize: %w", err)
	}
	markRows.Close()

	records := session.ResolveRecords(sess, marks, participants, endedAt)

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO attendance_records
               (id, session_key, participant_id, full_name, email, status, reason, scheduled_time, finalized_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement for record batch: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx, rec.ID, rec.SessionKey, rec.ParticipantID, rec.FullName,
			rec.Email, rec.Status, rec.Reason, rec.ScheduledTime, rec.FinalizedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: record for participant %d: %v", ErrBatchWriteFailed, rec.ParticipantID, err)
		}
	}

	if err := notifyChange(ctx, txn, session.ChangeEvent{
		SessionKey: key.String(),
		Kind:       session.ChangeKindStatus,
		Status:     string(session.StatusEnded),
		OccurredAt: endedAt,
	}); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrBatchWriteFailed, err)
	}

	return &session.FinalizeResult{Session: sess, Records: records}, nil
}

// finalizeLost resolves the outcome for a caller whose CAS found no ACTIVE
// row. An already-ENDED session is the idempotent no-op case: the committed
// ledger is returned as the result.
func (r *PostgresSessionRepository) finalizeLost(ctx context.Context, key session.Key) (*session.FinalizeResult, error) {
	sess, err := r.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case session.StatusEnded:
		records, err := listRecordsBySession(ctx, r.db, key.String())
		if err != nil {
			return nil, err
		}
		return &session.FinalizeResult{AlreadyFinalized: true, Session: sess, Records: records}, nil
	default:
		return nil, ErrSessionNotActive
	}
}

func (r *PostgresSessionRepository) ListDueForActivation(ctx context.Context, now time.Time) ([]*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM standup_sessions
               WHERE status = $1 AND scheduled_time <= $2 ORDER BY session_key`
	return r.listSessions(ctx, query, session.StatusScheduled, now)
}

func (r *PostgresSessionRepository) ListActiveScheduledBefore(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM standup_sessions
               WHERE status = $1 AND scheduled_time <= $2 ORDER BY session_key`
	return r.listSessions(ctx, query, session.StatusActive, cutoff)
}

func (r *PostgresSessionRepository) listSessions(ctx context.Context, query string, args ...any) ([]*session.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*session.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// notifyChange publishes one change event on the session channel as part of
// the surrounding transaction, so subscribers only ever see committed writes.
func notifyChange(ctx context.Context, e execer, event session.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error marshaling change event: %w", err)
	}
	if _, err := e.ExecContext(ctx, `SELECT pg_notify($1, $2)`, SessionChangesChannel, string(payload)); err != nil {
		return fmt.Errorf("error publishing change event: %w", err)
	}
	return nil
}
