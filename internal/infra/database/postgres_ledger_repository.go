package database

import (
	"context"
	"database/sql"
	"fmt"

	"standup_attendance_service/internal/domain/ledger"
)

// PostgresLedgerRepository is the read side of the attendance ledger. Records
// are only inserted inside the finalize transaction of the session repository.
type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) ListBySession(ctx context.Context, sessionKey string) ([]*ledger.Record, error) {
	return listRecordsBySession(ctx, r.db, sessionKey)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// listRecordsBySession is shared with the session repository, which returns
// the committed ledger to finalize callers that lost the status CAS.
func listRecordsBySession(ctx context.Context, q queryer, sessionKey string) ([]*ledger.Record, error) {
	query := `SELECT id, session_key, participant_id, full_name, email, status, reason, scheduled_time, finalized_at, created_at
               FROM attendance_records WHERE session_key = $1 ORDER BY participant_id`

	rows, err := q.QueryContext(ctx, query, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("error listing attendance records: %w", err)
	}
	defer rows.Close()

	records := make([]*ledger.Record, 0)
	for rows.Next() {
		rec := &ledger.Record{}
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &rec.ParticipantID, &rec.FullName, &rec.Email,
			&rec.Status, &rec.Reason, &rec.ScheduledTime, &rec.FinalizedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance records: %w", err)
	}
	return records, nil
}
