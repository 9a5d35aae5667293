package database

import (
	"context"
	"database/sql"
	"fmt"

	"standup_attendance_service/internal/domain/roster"
)

// PostgresRosterRepository reads the participant directory owned by the
// external roster CRUD. The core never writes to it.
type PostgresRosterRepository struct {
	db *sql.DB
}

func NewPostgresRosterRepository(db *sql.DB) *PostgresRosterRepository {
	return &PostgresRosterRepository{db: db}
}

func (r *PostgresRosterRepository) GetByID(ctx context.Context, id int64) (*roster.Participant, error) {
	query := `SELECT id, full_name, email, employee_code, is_archived, created_at, updated_at
               FROM participants WHERE id = $1`
	p := &roster.Participant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.FullName, &p.Email, &p.EmployeeCode, &p.IsArchived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("error getting participant by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresRosterRepository) ListActive(ctx context.Context) ([]*roster.Participant, error) {
	query := `SELECT id, full_name, email, employee_code, is_archived, created_at, updated_at
               FROM participants WHERE is_archived = FALSE ORDER BY full_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*roster.Participant, 0)
	for rows.Next() {
		p := &roster.Participant{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.EmployeeCode, &p.IsArchived, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning active participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active participants: %w", err)
	}
	return participants, nil
}
