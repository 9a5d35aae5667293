package roster

import "time"

// Participant is one roster member eligible for attendance tracking. The
// roster directory itself is maintained by an external CRUD surface; the core
// only reads it.
type Participant struct {
	ID           int64
	FullName     string
	Email        string
	EmployeeCode string
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
