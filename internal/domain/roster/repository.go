package roster

import (
	"context"
)

// Repository is the roster provider contract. ListActive returns only
// non-archived participants; it is consumed when a session activates and
// again at finalize time to resolve defaults.
type Repository interface {
	ListActive(ctx context.Context) ([]*Participant, error)
	GetByID(ctx context.Context, id int64) (*Participant, error)
}
