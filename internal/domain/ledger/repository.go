package ledger

import "context"

// Repository is the read side of the attendance ledger, consumed by external
// reporting and summary views. Records are only ever written inside the
// finalize transaction of the session store.
type Repository interface {
	ListBySession(ctx context.Context, sessionKey string) ([]*Record, error)
}
