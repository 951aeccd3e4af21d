package storage

import (
	"context"
	"errors"
	"time"

	"tikrelay/internal/models"
)

// ErrNoEligibleAccount signals that the pool holds no active account with both
// session credentials present. Callers must report it differently from a
// storage failure.
var ErrNoEligibleAccount = errors.New("no eligible account in pool")

// ErrAccountNotFound is returned when a usage update targets an account that
// no longer exists.
var ErrAccountNotFound = errors.New("account not found")

// Repository exposes the account-pool operations required by the upload
// orchestrator. Selection and the post-success update are two separate,
// unsynchronized operations; concurrent requests may race on the same
// least-loaded account and that is an accepted property of the flow.
type Repository interface {
	Ping(ctx context.Context) error

	// LeastLoadedAccount returns the eligible account with the smallest
	// upload_count, or ErrNoEligibleAccount when none qualify. Ties are
	// broken arbitrarily.
	LeastLoadedAccount(ctx context.Context) (models.Account, error)

	// RecordUploadSuccess increments the account's upload_count and stamps
	// last_upload_at and updated_at. The previously selected account is
	// passed in so drivers without server-side arithmetic can compute the
	// next count from the snapshot.
	RecordUploadSuccess(ctx context.Context, account models.Account, at time.Time) (models.Account, error)
}
