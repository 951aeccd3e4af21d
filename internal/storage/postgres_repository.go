package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tikrelay/internal/models"
)

// PostgresRepository reads the account pool from a tiktok_accounts table via a
// pgx connection pool. The caller must ensure migrations have been applied.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

const accountColumns = `id, name, status, csrf_token, session_token, upload_count, last_upload_at, cooldown_until, updated_at`

// NewPostgresRepository opens a Postgres-backed account repository.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool, bounded by ctx.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) LeastLoadedAccount(ctx context.Context) (models.Account, error) {
	if r.pool == nil {
		return models.Account{}, fmt.Errorf("postgres pool not configured")
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+accountColumns+`
FROM tiktok_accounts
WHERE status = 'active' AND csrf_token IS NOT NULL AND session_token IS NOT NULL
ORDER BY upload_count ASC
LIMIT 1
`)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNoEligibleAccount
		}
		return models.Account{}, fmt.Errorf("select account: %w", err)
	}
	return account, nil
}

func (r *PostgresRepository) RecordUploadSuccess(ctx context.Context, account models.Account, at time.Time) (models.Account, error) {
	if r.pool == nil {
		return models.Account{}, fmt.Errorf("postgres pool not configured")
	}
	row := r.pool.QueryRow(ctx, `
UPDATE tiktok_accounts
SET upload_count = upload_count + 1, last_upload_at = $2, updated_at = $2
WHERE id = $1
RETURNING `+accountColumns+`
`, account.ID, at.UTC())
	updated, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
		}
		return models.Account{}, fmt.Errorf("update account usage: %w", err)
	}
	return updated, nil
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	var status string
	if err := row.Scan(
		&account.ID,
		&account.Name,
		&status,
		&account.CSRFToken,
		&account.SessionToken,
		&account.UploadCount,
		&account.LastUploadAt,
		&account.CooldownUntil,
		&account.UpdatedAt,
	); err != nil {
		return models.Account{}, err
	}
	account.Status = models.AccountStatus(status)
	return account, nil
}
