package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tikrelay/internal/models"
)

// JSONRepository keeps the account pool in a local JSON file. It exists for
// development and tests; production deployments use the supabase or postgres
// drivers.
type JSONRepository struct {
	mu       sync.Mutex
	path     string
	accounts []models.Account
}

type jsonSnapshot struct {
	Accounts []models.Account `json:"accounts"`
}

// NewJSONRepository loads the pool from path, creating an empty datastore when
// the file does not exist yet.
func NewJSONRepository(path string) (*JSONRepository, error) {
	repo := &JSONRepository{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return repo, nil
		}
		return nil, fmt.Errorf("read datastore: %w", err)
	}
	var snapshot jsonSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse datastore: %w", err)
	}
	repo.accounts = snapshot.Accounts
	return repo, nil
}

func (r *JSONRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *JSONRepository) LeastLoadedAccount(ctx context.Context) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Account
	for i := range r.accounts {
		candidate := &r.accounts[i]
		if !candidate.Eligible() {
			continue
		}
		if best == nil || candidate.UploadCount < best.UploadCount {
			best = candidate
		}
	}
	if best == nil {
		return models.Account{}, ErrNoEligibleAccount
	}
	return best.Clone(), nil
}

func (r *JSONRepository) RecordUploadSuccess(ctx context.Context, account models.Account, at time.Time) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.accounts {
		if r.accounts[i].ID != account.ID {
			continue
		}
		stamp := at.UTC()
		r.accounts[i].UploadCount++
		r.accounts[i].LastUploadAt = &stamp
		r.accounts[i].UpdatedAt = stamp
		if err := r.persistLocked(); err != nil {
			return models.Account{}, err
		}
		return r.accounts[i].Clone(), nil
	}
	return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
}

// SeedAccounts replaces the pool contents and persists them. Intended for
// development bootstrap and tests.
func (r *JSONRepository) SeedAccounts(accounts []models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make([]models.Account, 0, len(accounts))
	for _, account := range accounts {
		r.accounts = append(r.accounts, account.Clone())
	}
	return r.persistLocked()
}

// Accounts returns a copy of the current pool contents.
func (r *JSONRepository) Accounts() []models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		out = append(out, account.Clone())
	}
	return out
}

func (r *JSONRepository) persistLocked() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(jsonSnapshot{Accounts: r.accounts}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "accounts-*.json")
	if err != nil {
		return fmt.Errorf("write datastore: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}
