package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tikrelay/internal/models"
)

// SupabaseRepository talks to the Supabase PostgREST API using the project's
// service-role key. It is the default driver and mirrors how the account pool
// is administered: a tiktok_accounts table queried by equality and null
// filters with ordering, updated by primary-key equality.
type SupabaseRepository struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	table      string
}

// SupabaseConfig configures the PostgREST-backed repository.
type SupabaseConfig struct {
	// BaseURL is the Supabase project URL, e.g. https://xyz.supabase.co.
	BaseURL string
	// ServiceKey is the service-role key sent as apikey and bearer token.
	ServiceKey string
	// HTTPClient overrides the default client (10s timeout) when set.
	HTTPClient *http.Client
	// Table overrides the default tiktok_accounts table name.
	Table string
}

// NewSupabaseRepository validates the configuration and returns a repository.
func NewSupabaseRepository(cfg SupabaseConfig) (*SupabaseRepository, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("supabase url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("supabase service role key required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "tiktok_accounts"
	}
	return &SupabaseRepository{
		baseURL:    base,
		serviceKey: strings.TrimSpace(cfg.ServiceKey),
		httpClient: client,
		table:      table,
	}, nil
}

type supabaseAccountRow struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	CSRFToken     *string    `json:"csrf_token"`
	SessionToken  *string    `json:"session_token"`
	UploadCount   int64      `json:"upload_count"`
	LastUploadAt  *time.Time `json:"last_upload_at"`
	CooldownUntil *time.Time `json:"cooldown_until"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (row supabaseAccountRow) toModel() models.Account {
	return models.Account{
		ID:            row.ID,
		Name:          row.Name,
		Status:        models.AccountStatus(row.Status),
		CSRFToken:     row.CSRFToken,
		SessionToken:  row.SessionToken,
		UploadCount:   row.UploadCount,
		LastUploadAt:  row.LastUploadAt,
		CooldownUntil: row.CooldownUntil,
		UpdatedAt:     row.UpdatedAt,
	}
}

func (r *SupabaseRepository) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("limit", "1")
	_, err := r.get(ctx, query)
	return err
}

func (r *SupabaseRepository) LeastLoadedAccount(ctx context.Context) (models.Account, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("status", "eq.active")
	query.Set("csrf_token", "not.is.null")
	query.Set("session_token", "not.is.null")
	query.Set("order", "upload_count.asc")
	query.Set("limit", "1")
	rows, err := r.get(ctx, query)
	if err != nil {
		return models.Account{}, err
	}
	if len(rows) == 0 {
		return models.Account{}, ErrNoEligibleAccount
	}
	return rows[0].toModel(), nil
}

func (r *SupabaseRepository) RecordUploadSuccess(ctx context.Context, account models.Account, at time.Time) (models.Account, error) {
	// PostgREST has no server-side increment, so the next count comes from
	// the snapshot taken at selection time. Concurrent bumps can collide;
	// the flow accepts approximate balance.
	stamp := at.UTC()
	payload := map[string]interface{}{
		"upload_count":   account.UploadCount + 1,
		"last_upload_at": stamp.Format(time.RFC3339Nano),
		"updated_at":     stamp.Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Account{}, fmt.Errorf("encode account update: %w", err)
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", r.baseURL, r.table, url.QueryEscape(account.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Account{}, err
	}
	r.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return models.Account{}, fmt.Errorf("update account usage: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Account{}, fmt.Errorf("read account update response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Account{}, fmt.Errorf("update account usage: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var rows []supabaseAccountRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return models.Account{}, fmt.Errorf("decode account update response: %w", err)
	}
	if len(rows) == 0 {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}
	return rows[0].toModel(), nil
}

func (r *SupabaseRepository) get(ctx context.Context, query url.Values) ([]supabaseAccountRow, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", r.baseURL, r.table, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read accounts response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query accounts: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var rows []supabaseAccountRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode accounts response: %w", err)
	}
	return rows, nil
}

func (r *SupabaseRepository) setHeaders(req *http.Request) {
	req.Header.Set("apikey", r.serviceKey)
	req.Header.Set("Authorization", "Bearer "+r.serviceKey)
	req.Header.Set("Accept", "application/json")
}
