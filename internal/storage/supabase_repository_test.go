package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type postgrestStub struct {
	mu       sync.Mutex
	rows     []supabaseAccountRow
	status   int
	requests []*http.Request
	bodies   []map[string]interface{}
}

func (p *postgrestStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests = append(p.requests, r.Clone(context.Background()))
		if r.Method == http.MethodPatch {
			payload := map[string]interface{}{}
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &payload)
			p.bodies = append(p.bodies, payload)
		}
		p.mu.Unlock()
		if p.status != 0 {
			w.WriteHeader(p.status)
			_, _ = io.WriteString(w, `{"message":"stub failure"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.rows)
	})
}

func newSupabaseTestRepo(t *testing.T, stub *postgrestStub) *SupabaseRepository {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)
	repo, err := NewSupabaseRepository(SupabaseConfig{
		BaseURL:    server.URL,
		ServiceKey: "service-key",
	})
	if err != nil {
		t.Fatalf("NewSupabaseRepository: %v", err)
	}
	return repo
}

func TestSupabaseLeastLoadedAccountQuery(t *testing.T) {
	stub := &postgrestStub{rows: []supabaseAccountRow{{
		ID:           "acc-1",
		Name:         "primary",
		Status:       "active",
		CSRFToken:    strPtr("tok"),
		SessionToken: strPtr("sid"),
		UploadCount:  5,
	}}}
	repo := newSupabaseTestRepo(t, stub)

	account, err := repo.LeastLoadedAccount(context.Background())
	if err != nil {
		t.Fatalf("LeastLoadedAccount: %v", err)
	}
	if account.ID != "acc-1" || account.Name != "primary" || account.UploadCount != 5 {
		t.Fatalf("unexpected account: %+v", account)
	}

	req := stub.requests[0]
	if got := req.Header.Get("apikey"); got != "service-key" {
		t.Fatalf("apikey header = %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer service-key" {
		t.Fatalf("authorization header = %q", got)
	}
	query := req.URL.Query()
	for key, want := range map[string]string{
		"status":        "eq.active",
		"csrf_token":    "not.is.null",
		"session_token": "not.is.null",
		"order":         "upload_count.asc",
		"limit":         "1",
	} {
		if got := query.Get(key); got != want {
			t.Fatalf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestSupabaseEmptyPoolIsNoEligibleAccount(t *testing.T) {
	repo := newSupabaseTestRepo(t, &postgrestStub{})

	_, err := repo.LeastLoadedAccount(context.Background())
	if !errors.Is(err, ErrNoEligibleAccount) {
		t.Fatalf("expected ErrNoEligibleAccount, got %v", err)
	}
}

func TestSupabaseStorageErrorIsNotNoEligibleAccount(t *testing.T) {
	repo := newSupabaseTestRepo(t, &postgrestStub{status: http.StatusInternalServerError})

	_, err := repo.LeastLoadedAccount(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNoEligibleAccount) {
		t.Fatalf("storage failure must stay distinct from empty pool: %v", err)
	}
}

func TestSupabaseRecordUploadSuccess(t *testing.T) {
	stamp := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	stub := &postgrestStub{rows: []supabaseAccountRow{{
		ID:          "acc-1",
		Name:        "primary",
		Status:      "active",
		UploadCount: 6,
		UpdatedAt:   stamp,
	}}}
	repo := newSupabaseTestRepo(t, stub)

	account, err := repo.RecordUploadSuccess(context.Background(), testAccount("acc-1", "primary", 5), stamp)
	if err != nil {
		t.Fatalf("RecordUploadSuccess: %v", err)
	}
	if account.UploadCount != 6 {
		t.Fatalf("expected upload count 6, got %d", account.UploadCount)
	}

	req := stub.requests[0]
	if req.Method != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", req.Method)
	}
	if got := req.URL.Query().Get("id"); got != "eq.acc-1" {
		t.Fatalf("id filter = %q", got)
	}
	body := stub.bodies[0]
	if got, ok := body["upload_count"].(float64); !ok || int64(got) != 6 {
		t.Fatalf("patched upload_count = %v", body["upload_count"])
	}
	if _, ok := body["last_upload_at"]; !ok {
		t.Fatal("patch missing last_upload_at")
	}
	if _, ok := body["updated_at"]; !ok {
		t.Fatal("patch missing updated_at")
	}
}

func TestSupabaseConfigValidation(t *testing.T) {
	if _, err := NewSupabaseRepository(SupabaseConfig{ServiceKey: "k"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewSupabaseRepository(SupabaseConfig{BaseURL: "https://example.supabase.co"}); err == nil {
		t.Fatal("expected error for missing service key")
	}
}
