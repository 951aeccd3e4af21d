package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"tikrelay/internal/models"
	"tikrelay/internal/observability/metrics"
	"tikrelay/internal/storage"
	"tikrelay/internal/testsupport/tiktokstub"
	"tikrelay/internal/tiktok"
)

type fakeStore struct {
	account   models.Account
	selectErr error
	updateErr error

	selectCalls int
	updateCalls int
	updatedAt   time.Time
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) LeastLoadedAccount(ctx context.Context) (models.Account, error) {
	f.selectCalls++
	if f.selectErr != nil {
		return models.Account{}, f.selectErr
	}
	return f.account.Clone(), nil
}

func (f *fakeStore) RecordUploadSuccess(ctx context.Context, account models.Account, at time.Time) (models.Account, error) {
	f.updateCalls++
	f.updatedAt = at
	if f.updateErr != nil {
		return models.Account{}, f.updateErr
	}
	updated := f.account.Clone()
	updated.UploadCount++
	updated.LastUploadAt = &at
	f.account = updated
	return updated.Clone(), nil
}

func poolAccount() models.Account {
	csrf := "csrf-1"
	sid := "sid-1"
	return models.Account{
		ID:           "acc-1",
		Name:         "creator-one",
		Status:       models.AccountStatusActive,
		CSRFToken:    &csrf,
		SessionToken: &sid,
		UploadCount:  5,
	}
}

func imageRequest() Request {
	return Request{
		Data:        []byte("png-bytes"),
		ContentType: "image/png",
		Filename:    "photo.png",
		Size:        int64(len("png-bytes")),
	}
}

func newTestOrchestrator(t *testing.T, store storage.Repository, endpoint string) *Orchestrator {
	t.Helper()
	return New(Config{
		Store:   store,
		Client:  tiktok.NewClient(tiktok.Config{Endpoint: endpoint}),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
		Now:     func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestUploadSuccess(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 0, URI: "abc"})
	defer stub.Close()

	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, stub.URL())

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusOK {
		t.Fatalf("status = %d", outcome.Status)
	}
	if outcome.Success == nil || outcome.Failure != nil {
		t.Fatalf("expected success outcome, got %+v", outcome)
	}
	if !outcome.Success.Success {
		t.Fatal("success flag not set")
	}
	if outcome.Success.URL != "https://p16-sg.tiktokcdn.com/obj/abc" {
		t.Fatalf("url = %q", outcome.Success.URL)
	}
	if outcome.Success.AccountUsed != "creator-one" {
		t.Fatalf("accountUsed = %q", outcome.Success.AccountUsed)
	}
	if store.updateCalls != 1 {
		t.Fatalf("update calls = %d", store.updateCalls)
	}
	if store.account.UploadCount != 6 {
		t.Fatalf("upload count = %d", store.account.UploadCount)
	}
	if !store.updatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("updatedAt = %v", store.updatedAt)
	}
}

func TestUploadValidationRejectsBeforeSelection(t *testing.T) {
	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, "http://127.0.0.1:0")

	cases := []struct {
		name    string
		req     Request
		message string
	}{
		{"no file", Request{}, MsgNoFile},
		{"not an image", Request{Data: []byte("x"), ContentType: "text/plain"}, MsgNotAnImage},
		{"oversize", Request{Data: []byte("x"), ContentType: "image/png", Size: MaxUploadBytes + 1}, MsgFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := orch.Upload(context.Background(), tc.req)
			if outcome.Status != http.StatusBadRequest {
				t.Fatalf("status = %d", outcome.Status)
			}
			if outcome.Failure == nil || outcome.Failure.Message != tc.message {
				t.Fatalf("failure = %+v", outcome.Failure)
			}
			if outcome.Failure.AccountInfo != nil {
				t.Fatal("validation failure must not expose an account")
			}
		})
	}
	if store.selectCalls != 0 {
		t.Fatalf("selection ran %d times during validation failures", store.selectCalls)
	}
}

func TestUploadNoEligibleAccount(t *testing.T) {
	store := &fakeStore{selectErr: storage.ErrNoEligibleAccount}
	orch := newTestOrchestrator(t, store, "http://127.0.0.1:0")

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", outcome.Status)
	}
	if outcome.Failure.Message != MsgNoActiveAccount {
		t.Fatalf("message = %q", outcome.Failure.Message)
	}
}

func TestUploadStoreError(t *testing.T) {
	store := &fakeStore{selectErr: errors.New("connection refused")}
	orch := newTestOrchestrator(t, store, "http://127.0.0.1:0")

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", outcome.Status)
	}
	if outcome.Failure.Message != "connection refused" {
		t.Fatalf("message = %q", outcome.Failure.Message)
	}
}

func TestUploadTransportFailureEchoesUpstreamStatus(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{HTTPStatus: http.StatusForbidden, RawBody: "Access Denied"})
	defer stub.Close()

	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, stub.URL())

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusForbidden {
		t.Fatalf("status = %d", outcome.Status)
	}
	failure := outcome.Failure
	if failure.StatusCode != http.StatusForbidden || failure.StatusMessage != "Forbidden" {
		t.Fatalf("status fields = %d %q", failure.StatusCode, failure.StatusMessage)
	}
	if failure.Message != "TikTok API returned status 403" {
		t.Fatalf("message = %q", failure.Message)
	}
	if failure.URL != stub.URL() {
		t.Fatalf("url = %q", failure.URL)
	}
	if failure.AccountInfo == nil || failure.AccountInfo.ID != "acc-1" {
		t.Fatalf("accountInfo = %+v", failure.AccountInfo)
	}
	if body, ok := failure.TikTokAPIResponse.(string); !ok || body != "Access Denied" {
		t.Fatalf("tiktokApiResponse = %#v", failure.TikTokAPIResponse)
	}
	if failure.RequestDetails == nil || failure.RequestDetails.Headers["Cookie"] == "" {
		t.Fatalf("requestDetails = %+v", failure.RequestDetails)
	}
	if store.updateCalls != 0 {
		t.Fatal("usage must not be recorded on a failed upload")
	}
}

func TestUploadLogicalFailure(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 7, Message: "image audit failed"})
	defer stub.Close()

	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, stub.URL())

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", outcome.Status)
	}
	if outcome.Failure.Message != "image audit failed" {
		t.Fatalf("message = %q", outcome.Failure.Message)
	}
	if store.updateCalls != 0 {
		t.Fatal("usage must not be recorded on a rejected upload")
	}
}

func TestUploadLogicalFailureDefaultsMessage(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 3})
	defer stub.Close()

	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, stub.URL())

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Failure.Message != MsgUploadRejected {
		t.Fatalf("message = %q", outcome.Failure.Message)
	}
}

func TestUploadNetworkErrorExposesAccount(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{})
	endpoint := stub.URL()
	stub.Close()

	store := &fakeStore{account: poolAccount()}
	orch := newTestOrchestrator(t, store, endpoint)

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", outcome.Status)
	}
	if outcome.Failure.AccountInfo == nil || outcome.Failure.AccountInfo.ID != "acc-1" {
		t.Fatalf("accountInfo = %+v", outcome.Failure.AccountInfo)
	}
	if store.updateCalls != 0 {
		t.Fatal("usage must not be recorded on a network failure")
	}
}

func TestUploadSuccessSurvivesBookkeepingFailure(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 0, URI: "abc"})
	defer stub.Close()

	store := &fakeStore{account: poolAccount(), updateErr: errors.New("row vanished")}
	orch := newTestOrchestrator(t, store, stub.URL())

	outcome := orch.Upload(context.Background(), imageRequest())
	if outcome.Status != http.StatusOK || outcome.Success == nil {
		t.Fatalf("expected success despite bookkeeping failure, got %+v", outcome)
	}
	if outcome.Success.AccountUsed != "creator-one" {
		t.Fatalf("accountUsed = %q", outcome.Success.AccountUsed)
	}
}

func TestUploadOutcomeMetrics(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 0, URI: "abc"})
	defer stub.Close()

	recorder := metrics.New()
	store := &fakeStore{account: poolAccount()}
	orch := New(Config{
		Store:   store,
		Client:  tiktok.NewClient(tiktok.Config{Endpoint: stub.URL()}),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: recorder,
	})

	orch.Upload(context.Background(), imageRequest())
	orch.Upload(context.Background(), Request{})

	if got := recorder.UploadCount(metrics.OutcomeSuccess); got != 1 {
		t.Fatalf("success count = %d", got)
	}
	if got := recorder.UploadCount(metrics.OutcomeValidation); got != 1 {
		t.Fatalf("validation count = %d", got)
	}
}
