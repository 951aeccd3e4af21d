package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tikrelay/internal/models"
	"tikrelay/internal/observability/metrics"
	"tikrelay/internal/storage"
	"tikrelay/internal/tiktok"
)

// Uploader abstracts the upstream client so tests can substitute a fake.
type Uploader interface {
	Upload(ctx context.Context, creds tiktok.Credentials, file tiktok.File) (tiktok.Result, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store   storage.Repository
	Client  Uploader
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator runs the upload flow end to end. Each call is independent; no
// coordination is applied across concurrent requests, so two requests may race
// on the same least-loaded account. That approximate balance is accepted.
type Orchestrator struct {
	store   storage.Repository
	client  Uploader
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New constructs an Orchestrator, defaulting the clock, logger, and metrics
// recorder when unset.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	client := cfg.Client
	if client == nil {
		client = tiktok.NewClient(tiktok.Config{})
	}
	return &Orchestrator{
		store:   cfg.Store,
		client:  client,
		logger:  logger,
		metrics: recorder,
		now:     now,
	}
}

// Upload validates the payload, selects an account, forwards the file, and
// maps the result. Validation failures reject before any account is touched.
// No retries: a single upstream failure is final for the request.
func (o *Orchestrator) Upload(ctx context.Context, req Request) Outcome {
	if len(req.Data) == 0 {
		return o.reject(metrics.OutcomeValidation, NewFailure(http.StatusBadRequest, MsgNoFile))
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(req.ContentType)), "image/") {
		return o.reject(metrics.OutcomeValidation, NewFailure(http.StatusBadRequest, MsgNotAnImage))
	}
	size := req.Size
	if size <= 0 {
		size = int64(len(req.Data))
	}
	if size > MaxUploadBytes {
		return o.reject(metrics.OutcomeValidation, NewFailure(http.StatusBadRequest, MsgFileTooLarge))
	}

	account, err := o.store.LeastLoadedAccount(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoEligibleAccount) {
			return o.reject(metrics.OutcomeNoAccount, NewFailure(http.StatusInternalServerError, MsgNoActiveAccount))
		}
		o.logger.Error("account selection failed", "error", err)
		return o.reject(metrics.OutcomeUnexpected, NewFailure(http.StatusInternalServerError, err.Error()))
	}

	result, err := o.client.Upload(ctx, credentialsFor(account), tiktok.File{
		Data:        req.Data,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil {
		o.logger.Error("upstream request failed", "account_id", account.ID, "error", err)
		outcome := NewFailure(http.StatusInternalServerError, err.Error())
		outcome.Failure.AccountInfo = snapshotAccount(account)
		if result.Trace.Method != "" {
			outcome.Failure.URL = result.Trace.URL
			outcome.Failure.RequestDetails = &result.Trace
		}
		return o.reject(metrics.OutcomeUnexpected, outcome)
	}

	if result.HTTPStatus < 200 || result.HTTPStatus >= 300 {
		o.logger.Warn("upstream rejected upload",
			"account_id", account.ID,
			"status", result.HTTPStatus)
		return o.reject(metrics.OutcomeTransportError, o.upstreamFailure(
			result.HTTPStatus,
			result.HTTPStatusText,
			fmt.Sprintf("TikTok API returned status %d", result.HTTPStatus),
			account, result))
	}

	if !result.Succeeded() {
		message := result.Message
		if message == "" {
			message = MsgUploadRejected
		}
		o.logger.Warn("upstream reported logical failure",
			"account_id", account.ID,
			"platform_status", result.PlatformStatus)
		return o.reject(metrics.OutcomeLogicalError, o.upstreamFailure(
			http.StatusBadRequest,
			http.StatusText(http.StatusBadRequest),
			message,
			account, result))
	}

	accountName := account.Name
	updated, err := o.store.RecordUploadSuccess(ctx, account, o.now())
	if err != nil {
		// The upload already succeeded upstream; a bookkeeping failure is
		// logged but does not alter the response. The stale count only
		// makes this account look less loaded on the next selection.
		o.logger.Warn("account usage update failed", "account_id", account.ID, "error", err)
	} else {
		accountName = updated.Name
	}

	o.metrics.ObserveUpload(metrics.OutcomeSuccess)
	o.logger.Info("upload relayed",
		"account_id", account.ID,
		"account", accountName,
		"bytes", len(req.Data))
	return successOutcome(tiktok.AssetURL(result.URI), accountName)
}

func (o *Orchestrator) upstreamFailure(status int, statusMessage, message string, account models.Account, result tiktok.Result) Outcome {
	outcome := Outcome{
		Status: status,
		Failure: &Failure{
			Error:             true,
			URL:               result.Trace.URL,
			StatusCode:        status,
			StatusMessage:     statusMessage,
			Message:           message,
			AccountInfo:       snapshotAccount(account),
			TikTokAPIResponse: result.Body,
			RequestDetails:    &result.Trace,
		},
	}
	return outcome
}

func (o *Orchestrator) reject(outcomeLabel string, outcome Outcome) Outcome {
	o.metrics.ObserveUpload(outcomeLabel)
	return outcome
}

func credentialsFor(account models.Account) tiktok.Credentials {
	creds := tiktok.Credentials{}
	if account.CSRFToken != nil {
		creds.CSRFToken = *account.CSRFToken
	}
	if account.SessionToken != nil {
		creds.SessionToken = *account.SessionToken
	}
	return creds
}
