// Package relay implements the upload orchestration flow: pick the
// least-loaded eligible account, forward the image to TikTok with its session
// credentials, and map every outcome to a uniform response shape.
package relay

import (
	"net/http"
	"time"

	"tikrelay/internal/models"
	"tikrelay/internal/tiktok"
)

// MaxUploadBytes is the inbound file size ceiling (10 MiB).
const MaxUploadBytes = 10 << 20

// Fixed client-facing messages for validation failures. The oversize message
// is also emitted by the HTTP layer when the multipart reader trips the byte
// cap.
const (
	MsgNoFile          = "No file uploaded"
	MsgNotAnImage      = "Only image files are allowed"
	MsgFileTooLarge    = "File too large. Maximum size is 10MB."
	MsgNoActiveAccount = "No active account available"
	MsgUploadRejected  = "TikTok API rejected the upload"
)

// Request is the ephemeral per-call upload payload.
type Request struct {
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}

// AccountInfo is the account snapshot embedded in failure payloads.
type AccountInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	UploadCount   int64      `json:"uploadCount"`
	LastUploadAt  *time.Time `json:"lastUploadAt"`
	CooldownUntil *time.Time `json:"cooldownUntil"`
}

func snapshotAccount(account models.Account) *AccountInfo {
	return &AccountInfo{
		ID:            account.ID,
		Name:          account.Name,
		Status:        string(account.Status),
		UploadCount:   account.UploadCount,
		LastUploadAt:  account.LastUploadAt,
		CooldownUntil: account.CooldownUntil,
	}
}

// Success is the response body for a completed upload.
type Success struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	AccountUsed string `json:"accountUsed"`
}

// Failure is the structured error body. It carries enough context to debug
// without server-side log access, including the outbound request trace with
// credential header values.
type Failure struct {
	Error             bool                 `json:"error"`
	URL               string               `json:"url"`
	StatusCode        int                  `json:"statusCode"`
	StatusMessage     string               `json:"statusMessage"`
	Message           string               `json:"message"`
	AccountInfo       *AccountInfo         `json:"accountInfo,omitempty"`
	TikTokAPIResponse interface{}          `json:"tiktokApiResponse,omitempty"`
	RequestDetails    *tiktok.RequestTrace `json:"requestDetails,omitempty"`
}

// Outcome is the discriminated result of an upload attempt: exactly one of
// Success or Failure is set, and Status is the HTTP status to respond with.
type Outcome struct {
	Status  int
	Success *Success
	Failure *Failure
}

// Body returns whichever response payload is set.
func (o Outcome) Body() interface{} {
	if o.Success != nil {
		return o.Success
	}
	return o.Failure
}

func successOutcome(url, accountName string) Outcome {
	return Outcome{
		Status:  http.StatusOK,
		Success: &Success{Success: true, URL: url, AccountUsed: accountName},
	}
}

// NewFailure builds a bare failure outcome with the standard error shape.
func NewFailure(status int, message string) Outcome {
	return Outcome{
		Status: status,
		Failure: &Failure{
			Error:         true,
			StatusCode:    status,
			StatusMessage: http.StatusText(status),
			Message:       message,
		},
	}
}
