package models

import (
	"strings"
	"time"
)

// AccountStatus enumerates the lifecycle states of a pooled TikTok account.
// Only active accounts are eligible for upload selection.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
	AccountStatusCooldown AccountStatus = "cooldown"
)

// Account is a pooled identity whose session credentials authenticate outbound
// uploads to TikTok. Accounts are created and maintained by external
// administration; this service only reads one per request and bumps its usage
// counters after a confirmed upload.
type Account struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        AccountStatus `json:"status"`
	CSRFToken     *string       `json:"csrfToken,omitempty"`
	SessionToken  *string       `json:"sessionToken,omitempty"`
	UploadCount   int64         `json:"uploadCount"`
	LastUploadAt  *time.Time    `json:"lastUploadAt,omitempty"`
	CooldownUntil *time.Time    `json:"cooldownUntil,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Eligible reports whether the account can be selected for an upload: active
// status and both session credential tokens present. CooldownUntil is surfaced
// in diagnostics but deliberately not checked here.
func (a Account) Eligible() bool {
	if a.Status != AccountStatusActive {
		return false
	}
	return tokenPresent(a.CSRFToken) && tokenPresent(a.SessionToken)
}

func tokenPresent(token *string) bool {
	return token != nil && strings.TrimSpace(*token) != ""
}

// Clone returns a deep copy so stores can hand out accounts without aliasing
// their internal state.
func (a Account) Clone() Account {
	clone := a
	if a.CSRFToken != nil {
		v := *a.CSRFToken
		clone.CSRFToken = &v
	}
	if a.SessionToken != nil {
		v := *a.SessionToken
		clone.SessionToken = &v
	}
	if a.LastUploadAt != nil {
		v := *a.LastUploadAt
		clone.LastUploadAt = &v
	}
	if a.CooldownUntil != nil {
		v := *a.CooldownUntil
		clone.CooldownUntil = &v
	}
	return clone
}
