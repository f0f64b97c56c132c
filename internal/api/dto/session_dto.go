package dto

import (
	"encoding/json"
	"time"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// LoginRequest payload for terminal sign-in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the terminal session. Identity fields are omitted when anonymous.
type SessionResponse struct {
	State     domain.SessionState `json:"state"`
	Subject   string              `json:"subject,omitempty"`
	Role      domain.Role         `json:"role,omitempty"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
	User      json.RawMessage     `json:"user,omitempty"`
}

// NewSessionResponse builds the response from the session state and identity.
func NewSessionResponse(state domain.SessionState, identity domain.Identity, ok bool, profile domain.UserProfile) SessionResponse {
	resp := SessionResponse{State: state}
	if !ok {
		return resp
	}
	exp := identity.ExpiresAt.UTC()
	resp.Subject = identity.Subject
	resp.Role = identity.Role
	resp.ExpiresAt = &exp
	if len(profile) > 0 {
		resp.User = json.RawMessage(profile)
	}
	return resp
}

// ViewResponse is the payload of a rendered view.
type ViewResponse struct {
	View    string      `json:"view"`
	Role    domain.Role `json:"role"`
	Subject string      `json:"subject,omitempty"`
	Panels  []string    `json:"panels,omitempty"`
}

// AuditEntryResponse is one row of the audit view.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Subject    string         `json:"subject,omitempty"`
	Role       domain.Role    `json:"role,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewAuditEntryResponses maps audit rows to their response form.
func NewAuditEntryResponses(entries []domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:         e.ID,
			EventType:  e.EventType,
			Subject:    e.Subject,
			Role:       e.Role,
			Detail:     e.Detail,
			OccurredAt: e.OccurredAt,
		})
	}
	return out
}
