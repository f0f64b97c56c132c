package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// EventType enumerates session lifecycle events.
type EventType string

const (
	EventLoggedIn      EventType = "session.logged_in"
	EventLoggedOut     EventType = "session.logged_out"
	EventRefreshed     EventType = "session.refreshed"
	EventRefreshFailed EventType = "session.refresh_failed"
	EventExpired       EventType = "session.expired"
	EventAccessDenied  EventType = "session.access_denied"
)

// AllTypes lists every event type, in the order they are documented.
var AllTypes = []EventType{
	EventLoggedIn,
	EventLoggedOut,
	EventRefreshed,
	EventRefreshFailed,
	EventExpired,
	EventAccessDenied,
}

// Event represents a session event emitted by the session manager or the route guard.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Subject   string         `json:"subject,omitempty"`
	Role      domain.Role    `json:"role,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the given time.
func NewEvent(eventType EventType, identity domain.Identity, at time.Time, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   identity.Subject,
		Role:      identity.Role,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}
