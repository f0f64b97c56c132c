package domain

import "time"

// AuditEntry is one persisted session lifecycle event.
type AuditEntry struct {
	ID         string
	EventType  string
	Subject    string
	Role       Role
	Detail     map[string]any
	OccurredAt time.Time
}
