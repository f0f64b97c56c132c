package domain

// SessionState is the lifecycle state of the terminal session.
type SessionState string

const (
	SessionAnonymous     SessionState = "ANONYMOUS"
	SessionAuthenticated SessionState = "AUTHENTICATED"
	SessionExpiring      SessionState = "EXPIRING"
)
