package domain

import "time"

// Role is the role claim carried by a session token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePOS      Role = "POS"
	RoleUser     Role = "user"
	RoleCustomer Role = "customer"
	RoleGuest    Role = "guest"
)

// TokenKind selects which persisted token to read or write.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// StorageKey returns the persisted key name for the kind.
func (k TokenKind) StorageKey() string {
	switch k {
	case TokenAccess:
		return "accessToken"
	case TokenRefresh:
		return "refreshToken"
	default:
		return ""
	}
}

// UserStorageKey is the persisted key of the cached user profile.
const UserStorageKey = "user"

// Identity is the decoded form of the current access token. It only lives in memory.
type Identity struct {
	Subject   string
	Role      Role
	ExpiresAt time.Time
	RawToken  string
}

// Expired reports whether the identity is at or past its expiry at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// TokenPair is returned by the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
