package domain

import "encoding/json"

// Credentials are forwarded verbatim to the remote login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserProfile is the cached profile object returned on login. Its shape belongs to the
// remote API, so it is kept as raw JSON.
type UserProfile json.RawMessage

// MarshalJSON keeps the cached bytes untouched.
func (p UserProfile) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON stores a copy of the raw bytes.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// LoginResult is the body of POST /auth/login.
type LoginResult struct {
	TokenPair
	User UserProfile `json:"user,omitempty"`
}
