package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// ErrMalformedToken is matched by every DecodeError.
var ErrMalformedToken = errors.New("malformed token")

// DecodeError reports why a token could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode token: %s: %v", e.Reason, e.Err)
	}
	return "decode token: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedToken) match any decode failure.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformedToken }

// Claims is the decoded payload of a session token.
type Claims struct {
	Subject   string
	Role      domain.Role
	ExpiresAt *time.Time
	IssuedAt  *time.Time
	Raw       jwt.MapClaims
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode reads the payload of a JWT without verifying its signature. The server stays the
// authority on validity; the terminal only needs the role and expiry.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, &DecodeError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, &DecodeError{Reason: "payload is not base64url", Err: err}
	}

	var raw jwt.MapClaims
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Reason: "payload is not a JSON object", Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Reason: "payload is empty"}
	}

	claims := &Claims{Raw: raw}
	if sub, err := raw.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if role, ok := raw["role"].(string); ok {
		claims.Role = domain.Role(role)
	}
	exp, err := raw.GetExpirationTime()
	if err != nil {
		return nil, &DecodeError{Reason: "exp claim is not numeric", Err: err}
	}
	if exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}
	if iat, err := raw.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		claims.IssuedAt = &t
	}
	return claims, nil
}

// Expired reports whether the claims are past exp at now. A missing exp counts as expired.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return true
	}
	return !c.ExpiresAt.After(now)
}

// IsExpired fails towards "expired": undecodable tokens and tokens without exp are never trusted.
func IsExpired(token string, now time.Time) bool {
	claims, err := Decode(token)
	if err != nil {
		return true
	}
	return claims.Expired(now)
}

// Identify decodes token into an Identity, rejecting expired tokens.
func Identify(token string, now time.Time) (domain.Identity, error) {
	claims, err := Decode(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if claims.Expired(now) {
		return domain.Identity{}, ErrTokenExpired
	}
	return domain.Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		ExpiresAt: *claims.ExpiresAt,
		RawToken:  token,
	}, nil
}

// ErrTokenExpired is returned by Identify for tokens at or past exp.
var ErrTokenExpired = errors.New("token expired")
