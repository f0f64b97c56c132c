// Package session owns the terminal session: the persisted tokens, the decoded identity
// derived from the access token, and the transitions between anonymous, authenticated and
// expiring.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/events"
	"github.com/tillpoint/pos-gateway/internal/observability"
	"github.com/tillpoint/pos-gateway/internal/tokenstore"
)

// ErrTokenRejected is returned by Login for tokens that are expired or cannot be decoded.
var ErrTokenRejected = errors.New("session: token rejected")

// RefreshFailure is the terminal error of the forced-refresh path. By the time it is
// returned the session has been logged out.
type RefreshFailure struct {
	Reason string
	Err    error
}

func (e *RefreshFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session refresh failed: %s: %v", e.Reason, e.Err)
	}
	return "session refresh failed: " + e.Reason
}

func (e *RefreshFailure) Unwrap() error { return e.Err }

// Authenticator talks to the remote auth endpoints.
type Authenticator interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// Options configures a Manager.
type Options struct {
	Store        tokenstore.Store
	Auth         Authenticator
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
	RefreshAhead time.Duration
}

// Manager is the single owner of session state. Token writes and identity updates happen
// under the same lock, so readers never see a role that disagrees with the stored token.
type Manager struct {
	store        tokenstore.Store
	auth         Authenticator
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	refreshAhead time.Duration

	mu       sync.RWMutex
	state    domain.SessionState
	identity *domain.Identity

	refreshes singleflight.Group
}

// New builds a manager and restores an authenticated session from the store when a
// non-expired access token is persisted. An expired persisted session is cleared.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	m := &Manager{
		store:        opts.Store,
		auth:         opts.Auth,
		dispatcher:   opts.Dispatcher,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		refreshAhead: opts.RefreshAhead,
		state:        domain.SessionAnonymous,
	}
	if m.dispatcher == nil {
		m.dispatcher = events.Nop{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}

	if err := m.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) restore(ctx context.Context) error {
	token, err := m.store.Get(ctx, domain.TokenAccess)
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	if token == "" {
		return nil
	}

	identity, err := auth.Identify(token, m.now())
	if err != nil {
		m.logger.Info("discarding persisted session", zap.Error(err))
		return tokenstore.ClearAll(ctx, m.store)
	}

	m.mu.Lock()
	m.identity = &identity
	m.state = domain.SessionAuthenticated
	m.mu.Unlock()

	m.logger.Info("session restored",
		zap.String("subject", identity.Subject),
		zap.String("role", string(identity.Role)),
		zap.Time("expires_at", identity.ExpiresAt))
	return nil
}

// Login installs token as the session token. Expired or undecodable tokens are rejected
// with ErrTokenRejected and leave the session untouched.
func (m *Manager) Login(ctx context.Context, token string) error {
	_, err := m.install(ctx, domain.LoginResult{TokenPair: domain.TokenPair{AccessToken: token}})
	return err
}

// SignIn exchanges credentials for tokens and installs them.
func (m *Manager) SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	if m.auth == nil {
		return domain.Identity{}, errors.New("session: no authenticator configured")
	}
	result, err := m.auth.Login(ctx, creds)
	if err != nil {
		return domain.Identity{}, err
	}
	return m.install(ctx, result)
}

func (m *Manager) install(ctx context.Context, result domain.LoginResult) (domain.Identity, error) {
	identity, err := auth.Identify(result.AccessToken, m.now())
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}

	m.mu.Lock()
	err = m.persist(ctx, result.TokenPair)
	if err == nil && len(result.User) > 0 {
		err = m.store.SetUser(ctx, result.User)
	}
	if err == nil {
		m.identity = &identity
		m.state = domain.SessionAuthenticated
	}
	m.mu.Unlock()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("session: persist login: %w", err)
	}

	m.logger.Info("session logged in",
		zap.String("subject", identity.Subject),
		zap.String("role", string(identity.Role)))
	m.publish(ctx, events.EventLoggedIn, identity, nil)
	return identity, nil
}

// persist writes the pair; callers hold mu.
func (m *Manager) persist(ctx context.Context, pair domain.TokenPair) error {
	if err := m.store.Set(ctx, domain.TokenAccess, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken != "" {
		if err := m.store.Set(ctx, domain.TokenRefresh, pair.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

// Logout clears the persisted tokens and profile and drops the identity. Calling it on an
// anonymous session is a no-op apart from clearing the store again.
func (m *Manager) Logout(ctx context.Context) error {
	return m.logout(ctx, "logout")
}

func (m *Manager) logout(ctx context.Context, reason string) error {
	m.mu.Lock()
	out := m.logoutLocked(ctx)
	m.mu.Unlock()
	return m.finishLogout(ctx, reason, out)
}

type logoutResult struct {
	previous     domain.Identity
	wasAnonymous bool
	err          error
}

// logoutLocked clears the store and drops the identity; callers hold mu.
func (m *Manager) logoutLocked(ctx context.Context) logoutResult {
	out := logoutResult{wasAnonymous: m.state == domain.SessionAnonymous}
	if m.identity != nil {
		out.previous = *m.identity
	}
	out.err = tokenstore.ClearAll(ctx, m.store)
	m.identity = nil
	m.state = domain.SessionAnonymous
	return out
}

func (m *Manager) finishLogout(ctx context.Context, reason string, out logoutResult) error {
	if out.err != nil {
		m.logger.Warn("clear session tokens", zap.Error(out.err))
	}
	if !out.wasAnonymous {
		m.logger.Info("session logged out", zap.String("reason", reason), zap.String("subject", out.previous.Subject))
		m.publish(ctx, events.EventLoggedOut, out.previous, map[string]any{"reason": reason})
	}
	return out.err
}

// Refresh runs the forced-refresh path and returns the new access token. Concurrent callers
// share one call to the refresh endpoint. On any failure both tokens are cleared and a
// *RefreshFailure is returned.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ch := m.refreshes.DoChan("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RecordRefresh("shared")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	refreshToken, err := m.store.Get(ctx, domain.TokenRefresh)
	if err != nil {
		return "", m.refreshFailed(ctx, "read refresh token", err)
	}
	if refreshToken == "" {
		return "", m.refreshFailed(ctx, "no refresh token", nil)
	}
	if m.auth == nil {
		return "", m.refreshFailed(ctx, "no authenticator configured", nil)
	}

	pair, err := m.auth.Refresh(ctx, refreshToken)
	if err != nil {
		return "", m.refreshFailed(ctx, "refresh rejected", err)
	}
	identity, err := auth.Identify(pair.AccessToken, m.now())
	if err != nil {
		return "", m.refreshFailed(ctx, "refreshed token unusable", err)
	}

	m.mu.Lock()
	err = m.persist(ctx, pair)
	if err == nil {
		m.identity = &identity
		m.state = domain.SessionAuthenticated
	}
	m.mu.Unlock()
	if err != nil {
		return "", m.refreshFailed(ctx, "persist refreshed tokens", err)
	}

	m.metrics.RecordRefresh("ok")
	m.logger.Info("session refreshed",
		zap.String("subject", identity.Subject),
		zap.Bool("rotated", pair.RefreshToken != ""),
		zap.Time("expires_at", identity.ExpiresAt))
	m.publish(ctx, events.EventRefreshed, identity, map[string]any{"rotated": pair.RefreshToken != ""})
	return pair.AccessToken, nil
}

func (m *Manager) refreshFailed(ctx context.Context, reason string, cause error) error {
	failure := &RefreshFailure{Reason: reason, Err: cause}
	m.metrics.RecordRefresh("failed")
	m.logger.Warn("session refresh failed", zap.Error(failure))

	identity, _ := m.Current()
	m.publish(ctx, events.EventRefreshFailed, identity, map[string]any{"reason": reason})
	_ = m.logout(ctx, "refresh_failed")
	return failure
}

// Sweep re-checks the persisted access token. An expired token moves the session through
// Expiring to Anonymous. When RefreshAhead is set, a token expiring within that window is
// refreshed first. A token replaced while the sweep was reading it is left for the next sweep.
func (m *Manager) Sweep(ctx context.Context) error {
	token, err := m.store.Get(ctx, domain.TokenAccess)
	if err != nil {
		return fmt.Errorf("session: sweep: %w", err)
	}

	now := m.now()
	if token == "" {
		return m.sweepMissing(ctx)
	}

	claims, err := auth.Decode(token)
	if err != nil || claims.Expired(now) {
		return m.sweepExpired(ctx, token)
	}

	if !m.adopt(ctx, token, claims) {
		return nil
	}
	if m.refreshAhead > 0 && claims.ExpiresAt.Sub(now) <= m.refreshAhead {
		if _, err := m.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sweepMissing(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.SessionAnonymous || !m.stillStored(ctx, "") {
		m.mu.Unlock()
		return nil
	}
	out := m.logoutLocked(ctx)
	m.mu.Unlock()
	return m.finishLogout(ctx, "token_missing", out)
}

func (m *Manager) sweepExpired(ctx context.Context, token string) error {
	m.mu.Lock()
	if !m.stillStored(ctx, token) {
		m.mu.Unlock()
		return nil
	}
	m.state = domain.SessionExpiring
	out := m.logoutLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("session expired", zap.String("subject", out.previous.Subject))
	m.publish(ctx, events.EventExpired, out.previous, nil)
	return m.finishLogout(ctx, "expired", out)
}

// stillStored reports whether the persisted access token is still token; callers hold mu.
func (m *Manager) stillStored(ctx context.Context, token string) bool {
	current, err := m.store.Get(ctx, domain.TokenAccess)
	if err != nil {
		m.logger.Warn("re-read access token", zap.Error(err))
		return false
	}
	return current == token
}

// adopt keeps the identity in step with a valid token written by another process sharing
// the store. It reports false when the token changed while the sweep was reading it.
func (m *Manager) adopt(ctx context.Context, token string, claims *auth.Claims) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stillStored(ctx, token) {
		return false
	}
	if m.identity != nil && m.identity.RawToken == token {
		return true
	}
	m.identity = &domain.Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		ExpiresAt: *claims.ExpiresAt,
		RawToken:  token,
	}
	m.state = domain.SessionAuthenticated
	return true
}

// Current returns the decoded identity while it is still valid.
func (m *Manager) Current() (domain.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil || m.identity.Expired(m.now()) {
		return domain.Identity{}, false
	}
	return *m.identity, true
}

// State returns the lifecycle state.
func (m *Manager) State() domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// AccessToken returns the persisted access token, or "" when there is none or the store
// cannot be read.
func (m *Manager) AccessToken(ctx context.Context) string {
	token, err := m.store.Get(ctx, domain.TokenAccess)
	if err != nil {
		m.logger.Warn("read access token", zap.Error(err))
		return ""
	}
	return token
}

// Profile returns the cached user profile.
func (m *Manager) Profile(ctx context.Context) (domain.UserProfile, error) {
	return m.store.GetUser(ctx)
}

func (m *Manager) publish(ctx context.Context, eventType events.EventType, identity domain.Identity, payload map[string]any) {
	ev := events.NewEvent(eventType, identity, m.now(), payload)
	if err := m.dispatcher.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish session event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
