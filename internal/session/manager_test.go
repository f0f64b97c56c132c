package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/events"
	"github.com/tillpoint/pos-gateway/internal/tokenstore"
)

type fakeAuth struct {
	loginFn   func(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error)
	refreshFn func(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

func (f fakeAuth) Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error) {
	if f.loginFn == nil {
		return domain.LoginResult{}, errors.New("login not stubbed")
	}
	return f.loginFn(ctx, creds)
}

func (f fakeAuth) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	if f.refreshFn == nil {
		return domain.TokenPair{}, errors.New("refresh not stubbed")
	}
	return f.refreshFn(ctx, refreshToken)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) subscribe(d events.Dispatcher) {
	for _, eventType := range events.AllTypes {
		d.Subscribe(eventType, func(_ context.Context, ev events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
			return nil
		})
	}
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func token(t *testing.T, sub string, role domain.Role, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": string(role),
		"exp":  exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type harness struct {
	manager *Manager
	store   *tokenstore.MemoryStore
	clock   *clock
	events  *recorder
}

func newHarness(t *testing.T, authn Authenticator, seed func(*tokenstore.MemoryStore, time.Time)) harness {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := tokenstore.NewMemoryStore()
	if seed != nil {
		seed(store, clk.Now())
	}
	dispatcher := events.NewInMemoryDispatcher()
	rec := &recorder{}
	rec.subscribe(dispatcher)

	m, err := New(context.Background(), Options{
		Store:      store,
		Auth:       authn,
		Dispatcher: dispatcher,
		Now:        clk.Now,
	})
	require.NoError(t, err)
	return harness{manager: m, store: store, clock: clk, events: rec}
}

func stored(t *testing.T, s tokenstore.Store, kind domain.TokenKind) string {
	t.Helper()
	v, err := s.Get(context.Background(), kind)
	require.NoError(t, err)
	return v
}

func TestNewRestoresValidSession(t *testing.T) {
	var persisted string
	h := newHarness(t, nil, func(s *tokenstore.MemoryStore, now time.Time) {
		persisted = token(t, "u-1", domain.RolePOS, now.Add(time.Hour))
		require.NoError(t, s.Set(context.Background(), domain.TokenAccess, persisted))
	})

	assert.Equal(t, domain.SessionAuthenticated, h.manager.State())
	identity, ok := h.manager.Current()
	require.True(t, ok)
	assert.Equal(t, "u-1", identity.Subject)
	assert.Equal(t, domain.RolePOS, identity.Role)
	assert.Equal(t, persisted, identity.RawToken)
}

func TestNewDiscardsExpiredSession(t *testing.T) {
	h := newHarness(t, nil, func(s *tokenstore.MemoryStore, now time.Time) {
		require.NoError(t, s.Set(context.Background(), domain.TokenAccess, token(t, "u-1", domain.RolePOS, now.Add(-time.Minute))))
		require.NoError(t, s.Set(context.Background(), domain.TokenRefresh, "r-old"))
	})

	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
	_, ok := h.manager.Current()
	assert.False(t, ok)
	assert.Empty(t, stored(t, h.store, domain.TokenAccess))
	assert.Empty(t, stored(t, h.store, domain.TokenRefresh))
}

func TestLoginThenLogout(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	access := token(t, "u-1", domain.RoleAdmin, h.clock.Now().Add(time.Hour))

	require.NoError(t, h.manager.Login(ctx, access))
	assert.Equal(t, domain.SessionAuthenticated, h.manager.State())
	assert.Equal(t, access, stored(t, h.store, domain.TokenAccess))
	assert.Equal(t, access, h.manager.AccessToken(ctx))

	require.NoError(t, h.manager.Logout(ctx))
	require.NoError(t, h.manager.Logout(ctx))

	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
	_, ok := h.manager.Current()
	assert.False(t, ok)
	assert.Empty(t, stored(t, h.store, domain.TokenAccess))
	assert.Empty(t, stored(t, h.store, domain.TokenRefresh))
	assert.Equal(t, []events.EventType{events.EventLoggedIn, events.EventLoggedOut}, h.events.types())
}

func TestLoginRejectsExpiredAndMalformedTokens(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	for _, bad := range []string{
		token(t, "u-1", domain.RoleAdmin, h.clock.Now().Add(-time.Second)),
		token(t, "u-1", domain.RoleAdmin, h.clock.Now()),
		"not-a-token",
		"",
	} {
		err := h.manager.Login(ctx, bad)
		assert.ErrorIs(t, err, ErrTokenRejected)
	}
	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
	assert.Empty(t, stored(t, h.store, domain.TokenAccess))
	assert.Empty(t, h.events.types())
}

func TestSignInStoresPairAndProfile(t *testing.T) {
	var access string
	authn := fakeAuth{loginFn: func(_ context.Context, creds domain.Credentials) (domain.LoginResult, error) {
		assert.Equal(t, "ana@shop.test", creds.Email)
		return domain.LoginResult{
			TokenPair: domain.TokenPair{AccessToken: access, RefreshToken: "r-1"},
			User:      domain.UserProfile(`{"name":"Ana"}`),
		}, nil
	}}
	h := newHarness(t, authn, nil)
	access = token(t, "u-9", domain.RolePOS, h.clock.Now().Add(time.Hour))

	identity, err := h.manager.SignIn(context.Background(), domain.Credentials{Email: "ana@shop.test", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u-9", identity.Subject)
	assert.Equal(t, "r-1", stored(t, h.store, domain.TokenRefresh))

	profile, err := h.manager.Profile(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana"}`, string(profile))
}

func TestSignInPropagatesRemoteError(t *testing.T) {
	remote := errors.New("invalid credentials")
	h := newHarness(t, fakeAuth{loginFn: func(context.Context, domain.Credentials) (domain.LoginResult, error) {
		return domain.LoginResult{}, remote
	}}, nil)

	_, err := h.manager.SignIn(context.Background(), domain.Credentials{})
	assert.ErrorIs(t, err, remote)
	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
}

func TestRefreshRotatesTokens(t *testing.T) {
	var next string
	authn := fakeAuth{refreshFn: func(_ context.Context, refreshToken string) (domain.TokenPair, error) {
		assert.Equal(t, "r-1", refreshToken)
		return domain.TokenPair{AccessToken: next, RefreshToken: "r-2"}, nil
	}}
	h := newHarness(t, authn, nil)
	ctx := context.Background()
	next = token(t, "u-1", domain.RoleUser, h.clock.Now().Add(2*time.Hour))

	require.NoError(t, h.store.Set(ctx, domain.TokenRefresh, "r-1"))
	require.NoError(t, h.manager.Login(ctx, token(t, "u-1", domain.RoleUser, h.clock.Now().Add(time.Minute))))

	got, err := h.manager.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)
	assert.Equal(t, next, stored(t, h.store, domain.TokenAccess))
	assert.Equal(t, "r-2", stored(t, h.store, domain.TokenRefresh))

	identity, ok := h.manager.Current()
	require.True(t, ok)
	assert.Equal(t, next, identity.RawToken)
}

func TestRefreshWithoutRotationKeepsRefreshToken(t *testing.T) {
	var next string
	h := newHarness(t, fakeAuth{refreshFn: func(context.Context, string) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: next}, nil
	}}, nil)
	ctx := context.Background()
	next = token(t, "u-1", domain.RoleUser, h.clock.Now().Add(time.Hour))
	require.NoError(t, h.store.Set(ctx, domain.TokenRefresh, "r-1"))

	_, err := h.manager.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r-1", stored(t, h.store, domain.TokenRefresh))
	assert.Equal(t, domain.SessionAuthenticated, h.manager.State())
}

func TestRefreshFailureClearsBothTokens(t *testing.T) {
	cases := map[string]struct {
		refreshToken string
		refreshFn    func(context.Context, string) (domain.TokenPair, error)
	}{
		"rejected": {
			refreshToken: "r-1",
			refreshFn: func(context.Context, string) (domain.TokenPair, error) {
				return domain.TokenPair{}, errors.New("401 from refresh")
			},
		},
		"no refresh token": {},
		"expired replacement": {
			refreshToken: "r-1",
			refreshFn: func(context.Context, string) (domain.TokenPair, error) {
				return domain.TokenPair{AccessToken: "a.b.c"}, nil
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, fakeAuth{refreshFn: tc.refreshFn}, nil)
			ctx := context.Background()
			require.NoError(t, h.manager.Login(ctx, token(t, "u-1", domain.RoleUser, h.clock.Now().Add(time.Minute))))
			if tc.refreshToken != "" {
				require.NoError(t, h.store.Set(ctx, domain.TokenRefresh, tc.refreshToken))
			}

			_, err := h.manager.Refresh(ctx)
			var failure *RefreshFailure
			require.ErrorAs(t, err, &failure)

			assert.Equal(t, domain.SessionAnonymous, h.manager.State())
			assert.Empty(t, stored(t, h.store, domain.TokenAccess))
			assert.Empty(t, stored(t, h.store, domain.TokenRefresh))
			assert.Contains(t, h.events.types(), events.EventRefreshFailed)
		})
	}
}

func TestConcurrentRefreshesShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	var next string
	h := newHarness(t, fakeAuth{refreshFn: func(context.Context, string) (domain.TokenPair, error) {
		calls.Add(1)
		<-release
		return domain.TokenPair{AccessToken: next, RefreshToken: "r-2"}, nil
	}}, nil)
	ctx := context.Background()
	next = token(t, "u-1", domain.RoleUser, h.clock.Now().Add(time.Hour))
	require.NoError(t, h.store.Set(ctx, domain.TokenRefresh, "r-1"))

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.manager.Refresh(ctx)
			assert.NoError(t, err)
			results <- got
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	for got := range results {
		assert.Equal(t, next, got)
	}
}

func TestRefreshHonoursCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, fakeAuth{refreshFn: func(context.Context, string) (domain.TokenPair, error) {
		<-release
		return domain.TokenPair{}, errors.New("late")
	}}, nil)
	require.NoError(t, h.store.Set(context.Background(), domain.TokenRefresh, "r-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.manager.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepLogsOutExpiredSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, h.manager.Login(ctx, token(t, "u-1", domain.RoleAdmin, h.clock.Now().Add(30*time.Second))))

	require.NoError(t, h.manager.Sweep(ctx))
	assert.Equal(t, domain.SessionAuthenticated, h.manager.State())

	h.clock.Advance(time.Minute)
	_, ok := h.manager.Current()
	assert.False(t, ok, "identity must not outlive its token between sweeps")

	require.NoError(t, h.manager.Sweep(ctx))
	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
	assert.Empty(t, stored(t, h.store, domain.TokenAccess))
	assert.Equal(t, []events.EventType{
		events.EventLoggedIn,
		events.EventExpired,
		events.EventLoggedOut,
	}, h.events.types())
}

func TestSweepZeroExpToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, domain.TokenAccess, "eyJhbGciOiJIUzI1NiJ9.eyJyb2xlIjoiYWRtaW4iLCJleHAiOjB9.sig"))

	require.NoError(t, h.manager.Sweep(ctx))
	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
	assert.Empty(t, stored(t, h.store, domain.TokenAccess))
}

func TestSweepAdoptsTokenWrittenElsewhere(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	external := token(t, "u-2", domain.RoleCustomer, h.clock.Now().Add(time.Hour))
	require.NoError(t, h.store.Set(ctx, domain.TokenAccess, external))

	require.NoError(t, h.manager.Sweep(ctx))
	identity, ok := h.manager.Current()
	require.True(t, ok)
	assert.Equal(t, domain.RoleCustomer, identity.Role)
}

func TestSweepDropsIdentityWhenTokenRemoved(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, h.manager.Login(ctx, token(t, "u-1", domain.RoleAdmin, h.clock.Now().Add(time.Hour))))
	require.NoError(t, h.store.Clear(ctx, domain.TokenAccess))

	require.NoError(t, h.manager.Sweep(ctx))
	assert.Equal(t, domain.SessionAnonymous, h.manager.State())
}

func TestSweepRefreshesAhead(t *testing.T) {
	var next string
	var calls atomic.Int32
	authn := fakeAuth{refreshFn: func(context.Context, string) (domain.TokenPair, error) {
		calls.Add(1)
		return domain.TokenPair{AccessToken: next}, nil
	}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := tokenstore.NewMemoryStore()
	m, err := New(context.Background(), Options{Store: store, Auth: authn, Now: clk.Now, RefreshAhead: 2 * time.Minute})
	require.NoError(t, err)

	ctx := context.Background()
	next = token(t, "u-1", domain.RolePOS, clk.Now().Add(time.Hour))
	require.NoError(t, store.Set(ctx, domain.TokenRefresh, "r-1"))
	require.NoError(t, m.Login(ctx, token(t, "u-1", domain.RolePOS, clk.Now().Add(10*time.Minute))))

	require.NoError(t, m.Sweep(ctx))
	assert.Zero(t, calls.Load())

	clk.Advance(9 * time.Minute)
	require.NoError(t, m.Sweep(ctx))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, next, m.AccessToken(ctx))
}

// pausingStore blocks the next access-token read, after the value has been read, until
// released.
type pausingStore struct {
	*tokenstore.MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{
		MemoryStore: tokenstore.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (s *pausingStore) Get(ctx context.Context, kind domain.TokenKind) (string, error) {
	value, err := s.MemoryStore.Get(ctx, kind)
	if kind == domain.TokenAccess && s.armed.CompareAndSwap(true, false) {
		s.entered <- struct{}{}
		<-s.release
	}
	return value, err
}

func TestSweepKeepsTokenRefreshedWhileReading(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newPausingStore()
	fresh := token(t, "u-1", domain.RolePOS, clk.Now().Add(2*time.Hour))
	authn := fakeAuth{refreshFn: func(context.Context, string) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: fresh}, nil
	}}
	m, err := New(ctx, Options{Store: store, Auth: authn, Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, m.Login(ctx, token(t, "u-1", domain.RolePOS, clk.Now().Add(time.Minute))))
	require.NoError(t, store.Set(ctx, domain.TokenRefresh, "r-1"))
	clk.Advance(2 * time.Minute)

	store.armed.Store(true)
	done := make(chan error, 1)
	go func() { done <- m.Sweep(ctx) }()
	<-store.entered

	got, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	close(store.release)
	require.NoError(t, <-done)

	assert.Equal(t, fresh, stored(t, store.MemoryStore, domain.TokenAccess))
	assert.Equal(t, domain.SessionAuthenticated, m.State())
	identity, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, fresh, identity.RawToken)
}

func TestSweepDoesNotRestoreIdentityAfterLogout(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newPausingStore()
	m, err := New(ctx, Options{Store: store, Now: clk.Now})
	require.NoError(t, err)
	require.NoError(t, m.Login(ctx, token(t, "u-1", domain.RoleAdmin, clk.Now().Add(time.Hour))))

	store.armed.Store(true)
	done := make(chan error, 1)
	go func() { done <- m.Sweep(ctx) }()
	<-store.entered

	require.NoError(t, m.Logout(ctx))

	close(store.release)
	require.NoError(t, <-done)

	assert.Empty(t, stored(t, store.MemoryStore, domain.TokenAccess))
	_, ok := m.Current()
	assert.False(t, ok)
	assert.Equal(t, domain.SessionAnonymous, m.State())
}

func TestCurrentAgreesWithIsExpiredOnFractionalExp(t *testing.T) {
	previous := jwt.TimePrecision
	jwt.TimePrecision = time.Millisecond
	t.Cleanup(func() { jwt.TimePrecision = previous })

	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	m, err := New(ctx, Options{Store: tokenstore.NewMemoryStore(), Now: clk.Now})
	require.NoError(t, err)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u-1",
		"role": "POS",
		"exp":  float64(clk.Now().Unix()+60) + 0.5,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	require.NoError(t, m.Login(ctx, raw))

	clk.Advance(60*time.Second + 200*time.Millisecond)
	require.False(t, auth.IsExpired(raw, clk.Now()))
	_, ok := m.Current()
	assert.True(t, ok)

	clk.Advance(300 * time.Millisecond)
	require.True(t, auth.IsExpired(raw, clk.Now()))
	_, ok = m.Current()
	assert.False(t, ok)
}
