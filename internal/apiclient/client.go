// Package apiclient is the HTTP client used for every call to the remote POS API. It attaches
// the session's bearer token and recovers from one expired session per request by refreshing
// and retrying once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tillpoint/pos-gateway/internal/navigation"
	"github.com/tillpoint/pos-gateway/internal/observability"
	"github.com/tillpoint/pos-gateway/internal/session"
)

// Attempt says which send of a request produced a response. A request is sent at most twice.
type Attempt int

const (
	AttemptFresh Attempt = iota
	AttemptRetried
)

func (a Attempt) String() string {
	switch a {
	case AttemptFresh:
		return "fresh"
	case AttemptRetried:
		return "retried"
	default:
		return fmt.Sprintf("attempt(%d)", int(a))
	}
}

// Session is the part of the session manager the client depends on.
type Session interface {
	AccessToken(ctx context.Context) string
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    Session
	LoginRoute string
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Client wraps an http.Client with the bearer-token and refresh-on-401 behaviour.
type Client struct {
	base       *url.URL
	http       *http.Client
	session    Session
	loginRoute string
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// New builds a client.
func New(opts Options) (*Client, error) {
	if opts.Session == nil {
		return nil, errors.New("apiclient: session is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	c := &Client{
		base:       base,
		http:       opts.HTTPClient,
		session:    opts.Session,
		loginRoute: opts.LoginRoute,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.loginRoute == "" {
		c.loginRoute = "/login"
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// URL resolves path against the API base URL.
func (c *Client) URL(path, rawQuery string) string {
	u := c.base.JoinPath(path)
	u.RawQuery = rawQuery
	return u.String()
}

// Do sends req like http.Client.Do. A 401 on the first attempt triggers one forced refresh:
// on success the request is re-sent once with the new token and that response is returned,
// whatever its status. When the refresh fails with a *session.RefreshFailure the navigation
// in req's context is redirected to the login route and the original 401 response is
// returned. Any other error, such as the caller's context ending, is returned as is. Other
// statuses pass through.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	token := c.session.AccessToken(ctx)
	resp, err := c.send(req, body, requestID, token, AttemptFresh)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	next, err := c.renew(ctx, token)
	var failure *session.RefreshFailure
	switch {
	case errors.As(err, &failure):
		c.logger.Warn("session could not be renewed",
			zap.String("request_id", requestID),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		c.redirectToLogin(ctx)
		return resp, nil
	case err != nil:
		drain(resp)
		return nil, err
	}

	drain(resp)
	return c.send(req, body, requestID, next, AttemptRetried)
}

// renew returns a token to retry with. When another request already replaced the token this
// one was sent with, that token is reused instead of refreshing again.
func (c *Client) renew(ctx context.Context, sent string) (string, error) {
	if current := c.session.AccessToken(ctx); current != "" && current != sent {
		return current, nil
	}
	return c.session.Refresh(ctx)
}

func (c *Client) send(req *http.Request, body []byte, requestID, token string, attempt Attempt) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	out.Header.Set("X-Request-ID", requestID)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordUpstream(resp.StatusCode, attempt.String())
	c.logger.Debug("upstream response",
		zap.String("request_id", requestID),
		zap.String("method", out.Method),
		zap.String("url", out.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("attempt", attempt))
	return resp, nil
}

func (c *Client) redirectToLogin(ctx context.Context) {
	nav := navigation.FromContext(ctx)
	if nav == nil {
		c.logger.Warn("login redirect requested outside a navigation")
		return
	}
	if nav.Redirect(c.loginRoute) {
		c.metrics.RecordRedirect(c.loginRoute)
	}
}

// GetJSON fetches path and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, ""), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: buffer request body: %w", err)
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
