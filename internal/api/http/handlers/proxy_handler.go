package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/tillpoint/pos-gateway/pkg/util"
)

// Doer sends a request to the POS API with the session attached.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
	URL(path, rawQuery string) string
}

var forwardedRequestHeaders = []string{
	fiber.HeaderAccept,
	fiber.HeaderAcceptLanguage,
	fiber.HeaderContentType,
	fiber.HeaderXRequestID,
	fiber.HeaderIfNoneMatch,
}

var forwardedResponseHeaders = []string{
	fiber.HeaderContentType,
	fiber.HeaderCacheControl,
	fiber.HeaderETag,
	fiber.HeaderLocation,
}

// ProxyHandler forwards /api/* to the POS API through the session-aware client. Payloads are
// passed through untouched.
type ProxyHandler struct {
	client Doer
}

// NewProxyHandler constructs handler.
func NewProxyHandler(client Doer) *ProxyHandler {
	return &ProxyHandler{client: client}
}

// Forward handles ANY /api/*.
func (h *ProxyHandler) Forward(c *fiber.Ctx) error {
	target := h.client.URL("/"+strings.TrimPrefix(c.Params("*"), "/"), string(c.Request().URI().QueryString()))

	var body io.Reader
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}
	req, err := http.NewRequestWithContext(c.UserContext(), c.Method(), target, body)
	if err != nil {
		return apperrors.NewValidationError("invalid upstream request", map[string]any{"reason": err.Error()})
	}
	for _, name := range forwardedRequestHeaders {
		if v := c.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return apperrors.NewUpstreamError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewUpstreamError(err)
	}
	for _, name := range forwardedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			c.Set(name, v)
		}
	}
	return c.Status(resp.StatusCode).Send(payload)
}
