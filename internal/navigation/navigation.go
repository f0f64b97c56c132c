// Package navigation carries the redirect side effect of one navigation through a context.
package navigation

import (
	"context"
	"sync"
)

// Navigation records the first redirect requested while handling one navigation. Later
// redirects within the same navigation are ignored.
type Navigation struct {
	mu     sync.Mutex
	target string
}

// New returns an empty navigation.
func New() *Navigation {
	return &Navigation{}
}

// Redirect requests a redirect to route. It reports whether this call set the target.
func (n *Navigation) Redirect(route string) bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.target != "" {
		return false
	}
	n.target = route
	return true
}

// Target returns the requested redirect, if any.
func (n *Navigation) Target() (string, bool) {
	if n == nil {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target, n.target != ""
}

type ctxKey struct{}

// WithContext attaches n to ctx.
func WithContext(ctx context.Context, n *Navigation) context.Context {
	return context.WithValue(ctx, ctxKey{}, n)
}

// FromContext returns the navigation attached to ctx, or nil.
func FromContext(ctx context.Context) *Navigation {
	n, _ := ctx.Value(ctxKey{}).(*Navigation)
	return n
}
