package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/session"
	"github.com/tillpoint/pos-gateway/internal/tokenstore"
)

// Same shape as a far-future admin token, but with exp 0.
const zeroExpAdmin = "eyJhbGciOiJIUzI1NiJ9.eyJyb2xlIjoiYWRtaW4iLCJleHAiOjB9.sig"

func TestSweeperLogsOutExpiredSessionWithinOneTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := tokenstore.NewMemoryStore()
	manager, err := session.New(ctx, session.Options{Store: store})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.TokenAccess, zeroExpAdmin))

	interval := 20 * time.Millisecond
	done := StartSessionSweeper(ctx, manager, interval, zap.NewNop())

	require.Eventually(t, func() bool {
		token, _ := store.Get(ctx, domain.TokenAccess)
		return token == ""
	}, 5*interval, time.Millisecond)
	assert.Equal(t, domain.SessionAnonymous, manager.State())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeperDisabled(t *testing.T) {
	done := StartSessionSweeper(context.Background(), nil, time.Second, zap.NewNop())
	select {
	case <-done:
	default:
		t.Fatal("disabled sweeper should report done immediately")
	}
}
