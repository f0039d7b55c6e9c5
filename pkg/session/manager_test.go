package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/channel"
	"vaultproxy/pkg/handshake"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() logger.Logger {
	return logger.NewLogger(nopWriter{}, logger.ErrorLevel)
}

func testChannel(t *testing.T) *channel.Channel {
	t.Helper()
	var keys channel.SessionKeys
	keys.SessionID = "test"
	ch, err := channel.New(keys)
	require.NoError(t, err)
	return ch
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(0, testLogger())
	t.Cleanup(m.Close)
	return m
}

func TestPromoteMovesHandshakeFromPendingToSessions(t *testing.T) {
	m := newTestManager(t)
	pending := &handshake.PendingHandshake{
		SessionID:   "sess-1",
		CallerAlias: "caller-a",
		Channel:     testChannel(t),
		CreatedAt:   time.Now(),
	}
	m.StorePending(pending)

	_, ok := m.GetPending("sess-1")
	require.True(t, ok)

	s := m.Promote(pending, nil)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "caller-a", s.CallerAlias)

	_, stillPending := m.GetPending("sess-1")
	assert.False(t, stillPending)

	got, ok := m.GetSession("sess-1")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestDropPendingRemovesWithoutCreatingSession(t *testing.T) {
	m := newTestManager(t)
	pending := &handshake.PendingHandshake{SessionID: "sess-2", Channel: testChannel(t), CreatedAt: time.Now()}
	m.StorePending(pending)

	m.DropPending("sess-2")

	_, ok := m.GetPending("sess-2")
	assert.False(t, ok)
	_, ok = m.GetSession("sess-2")
	assert.False(t, ok)
}

func TestUnknownSessionLookupFails(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.GetSession("does-not-exist")
	assert.False(t, ok)
}

func TestDestroySessionRemovesIt(t *testing.T) {
	m := newTestManager(t)
	pending := &handshake.PendingHandshake{SessionID: "sess-3", Channel: testChannel(t), CreatedAt: time.Now()}
	m.StorePending(pending)
	m.Promote(pending, nil)

	m.DestroySession("sess-3")

	_, ok := m.GetSession("sess-3")
	assert.False(t, ok)
}

func TestSweepDropsIdleSessionsAndStalePendingHandshakes(t *testing.T) {
	m := newTestManager(t)

	freshPending := &handshake.PendingHandshake{SessionID: "fresh-pending", Channel: testChannel(t), CreatedAt: time.Now()}
	stalePending := &handshake.PendingHandshake{SessionID: "stale-pending", Channel: testChannel(t), CreatedAt: time.Now().Add(-HandshakeTTL - time.Second)}
	m.StorePending(freshPending)
	m.StorePending(stalePending)

	active := m.Promote(&handshake.PendingHandshake{SessionID: "active", Channel: testChannel(t), CreatedAt: time.Now()}, nil)
	active.Touch(time.Now())

	idle := m.Promote(&handshake.PendingHandshake{SessionID: "idle", Channel: testChannel(t), CreatedAt: time.Now()}, nil)
	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-SessionTTL - time.Minute)
	idle.mu.Unlock()

	m.sweep(time.Now())

	_, ok := m.GetPending("fresh-pending")
	assert.True(t, ok)
	_, ok = m.GetPending("stale-pending")
	assert.False(t, ok)

	_, ok = m.GetSession("active")
	assert.True(t, ok)
	_, ok = m.GetSession("idle")
	assert.False(t, ok)
}

func TestRateLimitAllowsUpToLimitThenRejects(t *testing.T) {
	m := NewManager(3, testLogger())
	t.Cleanup(m.Close)

	s := m.Promote(&handshake.PendingHandshake{SessionID: "rl", Channel: testChannel(t), CreatedAt: time.Now()}, nil)

	assert.True(t, m.CheckRateLimit(s))
	assert.True(t, m.CheckRateLimit(s))
	assert.True(t, m.CheckRateLimit(s))
	assert.False(t, m.CheckRateLimit(s))
}

func TestRateLimitWindowResetsAfterAMinute(t *testing.T) {
	s := &Session{ID: "rl-2", windowStart: time.Now().Add(-2 * time.Minute), windowRequests: 100}
	assert.True(t, s.checkRateLimit(time.Now(), 1))
}
