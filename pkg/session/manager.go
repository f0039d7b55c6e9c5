// Copyright (C) 2025 vaultproxy contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"vaultproxy/internal/logger"
	"vaultproxy/internal/metrics"
	"vaultproxy/pkg/handshake"
	"vaultproxy/pkg/route"
)

const (
	// SessionTTL is how long a session may sit idle before the sweep drops it.
	SessionTTL = 30 * time.Minute
	// HandshakeTTL is how long a pending handshake may wait for Finish.
	HandshakeTTL = 30 * time.Second
	// SweepInterval is how often the background sweep runs.
	SweepInterval = 60 * time.Second
	// DefaultRateLimitPerMinute is N in spec.md §4.4's fixed-window limiter.
	DefaultRateLimitPerMinute = 60
)

// Manager owns the sessions and pendingHandshakes tables and the background
// sweep that keeps both bounded. One Manager per running gateway process.
type Manager struct {
	log                logger.Logger
	rateLimitPerMinute int

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*handshake.PendingHandshake

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	sweepDone   chan struct{}
}

// NewManager starts a Manager with its background sweep already running.
// rateLimitPerMinute <= 0 falls back to DefaultRateLimitPerMinute.
func NewManager(rateLimitPerMinute int, log logger.Logger) *Manager {
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = DefaultRateLimitPerMinute
	}
	m := &Manager{
		log:                log,
		rateLimitPerMinute: rateLimitPerMinute,
		sessions:           make(map[string]*Session),
		pending:            make(map[string]*handshake.PendingHandshake),
		stopSweep:          make(chan struct{}),
		sweepDone:          make(chan struct{}),
	}
	m.sweepTicker = time.NewTicker(SweepInterval)
	go m.sweepLoop()
	return m
}

// Close stops the background sweep. Safe to call once.
func (m *Manager) Close() {
	close(m.stopSweep)
	<-m.sweepDone
}

// StorePending records a just-Replied handshake awaiting Finish.
func (m *Manager) StorePending(p *handshake.PendingHandshake) {
	m.mu.Lock()
	m.pending[p.SessionID] = p
	m.mu.Unlock()
}

// GetPending looks up a pending handshake without consuming it — Finish
// processing needs to decrypt against its channel before deciding whether
// to promote or drop it.
func (m *Manager) GetPending(sessionID string) (*handshake.PendingHandshake, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[sessionID]
	return p, ok
}

// DropPending removes a pending handshake, e.g. after Finish fails.
func (m *Manager) DropPending(sessionID string) {
	m.mu.Lock()
	delete(m.pending, sessionID)
	m.mu.Unlock()
}

// Promote turns a successfully finished pending handshake into an active
// Session pinned to resolvedRoutes, and removes it from the pending table.
func (m *Manager) Promote(p *handshake.PendingHandshake, resolvedRoutes []*route.ResolvedRoute) *Session {
	now := time.Now()
	s := &Session{
		ID:             p.SessionID,
		CallerAlias:    p.CallerAlias,
		Channel:        p.Channel,
		ResolvedRoutes: resolvedRoutes,
		CreatedAt:      now,
		lastActivity:   now,
		windowStart:    now,
	}

	m.mu.Lock()
	delete(m.pending, p.SessionID)
	m.sessions[p.SessionID] = s
	m.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	m.log.Info("session established", logger.String("sessionId", s.ID), logger.String("caller", s.CallerAlias))
	return s
}

// ActiveSessionCount returns the number of currently active sessions, used
// by the /health endpoint.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// GetSession looks up an active session by id.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// DestroySession removes a session, e.g. on unrecoverable decrypt failure.
// The caller must rehandshake afterward.
func (m *Manager) DestroySession(sessionID string) {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if existed {
		metrics.SessionsActive.Dec()
		metrics.SessionsClosed.Inc()
	}
}

// CheckRateLimit applies the fixed-window limiter to s and reports whether
// the request is allowed.
func (m *Manager) CheckRateLimit(s *Session) bool {
	return s.checkRateLimit(time.Now(), m.rateLimitPerMinute)
}

func (m *Manager) sweepLoop() {
	for {
		select {
		case <-m.sweepTicker.C:
			m.sweep(time.Now())
		case <-m.stopSweep:
			m.sweepTicker.Stop()
			close(m.sweepDone)
			return
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var expiredSessions, expiredPending []string
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > SessionTTL {
			expiredSessions = append(expiredSessions, id)
		}
	}
	for id, p := range m.pending {
		if now.Sub(p.CreatedAt) > HandshakeTTL {
			expiredPending = append(expiredPending, id)
		}
	}
	for _, id := range expiredSessions {
		delete(m.sessions, id)
	}
	for _, id := range expiredPending {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for range expiredSessions {
		metrics.SessionsActive.Dec()
		metrics.SessionsExpired.Inc()
	}
	if len(expiredSessions) > 0 {
		m.log.Info("swept expired sessions", logger.Int("count", len(expiredSessions)))
	}
	if len(expiredPending) > 0 {
		m.log.Info("swept expired pending handshakes", logger.Int("count", len(expiredPending)))
	}
}
