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

// Package session owns the two stateful tables the handshake and request
// pipeline hand off to each other — sessions and pendingHandshakes — plus
// the TTL sweep and per-session rate limiter that keep them bounded.
package session

import (
	"sync"
	"time"

	"vaultproxy/pkg/channel"
	"vaultproxy/pkg/route"
)

// Session is an established, authenticated caller connection: an encrypted
// channel, the routes pinned for it at handshake time, and the bookkeeping
// the rate limiter and idle sweep need.
type Session struct {
	ID             string
	CallerAlias    string
	Channel        *channel.Channel
	ResolvedRoutes []*route.ResolvedRoute
	CreatedAt      time.Time

	mu             sync.Mutex
	lastActivity   time.Time
	requestCount   int
	windowStart    time.Time
	windowRequests int

	reqMu sync.Mutex
}

// Lock serializes one session's in-flight /request processing: the HTTP
// handler holds it across decrypt → dispatch → encrypt so the channel's
// send counter and the caller's view of the session never interleave
// between two concurrent requests (spec.md §5).
func (s *Session) Lock() {
	s.reqMu.Lock()
}

// Unlock releases the lock taken by Lock.
func (s *Session) Unlock() {
	s.reqMu.Unlock()
}

// Touch records activity for the idle-TTL sweep and bumps the total request
// counter. Called once per successful /request.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.requestCount++
	s.mu.Unlock()
}

// LastActivity returns the last time the session was touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// RequestCount returns the total number of requests served by the session.
func (s *Session) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// checkRateLimit implements spec.md §4.4's fixed-window counter: limit N
// requests per 60s window. The window resets lazily on first use after it
// elapses, then every check increments and compares.
func (s *Session) checkRateLimit(now time.Time, limitPerMinute int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.windowStart) >= time.Minute {
		s.windowStart = now
		s.windowRequests = 0
	}
	s.windowRequests++
	return s.windowRequests <= limitPerMinute
}
