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

// Package websocket implements the gateway-style and socket-mode-style
// WebSocket event ingestors (Discord and Slack shaped) on top of
// gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// dial opens a WebSocket connection with a bounded handshake timeout,
// the same dialer shape the teacher's own WSTransport.Connect uses.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// reconnectDelay implements spec.md §4.7.1's capped exponential backoff:
// min(1000 * 2^attempt, 30000) ms.
func reconnectDelay(attempt int) time.Duration {
	ms := 1000 * (1 << attempt)
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

const maxReconnectAttempts = 10
