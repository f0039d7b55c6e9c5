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

package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vaultproxy/pkg/ingestor"
)

const slackConnectionsOpenURL = "https://slack.com/api/apps.connections.open"

// SlackConfig is the protocol-specific configuration for a socket-mode
// connection, taken from ingestor.Config.Settings/Secrets.
type SlackConfig struct {
	AppToken   string
	EventTypes []string // empty = all
}

type slackEnvelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DebugInfo  json.RawMessage `json:"debug_info,omitempty"`
}

type slackAck struct {
	EnvelopeID string `json:"envelope_id"`
}

type slackConnectionsOpenResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Slack is the Slack-style socket-mode ingestor described in spec.md
// §4.7.2: a freshly fetched, single-use WebSocket URL per connection
// attempt, acked envelopes, and a small set of disconnect reasons.
type Slack struct {
	*ingestor.Base
	cfg SlackConfig

	httpClient *http.Client
	// openConnTestURL overrides slackConnectionsOpenURL in tests; empty in
	// production.
	openConnTestURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewSlack builds a Slack socket-mode ingestor.
func NewSlack(base *ingestor.Base, cfg SlackConfig) *Slack {
	return &Slack{Base: base, cfg: cfg, httpClient: &http.Client{Timeout: dialTimeout}}
}

// Start fetches a fresh WebSocket URL and opens the connection.
func (s *Slack) Start() error {
	s.SetState(ingestor.StateStarting, "")
	return s.connect()
}

func (s *Slack) connect() error {
	url, err := s.openConnection()
	if err != nil {
		s.SetState(ingestor.StateError, err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := dial(ctx, url)
	if err != nil {
		cancel()
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.SetState(ingestor.StateConnected, "")
	go s.readLoop(conn)
	return nil
}

// openConnection exchanges the app-level token for a single-use WS URL.
func (s *Slack) openConnection() (string, error) {
	target := slackConnectionsOpenURL
	if s.openConnTestURL != "" {
		target = s.openConnTestURL
	}
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AppToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	var parsed slackConnectionsOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("apps.connections.open: decode response: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("apps.connections.open: %s", parsed.Error)
	}
	return parsed.URL, nil
}

// Stop closes the connection. Socket-mode URLs are single-use, so there is
// nothing to resume — the next Start/reconnect always fetches a new one.
func (s *Slack) Stop() {
	s.SetState(ingestor.StateStopped, "")

	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Slack) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.State() != ingestor.StateStopped {
				s.reconnect(fmt.Errorf("read: %w", err))
			}
			return
		}

		var env slackEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		s.handleEnvelope(conn, env)
	}
}

func (s *Slack) handleEnvelope(conn *websocket.Conn, env slackEnvelope) {
	switch env.Type {
	case "hello":
		return
	case "disconnect":
		switch env.Reason {
		case "refresh_requested", "warning":
			s.reconnect(fmt.Errorf("disconnect: %s", env.Reason))
		case "link_disabled":
			s.SetState(ingestor.StateError, "socket mode link disabled")
		default:
			s.reconnect(fmt.Errorf("disconnect: %s", env.Reason))
		}
		return
	}

	if env.EnvelopeID != "" {
		_ = conn.WriteJSON(slackAck{EnvelopeID: env.EnvelopeID})
	}

	if !s.passesFilters(env.Type) {
		return
	}

	var data any
	_ = json.Unmarshal(env.Payload, &data)
	key := fmt.Sprintf("slack:%s:%s", s.ConnectionAlias, env.EnvelopeID)
	s.PushEvent(env.Type, data, key)
}

func (s *Slack) passesFilters(eventType string) bool {
	if len(s.cfg.EventTypes) == 0 {
		return true
	}
	return contains(s.cfg.EventTypes, eventType)
}

func (s *Slack) reconnect(cause error) {
	s.SetState(ingestor.StateReconnecting, "")
	go func() {
		time.Sleep(reconnectDelay(0))
		if s.State() == ingestor.StateStopped {
			return
		}
		if err := s.connect(); err != nil {
			s.SetState(ingestor.StateError, fmt.Sprintf("reconnect failed: %v (cause: %v)", err, cause))
		}
	}()
}
