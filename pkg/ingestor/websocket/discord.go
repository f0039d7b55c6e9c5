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
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vaultproxy/pkg/ingestor"
)

// Discord gateway opcodes, as observed on the wire.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var terminalCloseCodes = map[int]bool{4004: true, 4010: true, 4011: true, 4012: true, 4013: true, 4014: true}
var sessionClearingCloseCodes = map[int]bool{4007: true, 4009: true}

// DiscordConfig is the protocol-specific configuration for a gateway
// connection, taken from ingestor.Config.Settings.
type DiscordConfig struct {
	GatewayURL     string
	Token          string
	EventTypes     []string // empty = all
	GuildIDs       []string
	ChannelIDs     []string
	UserIDs        []string
}

type gatewayFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

type invalidSessionData bool

// Discord is the Discord-style gateway ingestor described in spec.md §4.7.1.
type Discord struct {
	*ingestor.Base
	cfg DiscordConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	cancel           context.CancelFunc
	sessionID        string
	resumeURL        string
	lastSeq          int64
	heartbeatAcked   bool
	heartbeatStop    chan struct{}
	reconnectAttempt int
}

// NewDiscord builds a Discord gateway ingestor.
func NewDiscord(base *ingestor.Base, cfg DiscordConfig) *Discord {
	return &Discord{Base: base, cfg: cfg, heartbeatAcked: true}
}

// Start opens the gateway connection and begins the read loop.
func (d *Discord) Start() error {
	d.SetState(ingestor.StateStarting, "")
	return d.connect(d.cfg.GatewayURL)
}

func (d *Discord) connect(url string) error {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := dial(ctx, url)
	if err != nil {
		cancel()
		return d.handleDisconnect(fmt.Errorf("connect: %w", err))
	}

	d.mu.Lock()
	d.conn = conn
	d.cancel = cancel
	d.mu.Unlock()

	go d.readLoop(ctx, conn)
	return nil
}

// Stop closes the connection with the intentional-reconnect close code and
// tears down the heartbeat goroutine.
func (d *Discord) Stop() {
	d.SetState(ingestor.StateStopped, "")

	d.mu.Lock()
	conn := d.conn
	cancel := d.cancel
	d.conn = nil
	d.cancel = nil
	stop := d.heartbeatStop
	d.heartbeatStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "stopping"))
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (d *Discord) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			d.onClose(code)
			return
		}

		var frame gatewayFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		d.handleFrame(ctx, conn, frame)
	}
}

func (d *Discord) handleFrame(ctx context.Context, conn *websocket.Conn, frame gatewayFrame) {
	switch frame.Op {
	case opHello:
		var hello helloData
		_ = json.Unmarshal(frame.D, &hello)
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		d.startHeartbeat(ctx, conn, interval)

		d.mu.Lock()
		sessionID, lastSeq := d.sessionID, d.lastSeq
		d.mu.Unlock()
		if sessionID != "" && lastSeq > 0 {
			d.sendResume(conn)
		} else {
			d.sendIdentify(conn)
		}

	case opDispatch:
		if frame.S != nil {
			d.mu.Lock()
			d.lastSeq = *frame.S
			d.mu.Unlock()
		}
		if frame.T == "READY" {
			var ready readyData
			_ = json.Unmarshal(frame.D, &ready)
			d.mu.Lock()
			d.sessionID = ready.SessionID
			d.resumeURL = ready.ResumeGatewayURL
			d.reconnectAttempt = 0
			d.mu.Unlock()
			d.SetState(ingestor.StateConnected, "")
		}
		d.dispatch(frame)

	case opHeartbeatAck:
		d.mu.Lock()
		d.heartbeatAcked = true
		d.mu.Unlock()

	case opHeartbeat:
		d.sendHeartbeat(conn)

	case opReconnect:
		_ = conn.Close()

	case opInvalidSession:
		var resumable invalidSessionData
		_ = json.Unmarshal(frame.D, &resumable)
		delay := time.Duration(1000+rand.IntN(4000)) * time.Millisecond
		time.Sleep(delay)
		if bool(resumable) {
			d.sendResume(conn)
		} else {
			d.mu.Lock()
			d.sessionID = ""
			d.lastSeq = 0
			d.mu.Unlock()
			d.sendIdentify(conn)
		}
	}
}

func (d *Discord) dispatch(frame gatewayFrame) {
	if frame.T == "" {
		return
	}
	if !d.passesFilters(frame) {
		return
	}

	var data any
	_ = json.Unmarshal(frame.D, &data)

	d.mu.Lock()
	sessionID, seq := d.sessionID, int64(0)
	if frame.S != nil {
		seq = *frame.S
	}
	d.mu.Unlock()

	sessTag := sessionID
	if sessTag == "" {
		sessTag = "nosess"
	}
	key := fmt.Sprintf("discord:%s:%s:seq:%d", d.ConnectionAlias, sessTag, seq)
	d.PushEvent(frame.T, data, key)
}

// passesFilters applies the event-type and payload filters. A field
// missing from the payload always passes, so lifecycle events like
// READY/RESUMED (which carry no guild/channel/user) are never dropped.
func (d *Discord) passesFilters(frame gatewayFrame) bool {
	if len(d.cfg.EventTypes) > 0 && !contains(d.cfg.EventTypes, frame.T) {
		return false
	}

	var payload map[string]any
	if err := json.Unmarshal(frame.D, &payload); err != nil {
		return true
	}
	if !fieldMatches(payload, "guild_id", d.cfg.GuildIDs) {
		return false
	}
	if !fieldMatches(payload, "channel_id", d.cfg.ChannelIDs) {
		return false
	}
	if !fieldMatches(payload, "user_id", d.cfg.UserIDs) {
		return false
	}
	return true
}

func fieldMatches(payload map[string]any, field string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	v, ok := payload[field]
	if !ok {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return true
	}
	return contains(allowed, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (d *Discord) sendIdentify(conn *websocket.Conn) {
	_ = conn.WriteJSON(gatewayFrame{Op: opIdentify, D: mustJSON(map[string]any{
		"token": d.cfg.Token,
		"properties": map[string]string{
			"os": "linux", "browser": "vaultproxy", "device": "vaultproxy",
		},
	})})
}

func (d *Discord) sendResume(conn *websocket.Conn) {
	d.mu.Lock()
	sessionID, seq := d.sessionID, d.lastSeq
	d.mu.Unlock()
	_ = conn.WriteJSON(gatewayFrame{Op: opResume, D: mustJSON(map[string]any{
		"token": d.cfg.Token, "session_id": sessionID, "seq": seq,
	})})
}

func (d *Discord) sendHeartbeat(conn *websocket.Conn) {
	d.mu.Lock()
	seq := d.lastSeq
	d.heartbeatAcked = false
	d.mu.Unlock()
	var payload json.RawMessage
	if seq > 0 {
		payload = mustJSON(seq)
	} else {
		payload = mustJSON(nil)
	}
	_ = conn.WriteJSON(gatewayFrame{Op: opHeartbeat, D: payload})
}

func (d *Discord) startHeartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	jitter := time.Duration(float64(interval) * rand.Float64())

	d.mu.Lock()
	if d.heartbeatStop != nil {
		close(d.heartbeatStop)
	}
	stop := make(chan struct{})
	d.heartbeatStop = stop
	d.mu.Unlock()

	go func() {
		select {
		case <-time.After(jitter):
		case <-stop:
			return
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.mu.Lock()
				acked := d.heartbeatAcked
				d.mu.Unlock()
				if !acked {
					_ = conn.Close()
					return
				}
				d.sendHeartbeat(conn)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Discord) onClose(code int) {
	d.mu.Lock()
	d.conn = nil
	d.mu.Unlock()

	if terminalCloseCodes[code] {
		d.SetState(ingestor.StateError, fmt.Sprintf("gateway closed with terminal code %d", code))
		return
	}
	if sessionClearingCloseCodes[code] {
		d.mu.Lock()
		d.sessionID = ""
		d.lastSeq = 0
		d.mu.Unlock()
	}
	_ = d.handleDisconnect(fmt.Errorf("gateway closed with code %d", code))
}

func (d *Discord) handleDisconnect(cause error) error {
	d.mu.Lock()
	d.reconnectAttempt++
	attempt := d.reconnectAttempt
	d.mu.Unlock()

	if attempt >= maxReconnectAttempts {
		d.SetState(ingestor.StateError, fmt.Sprintf("exceeded %d reconnect attempts: %v", maxReconnectAttempts, cause))
		return cause
	}

	d.SetState(ingestor.StateReconnecting, "")
	delay := reconnectDelay(attempt)

	go func() {
		time.Sleep(delay)
		if d.State() == ingestor.StateStopped {
			return
		}
		d.mu.Lock()
		url := d.resumeURL
		d.mu.Unlock()
		if url == "" {
			url = d.cfg.GatewayURL
		}
		_ = d.connect(url)
	}()
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
