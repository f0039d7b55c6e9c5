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

// Package ingestor provides the base every concrete event source embeds
// (state machine, ring buffer, idempotency dedup), the process-wide
// factory registry, and the manager that owns all live ingestor instances.
package ingestor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultproxy/internal/metrics"
	"vaultproxy/pkg/ringbuffer"
)

// State is a connection lifecycle state.
type State string

const (
	StateStarting     State = "starting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// Status is the snapshot returned by ingestor_status().
type Status struct {
	Connection          string     `json:"connection"`
	InstanceID          string     `json:"instanceId,omitempty"`
	Type                string     `json:"type"`
	State               State      `json:"state"`
	BufferedEvents      int        `json:"bufferedEvents"`
	TotalEventsReceived uint64     `json:"totalEventsReceived"`
	LastEventAt         *time.Time `json:"lastEventAt,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Base is embedded by every concrete ingestor. It owns the fields and
// behaviors spec.md §4.6 requires of all of them: lifecycle state, the ring
// buffer, bounded idempotency dedup, and status reporting. Concrete types
// add their own protocol logic and call into PushEvent/SetState.
type Base struct {
	ConnectionAlias string
	InstanceID      string
	Type            string
	Protocol        string

	mu                  sync.Mutex
	state               State
	buffer              *ringbuffer.RingBuffer
	ids                 *ringbuffer.IDGenerator
	totalEventsReceived uint64
	lastEventAt         *time.Time
	errorMessage        string

	seenKeys   map[string]struct{}
	seenOrder  []string
	maxSeenLen int
}

// NewBase constructs a Base in the stopped state, with a ring buffer of
// bufferSize (0 ⇒ ringbuffer.DefaultCapacity) and a dedup set at least as
// large as the buffer. typ/protocol are the registry key halves (e.g.
// "websocket"/"discord") and double as metric label values.
func NewBase(connectionAlias, instanceID, typ, protocol string, bufferSize int, bootEpochSeconds int64) *Base {
	buf := ringbuffer.New(bufferSize)
	maxSeen := bufferSize
	if maxSeen <= 0 {
		maxSeen = ringbuffer.DefaultCapacity
	}
	return &Base{
		ConnectionAlias: connectionAlias,
		InstanceID:      instanceID,
		Type:            typ,
		Protocol:        protocol,
		state:           StateStopped,
		buffer:          buf,
		ids:             ringbuffer.NewIDGenerator(bootEpochSeconds),
		seenKeys:        make(map[string]struct{}, maxSeen),
		maxSeenLen:      maxSeen,
	}
}

// SetState transitions the lifecycle state and records the metric. errMsg
// is only meaningful when transitioning to StateError.
func (b *Base) SetState(s State, errMsg string) {
	b.mu.Lock()
	b.state = s
	if s == StateError {
		b.errorMessage = errMsg
	} else {
		b.errorMessage = ""
	}
	b.mu.Unlock()

	metrics.IngestorStateTransitions.WithLabelValues(b.Type, b.Protocol, string(s)).Inc()
}

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PushEvent records a new event, assigning it the next monotonic ID and
// deduplicating it against the bounded set of recently seen idempotency
// keys. Returns false if the event was dropped as a duplicate.
func (b *Base) PushEvent(eventType string, data any, idempotencyKey string) bool {
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("%s:%s", b.ConnectionAlias, uuid.NewString())
	}

	b.mu.Lock()
	if _, dup := b.seenKeys[idempotencyKey]; dup {
		b.mu.Unlock()
		metrics.IngestorEventsDeduped.WithLabelValues(b.Type, b.Protocol, b.ConnectionAlias).Inc()
		return false
	}
	b.remember(idempotencyKey)
	now := time.Now()
	b.totalEventsReceived++
	b.lastEventAt = &now
	b.mu.Unlock()

	event := ringbuffer.IngestedEvent{
		ID:             b.ids.Next(),
		IdempotencyKey: idempotencyKey,
		ReceivedAt:     now,
		ReceivedAtMs:   now.UnixMilli(),
		Source:         b.ConnectionAlias,
		InstanceID:     b.InstanceID,
		EventType:      eventType,
		Data:           data,
	}
	b.buffer.Push(event)
	metrics.IngestorEventsReceived.WithLabelValues(b.Type, b.Protocol, b.ConnectionAlias).Inc()
	metrics.IngestorBufferedEvents.WithLabelValues(b.Type, b.Protocol, b.ConnectionAlias).Set(float64(b.buffer.Len()))
	return true
}

// remember adds key to the bounded seen-set, evicting the oldest entry
// when it would grow past maxSeenLen. Caller must hold b.mu.
func (b *Base) remember(key string) {
	b.seenKeys[key] = struct{}{}
	b.seenOrder = append(b.seenOrder, key)
	if len(b.seenOrder) > b.maxSeenLen {
		oldest := b.seenOrder[0]
		b.seenOrder = b.seenOrder[1:]
		delete(b.seenKeys, oldest)
	}
}

// GetEvents returns buffered events with id > afterID.
func (b *Base) GetEvents(afterID uint64) []ringbuffer.IngestedEvent {
	return b.buffer.Since(afterID)
}

// GetStatus returns the current status snapshot.
func (b *Base) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Connection:          b.ConnectionAlias,
		InstanceID:          b.InstanceID,
		Type:                b.Type,
		State:               b.state,
		BufferedEvents:      b.buffer.Len(),
		TotalEventsReceived: b.totalEventsReceived,
		LastEventAt:         b.lastEventAt,
		Error:               b.errorMessage,
	}
}
