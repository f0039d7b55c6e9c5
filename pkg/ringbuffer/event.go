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

// Package ringbuffer holds the fixed-capacity, cursor-pullable event log
// each ingestor connection feeds and poll_events drains.
package ringbuffer

import "time"

// IngestedEvent is one event delivered by an ingestor. ID is monotonic
// within one boot of the process; IdempotencyKey is how the owning
// ingestor's base dedup logic recognizes a redelivery before it ever
// reaches the buffer.
type IngestedEvent struct {
	ID             uint64    `json:"id"`
	IdempotencyKey string    `json:"idempotencyKey"`
	ReceivedAt     time.Time `json:"receivedAt"`
	ReceivedAtMs   int64     `json:"receivedAtMs"`
	Source         string    `json:"source"`
	InstanceID     string    `json:"instanceId,omitempty"`
	EventType      string    `json:"eventType"`
	Data           any       `json:"data"`
}
