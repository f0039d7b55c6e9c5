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

package ringbuffer

import "sync/atomic"

// IDGenerator produces IngestedEvent.ID values that are monotonic within
// one ingestor for the lifetime of one process boot, and strictly greater
// than any ID a previous boot could have produced: bootEpochSeconds *
// 1_000_000 + a per-boot counter. A consumer's persisted cursor therefore
// never collides with IDs from a restarted server.
type IDGenerator struct {
	base    uint64
	counter uint64
}

// NewIDGenerator builds a generator rooted at bootEpochSeconds.
func NewIDGenerator(bootEpochSeconds int64) *IDGenerator {
	return &IDGenerator{base: uint64(bootEpochSeconds) * 1_000_000}
}

// Next returns the next strictly increasing ID.
func (g *IDGenerator) Next() uint64 {
	return g.base + atomic.AddUint64(&g.counter, 1)
}
