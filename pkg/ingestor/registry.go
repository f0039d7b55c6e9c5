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

package ingestor

import (
	"fmt"
	"sync"

	"vaultproxy/pkg/ringbuffer"
)

// Ingestor is the interface every concrete ingestor satisfies; most of it
// is implemented once by Base and promoted through embedding.
type Ingestor interface {
	Start() error
	Stop()
	GetEvents(afterID uint64) []ringbuffer.IngestedEvent
	GetStatus() Status
}

// Config is everything a factory needs to build one ingestor instance.
type Config struct {
	ConnectionAlias  string
	InstanceID       string
	BufferSize       int
	BootEpochSeconds int64
	Settings         map[string]any    // protocol-specific config (gatewayUrl, webhookPath, intervalMs, ...)
	Secrets          map[string]string // the owning route's resolved secrets
}

// Factory builds one ingestor instance from a Config.
type Factory func(cfg Config) (Ingestor, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory under key "{type}:{protocol}" (or just "{type}"
// for protocol-less kinds like poll). Each concrete ingestor package exposes
// its own exported Register() that calls this; the boot sequence calls
// those explicitly, in a known order, rather than relying on init()/import
// side effects to populate the registry.
func Register(key string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = factory
}

// CreateIngestor looks up key in the registry and builds an instance, or
// returns (nil, nil) if no provider is registered for it — the caller
// treats an unknown type as a configuration no-op, not a fatal error.
func CreateIngestor(key string, cfg Config) (Ingestor, error) {
	registryMu.RLock()
	factory, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, nil
	}
	inst, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create ingestor %q: %w", key, err)
	}
	return inst, nil
}
