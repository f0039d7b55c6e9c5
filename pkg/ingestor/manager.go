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
	"sort"
	"strings"
	"sync"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/ringbuffer"
)

// instanceKey builds the manager's map key: "{callerAlias}:{connectionAlias}"
// with an optional ":{instanceId}" suffix.
func instanceKey(callerAlias, connectionAlias, instanceID string) string {
	key := callerAlias + ":" + connectionAlias
	if instanceID != "" {
		key += ":" + instanceID
	}
	return key
}

// Manager owns every live ingestor instance across every caller, keyed by
// instanceKey. Reads (getEvents/getStatus/getAllEvents) happen far more
// often than writes (startAll/stopAll), so a single RWMutex is enough —
// spec.md §5 calls this map "read-heavy".
type Manager struct {
	log logger.Logger

	mu        sync.RWMutex
	instances map[string]Ingestor
}

// NewManager builds an empty Manager.
func NewManager(log logger.Logger) *Manager {
	return &Manager{log: log, instances: make(map[string]Ingestor)}
}

// RegisteredConnection is one connection a caller wants ingested, resolved
// enough to hand straight to CreateIngestor.
type RegisteredConnection struct {
	CallerAlias     string
	ConnectionAlias string
	InstanceID      string
	RegistryKey     string // "{type}:{protocol}" or "{type}"
	Config          Config
}

// StartAll constructs and starts every connection in conns. Each ingestor
// start is isolated: one failing does not prevent the others from
// starting, matching spec.md §4.6's per-ingestor try/catch.
func (m *Manager) StartAll(conns []RegisteredConnection) {
	for _, c := range conns {
		inst, err := CreateIngestor(c.RegistryKey, c.Config)
		if err != nil {
			m.log.Error("ingestor creation failed",
				logger.String("caller", c.CallerAlias),
				logger.String("connection", c.ConnectionAlias),
				logger.Error(err))
			continue
		}
		if inst == nil {
			m.log.Warn("no ingestor provider registered",
				logger.String("key", c.RegistryKey),
				logger.String("connection", c.ConnectionAlias))
			continue
		}

		key := instanceKey(c.CallerAlias, c.ConnectionAlias, c.InstanceID)
		if err := inst.Start(); err != nil {
			m.log.Error("ingestor start failed",
				logger.String("connection", key), logger.Error(err))
			continue
		}

		m.mu.Lock()
		m.instances[key] = inst
		m.mu.Unlock()
	}
}

// StopAll stops and clears every live ingestor.
func (m *Manager) StopAll() {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[string]Ingestor)
	m.mu.Unlock()

	for key, inst := range instances {
		inst.Stop()
		m.log.Info("ingestor stopped", logger.String("connection", key))
	}
}

// GetEvents looks up one ingestor by caller/connection/instance and
// returns events after afterID, or nil if no such ingestor is running.
func (m *Manager) GetEvents(callerAlias, connectionAlias, instanceID string, afterID uint64) []ringbuffer.IngestedEvent {
	m.mu.RLock()
	inst, ok := m.instances[instanceKey(callerAlias, connectionAlias, instanceID)]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return inst.GetEvents(afterID)
}

// GetAllEvents collects events after afterID from every ingestor belonging
// to callerAlias, sorted by ReceivedAt.
func (m *Manager) GetAllEvents(callerAlias string, afterID uint64) []ringbuffer.IngestedEvent {
	prefix := callerAlias + ":"

	m.mu.RLock()
	var matched []Ingestor
	for key, inst := range m.instances {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, inst)
		}
	}
	m.mu.RUnlock()

	var all []ringbuffer.IngestedEvent
	for _, inst := range matched {
		all = append(all, inst.GetEvents(afterID)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ReceivedAt.Before(all[j].ReceivedAt) })
	return all
}

// GetStatus returns the status of every live ingestor belonging to
// callerAlias.
func (m *Manager) GetStatus(callerAlias string) []Status {
	prefix := callerAlias + ":"

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Status
	for key, inst := range m.instances {
		if strings.HasPrefix(key, prefix) {
			out = append(out, inst.GetStatus())
		}
	}
	return out
}

// WebhookTargets returns every live ingestor for which matches returns
// true — used by the webhook dispatcher to fan one inbound delivery out
// to every subscriber of a path without the manager knowing anything
// about webhook-specific fields.
func (m *Manager) WebhookTargets(matches func(Ingestor) bool) []Ingestor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Ingestor
	for _, inst := range m.instances {
		if matches(inst) {
			out = append(out, inst)
		}
	}
	return out
}
