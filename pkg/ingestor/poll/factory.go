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

package poll

import (
	"fmt"

	"vaultproxy/pkg/ingestor"
)

// Register adds this package's provider to the ingestor registry. Called
// explicitly from the server's boot sequence rather than from an init() —
// provider availability must follow an explicit call order, not import-time
// side effects.
func Register() {
	ingestor.Register("poll", newPollIngestor)
}

func newPollIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	url, _ := cfg.Settings["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("poll ingestor %q: url is required", cfg.ConnectionAlias)
	}
	intervalMs, _ := cfg.Settings["intervalMs"].(int)
	method, _ := cfg.Settings["method"].(string)
	body, _ := cfg.Settings["body"].(string)
	responsePath, _ := cfg.Settings["responsePath"].(string)
	eventType, _ := cfg.Settings["eventType"].(string)
	deduplicateBy, _ := cfg.Settings["deduplicateBy"].(string)

	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "poll", "", cfg.BufferSize, cfg.BootEpochSeconds)
	pc := Config{
		URL:           url,
		IntervalMs:    intervalMs,
		Method:        method,
		Body:          body,
		Headers:       stringMap(cfg.Settings["headers"]),
		ResponsePath:  responsePath,
		EventType:     eventType,
		DeduplicateBy: deduplicateBy,
		RouteHeaders:  stringMap(cfg.Settings["routeHeaders"]),
		Secrets:       cfg.Secrets,
	}
	return New(base, pc), nil
}

func stringMap(v any) map[string]string {
	if m, ok := v.(map[string]string); ok {
		return m
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
