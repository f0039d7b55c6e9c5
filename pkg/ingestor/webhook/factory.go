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

package webhook

import (
	"fmt"

	"vaultproxy/pkg/ingestor"
)

// Register adds this package's providers to the ingestor registry. Called
// explicitly from the server's boot sequence rather than from an init() —
// provider availability must follow an explicit call order, not import-time
// side effects.
func Register() {
	ingestor.Register("webhook:github", newGitHubIngestor)
	ingestor.Register("webhook:stripe", newStripeIngestor)
	ingestor.Register("webhook:trello", newTrelloIngestor)
	ingestor.Register("webhook:generic", newGenericIngestor)
}

func settingsString(settings map[string]any, key string) string {
	s, _ := settings[key].(string)
	return s
}

func newGitHubIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	path := settingsString(cfg.Settings, "webhookPath")
	if path == "" {
		return nil, fmt.Errorf("github webhook %q: webhookPath is required", cfg.ConnectionAlias)
	}
	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "webhook", "github", cfg.BufferSize, cfg.BootEpochSeconds)
	w := &Webhook{
		Base: base,
		provider: &githubProvider{
			secret: cfg.Secrets["webhookSecret"],
			path:   path,
			repo:   settingsString(cfg.Settings, "repo"),
		},
		eventTypes: stringSlice(cfg.Settings["eventTypes"]),
	}
	return w, nil
}

func newStripeIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	path := settingsString(cfg.Settings, "webhookPath")
	if path == "" {
		return nil, fmt.Errorf("stripe webhook %q: webhookPath is required", cfg.ConnectionAlias)
	}
	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "webhook", "stripe", cfg.BufferSize, cfg.BootEpochSeconds)
	w := &Webhook{
		Base: base,
		provider: &stripeProvider{
			secret: cfg.Secrets["webhookSecret"],
			path:   path,
		},
		eventTypes: stringSlice(cfg.Settings["eventTypes"]),
	}
	return w, nil
}

func newTrelloIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	path := settingsString(cfg.Settings, "webhookPath")
	if path == "" {
		return nil, fmt.Errorf("trello webhook %q: webhookPath is required", cfg.ConnectionAlias)
	}
	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "webhook", "trello", cfg.BufferSize, cfg.BootEpochSeconds)
	w := &Webhook{
		Base: base,
		provider: &trelloProvider{
			secret:      cfg.Secrets["webhookSecret"],
			path:        path,
			callbackURL: cfg.Secrets["callbackUrl"],
			board:       settingsString(cfg.Settings, "board"),
		},
		eventTypes: stringSlice(cfg.Settings["eventTypes"]),
	}
	return w, nil
}

func newGenericIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	path := settingsString(cfg.Settings, "webhookPath")
	if path == "" {
		return nil, fmt.Errorf("generic webhook %q: webhookPath is required", cfg.ConnectionAlias)
	}
	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "webhook", "generic", cfg.BufferSize, cfg.BootEpochSeconds)
	w := &Webhook{
		Base: base,
		provider: &genericProvider{
			path:      path,
			eventType: settingsString(cfg.Settings, "eventType"),
		},
		eventTypes: stringSlice(cfg.Settings["eventTypes"]),
	}
	return w, nil
}

func stringSlice(v any) []string {
	list, ok := v.([]string)
	if ok {
		return list
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
