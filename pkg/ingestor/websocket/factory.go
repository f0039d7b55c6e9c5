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
	"fmt"

	"vaultproxy/pkg/ingestor"
)

// Register adds this package's providers to the ingestor registry. Called
// explicitly from the server's boot sequence rather than from an init() —
// provider availability must follow an explicit call order, not import-time
// side effects.
func Register() {
	ingestor.Register("websocket:discord", newDiscordIngestor)
	ingestor.Register("websocket:slack", newSlackIngestor)
}

func newDiscordIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	gatewayURL, _ := cfg.Settings["gatewayUrl"].(string)
	if gatewayURL == "" {
		return nil, fmt.Errorf("discord ingestor %q: gatewayUrl is required", cfg.ConnectionAlias)
	}
	token := cfg.Secrets["token"]
	if token == "" {
		return nil, fmt.Errorf("discord ingestor %q: secret %q is required", cfg.ConnectionAlias, "token")
	}

	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "websocket", "discord", cfg.BufferSize, cfg.BootEpochSeconds)
	dc := DiscordConfig{
		GatewayURL: gatewayURL,
		Token:      token,
		EventTypes: stringSlice(cfg.Settings["eventTypes"]),
		GuildIDs:   stringSlice(cfg.Settings["guildIds"]),
		ChannelIDs: stringSlice(cfg.Settings["channelIds"]),
		UserIDs:    stringSlice(cfg.Settings["userIds"]),
	}
	return NewDiscord(base, dc), nil
}

func newSlackIngestor(cfg ingestor.Config) (ingestor.Ingestor, error) {
	appToken := cfg.Secrets["appToken"]
	if appToken == "" {
		return nil, fmt.Errorf("slack ingestor %q: secret %q is required", cfg.ConnectionAlias, "appToken")
	}

	base := ingestor.NewBase(cfg.ConnectionAlias, cfg.InstanceID, "websocket", "slack", cfg.BufferSize, cfg.BootEpochSeconds)
	sc := SlackConfig{
		AppToken:   appToken,
		EventTypes: stringSlice(cfg.Settings["eventTypes"]),
	}
	return NewSlack(base, sc), nil
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
