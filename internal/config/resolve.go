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

package config

import (
	"fmt"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/keystore"
	"vaultproxy/pkg/route"
)

// BuiltinTemplates is the fallback connector pool consulted when a
// caller's connection name is absent from cfg.Connectors — the
// "connection-template loading" spec.md names as a collaborator whose
// interface, not implementation, is in scope here. Deployments may extend
// it at init time; nil entries are never matched.
var BuiltinTemplates = map[string]route.Route{}

// lookupConnector resolves a connection name against the per-config
// connector pool first, then BuiltinTemplates, per spec.md §4.3.
func lookupConnector(cfg *RemoteServerConfig, name string) (route.Route, bool) {
	if r, ok := cfg.Connectors[name]; ok {
		return r, true
	}
	r, ok := BuiltinTemplates[name]
	return r, ok
}

// ResolveCallerRoutes builds the []*route.ResolvedRoute pinned into a
// Session at handshake time: every connection name on the caller's list,
// looked up and resolved with the caller's env taking precedence over
// process env.
func ResolveCallerRoutes(cfg *RemoteServerConfig, callerAlias string, processEnv map[string]string, log logger.Logger) ([]*route.ResolvedRoute, error) {
	caller, ok := cfg.Callers[callerAlias]
	if !ok {
		return nil, fmt.Errorf("unknown caller %q", callerAlias)
	}

	resolved := make([]*route.ResolvedRoute, 0, len(caller.Connections))
	for _, name := range caller.Connections {
		r, ok := lookupConnector(cfg, name)
		if !ok {
			log.Warn("caller references unknown connection", logger.String("caller", callerAlias), logger.String("connection", name))
			continue
		}
		if r.Alias == "" {
			r.Alias = name
		}
		resolved = append(resolved, route.Resolve(&r, caller.Env, processEnv, log))
	}
	return resolved, nil
}

// LoadAuthorizedPeers reads every caller's PublicKeyBundle from its
// configured PeerKeyDir, producing the peer set pkg/handshake's Responder
// authorizes against.
func LoadAuthorizedPeers(cfg *RemoteServerConfig) ([]route.AuthorizedPeer, error) {
	peers := make([]route.AuthorizedPeer, 0, len(cfg.Callers))
	for alias, caller := range cfg.Callers {
		if caller.PeerKeyDir == "" {
			return nil, fmt.Errorf("caller %q: peerKeyDir is required", alias)
		}
		pub, err := keystore.LoadPublicFromDir(caller.PeerKeyDir)
		if err != nil {
			return nil, fmt.Errorf("caller %q: load peer keys: %w", alias, err)
		}
		peers = append(peers, route.AuthorizedPeer{Alias: alias, Name: caller.Name, Keys: *pub})
	}
	return peers, nil
}

// RegisteredConnections walks every caller's connection list and resolves
// each connection's Ingestor block (if any) into an
// ingestor.RegisteredConnection the manager's StartAll can consume
// directly. Per-caller ingestorOverrides override the connector's base
// Options before construction.
func RegisteredConnections(cfg *RemoteServerConfig, processEnv map[string]string, bufferSize int, bootEpochSeconds int64, log logger.Logger) []ingestor.RegisteredConnection {
	var out []ingestor.RegisteredConnection

	for callerAlias, caller := range cfg.Callers {
		for _, name := range caller.Connections {
			r, ok := lookupConnector(cfg, name)
			if !ok || r.Ingestor == nil {
				continue
			}
			if r.Alias == "" {
				r.Alias = name
			}
			resolvedRoute := route.Resolve(&r, caller.Env, processEnv, log)

			key := r.Ingestor.Type
			if r.Ingestor.Protocol != "" {
				key = key + ":" + r.Ingestor.Protocol
			}

			settings := make(map[string]any, len(r.Ingestor.Options))
			for k, v := range r.Ingestor.Options {
				settings[k] = v
			}
			if overrides, ok := caller.IngestorOverrides[name]; ok {
				for k, v := range overrides {
					settings[k] = v
				}
			}

			out = append(out, ingestor.RegisteredConnection{
				CallerAlias:     callerAlias,
				ConnectionAlias: name,
				RegistryKey:     key,
				Config: ingestor.Config{
					ConnectionAlias:  name,
					BufferSize:       bufferSize,
					BootEpochSeconds: bootEpochSeconds,
					Settings:         settings,
					Secrets:          resolvedRoute.Secrets,
				},
			})
		}
	}
	return out
}
