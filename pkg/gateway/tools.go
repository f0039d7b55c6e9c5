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

package gateway

import (
	"encoding/json"
	"fmt"

	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/ingestor"
	"vaultproxy/pkg/route"
)

// ToolContext is the caller-scoped context every tool handler receives
// alongside its input and the session's resolved routes, per spec.md
// §4.3's "(input, session.resolvedRoutes, {callerAlias, ingestorManager})"
// handler signature.
type ToolContext struct {
	CallerAlias     string
	IngestorManager *ingestor.Manager
}

// toolHandler is the shape every entry in the static dispatch table
// satisfies.
type toolHandler func(input json.RawMessage, routes []*route.ResolvedRoute, tc ToolContext) (any, error)

// tools is the static map referenced by spec.md §4.3: toolName ->
// handler. Built once at package init; never mutated at runtime.
var tools = map[string]toolHandler{
	"http_request":    handleHTTPRequest,
	"list_routes":     handleListRoutes,
	"poll_events":     handlePollEvents,
	"ingestor_status": handleIngestorStatus,
}

// Dispatch looks up toolName in the static table and invokes it, or
// returns gatewayerrors.ErrUnknownTool if no such tool is registered.
func Dispatch(toolName string, input json.RawMessage, routes []*route.ResolvedRoute, tc ToolContext) (any, error) {
	handler, ok := tools[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gatewayerrors.ErrUnknownTool, toolName)
	}
	return handler(input, routes, tc)
}

func handleListRoutes(_ json.RawMessage, routes []*route.ResolvedRoute, _ ToolContext) (any, error) {
	return route.List(routes), nil
}

type pollEventsInput struct {
	Connection string `json:"connection"`
	AfterID    uint64 `json:"after_id"`
}

func handlePollEvents(input json.RawMessage, _ []*route.ResolvedRoute, tc ToolContext) (any, error) {
	var in pollEventsInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("poll_events: invalid input: %w", err)
		}
	}
	if tc.IngestorManager == nil {
		return nil, nil
	}
	if in.Connection != "" {
		return tc.IngestorManager.GetEvents(tc.CallerAlias, in.Connection, "", in.AfterID), nil
	}
	return tc.IngestorManager.GetAllEvents(tc.CallerAlias, in.AfterID), nil
}

func handleIngestorStatus(_ json.RawMessage, _ []*route.ResolvedRoute, tc ToolContext) (any, error) {
	if tc.IngestorManager == nil {
		return []ingestor.Status{}, nil
	}
	return tc.IngestorManager.GetStatus(tc.CallerAlias), nil
}
