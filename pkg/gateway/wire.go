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

// Package gateway implements the remote server's request pipeline (C6):
// the static tool-dispatch table, route resolution and outbound fetch for
// http_request, and the plaintext HTTP surface that carries handshakes,
// encrypted /request frames, and webhook deliveries.
package gateway

import "encoding/json"

// ProxyRequest is the application-layer message carried inside an
// encrypted /request frame (spec.md §6).
type ProxyRequest struct {
	Type      string          `json:"type"` // "proxy_request"
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
	Timestamp int64           `json:"timestamp"`
}

// ProxyResponse is the reply counterpart, also carried inside an encrypted
// frame.
type ProxyResponse struct {
	Type      string `json:"type"` // "proxy_response"
	ID        string `json:"id"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PingPong is the keepalive frame shape: {type:"ping"|"pong", timestamp,
// echoTimestamp?}.
type PingPong struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	EchoTimestamp int64  `json:"echoTimestamp,omitempty"`
}
