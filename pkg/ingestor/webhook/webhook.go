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

// Package webhook implements the passive webhook ingestors (GitHub,
// Stripe, Trello, and a signature-less generic fallback).
package webhook

import (
	"encoding/json"
	"net/http"

	"vaultproxy/pkg/ingestor"
)

// VerifyResult is the outcome of a signature check.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// provider is the subclass-specific behavior every webhook ingestor
// supplies; Webhook drives the shared pipeline from spec.md §4.8 on top
// of it.
type provider interface {
	verifySignature(headers http.Header, rawBody []byte) VerifyResult
	shouldAcceptPayload(body map[string]any) bool
	extractEventType(headers http.Header, body map[string]any) string
	extractEventData(headers http.Header, body map[string]any) any
	extractIdempotencyKey(headers http.Header, body map[string]any) string
	webhookPath() string
}

// Webhook wraps ingestor.Base with the shared accept-pipeline; concrete
// providers (GitHub, Stripe, Trello, generic) supply the protocol logic.
type Webhook struct {
	*ingestor.Base
	provider   provider
	eventTypes []string // empty = all
}

// Accept runs the full pipeline from spec.md §4.8 against one inbound
// delivery. accepted is false whenever the event is rejected for a
// reason that should count against the caller (bad signature, invalid
// JSON, content filter); reason explains why.
func (w *Webhook) Accept(headers http.Header, rawBody []byte) (accepted bool, reason string) {
	verify := w.provider.verifySignature(headers, rawBody)
	if !verify.Valid {
		return false, verify.Reason
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return false, "Invalid JSON body"
	}

	if !w.provider.shouldAcceptPayload(body) {
		return false, "payload did not match this connection"
	}

	eventType := w.provider.extractEventType(headers, body)
	if len(w.eventTypes) > 0 && !contains(w.eventTypes, eventType) {
		return false, "event type filtered"
	}

	data := w.provider.extractEventData(headers, body)
	key := w.provider.extractIdempotencyKey(headers, body)
	w.PushEvent(eventType, data, key)
	return true, ""
}

// WebhookPath returns the path this ingestor listens on under
// /webhooks/:path.
func (w *Webhook) WebhookPath() string { return w.provider.webhookPath() }

// Start marks the ingestor connected. Webhook ingestors are passive —
// there is no outbound connection to open — so this only flips state.
func (w *Webhook) Start() error {
	w.SetState(ingestor.StateConnected, "")
	return nil
}

// Stop marks the ingestor stopped.
func (w *Webhook) Stop() {
	w.SetState(ingestor.StateStopped, "")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
