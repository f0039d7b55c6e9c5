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
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
)

// trelloProvider verifies X-Trello-Webhook: base64(HMAC-SHA1(secret,
// rawBody||callbackURL)). callbackURL is resolved from the route's
// secrets at start time — Trello signs over the exact URL it was told to
// call back, so a missing callback URL makes verification impossible and
// every delivery is rejected.
type trelloProvider struct {
	secret      string
	path        string
	callbackURL string
	board       string // empty = accept any board
}

func (t *trelloProvider) webhookPath() string { return t.path }

func (t *trelloProvider) verifySignature(headers http.Header, rawBody []byte) VerifyResult {
	if t.secret == "" {
		return VerifyResult{Valid: true}
	}
	if t.callbackURL == "" {
		return VerifyResult{Reason: "callback URL not configured"}
	}

	sig := headers.Get("X-Trello-Webhook")
	if sig == "" {
		return VerifyResult{Reason: "missing X-Trello-Webhook header"}
	}
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return VerifyResult{Reason: "malformed signature base64"}
	}

	mac := hmac.New(sha1.New, []byte(t.secret))
	mac.Write(rawBody)
	mac.Write([]byte(t.callbackURL))
	got := mac.Sum(nil)

	if !hmac.Equal(want, got) {
		return VerifyResult{Reason: "signature mismatch"}
	}
	return VerifyResult{Valid: true}
}

func (t *trelloProvider) shouldAcceptPayload(body map[string]any) bool {
	if t.board == "" {
		return true
	}
	action, ok := body["action"].(map[string]any)
	if !ok {
		return false
	}
	data, ok := action["data"].(map[string]any)
	if !ok {
		return false
	}
	board, ok := data["board"].(map[string]any)
	if !ok {
		return false
	}
	id, _ := board["id"].(string)
	return id == t.board
}

func (t *trelloProvider) extractEventType(headers http.Header, body map[string]any) string {
	action, ok := body["action"].(map[string]any)
	if !ok {
		return ""
	}
	eventType, _ := action["type"].(string)
	return eventType
}

func (t *trelloProvider) extractEventData(headers http.Header, body map[string]any) any {
	return body
}

func (t *trelloProvider) extractIdempotencyKey(headers http.Header, body map[string]any) string {
	action, ok := body["action"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := action["id"].(string)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("trello:%s", id)
}
