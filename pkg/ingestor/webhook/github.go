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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
)

// githubProvider verifies X-Hub-Signature-256 and discriminates deliveries
// by repository full_name, so multiple callers can subscribe to the same
// /webhooks/github path for different repos.
type githubProvider struct {
	secret string
	path   string
	repo   string // empty = accept any repo
}

func (g *githubProvider) webhookPath() string { return g.path }

func (g *githubProvider) verifySignature(headers http.Header, rawBody []byte) VerifyResult {
	if g.secret == "" {
		return VerifyResult{Valid: true}
	}

	sig := headers.Get("X-Hub-Signature-256")
	const prefix = "sha256="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return VerifyResult{Reason: "missing or malformed X-Hub-Signature-256"}
	}
	want, err := hex.DecodeString(sig[len(prefix):])
	if err != nil {
		return VerifyResult{Reason: "malformed signature hex"}
	}

	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(rawBody)
	got := mac.Sum(nil)

	if !hmac.Equal(want, got) {
		return VerifyResult{Reason: "signature mismatch"}
	}
	return VerifyResult{Valid: true}
}

func (g *githubProvider) shouldAcceptPayload(body map[string]any) bool {
	if g.repo == "" {
		return true
	}
	repoObj, ok := body["repository"].(map[string]any)
	if !ok {
		return false
	}
	fullName, _ := repoObj["full_name"].(string)
	return fullName == g.repo
}

func (g *githubProvider) extractEventType(headers http.Header, body map[string]any) string {
	return headers.Get("X-GitHub-Event")
}

func (g *githubProvider) extractEventData(headers http.Header, body map[string]any) any {
	return map[string]any{
		"deliveryId": headers.Get("X-GitHub-Delivery"),
		"event":      headers.Get("X-GitHub-Event"),
		"payload":    body,
	}
}

func (g *githubProvider) extractIdempotencyKey(headers http.Header, body map[string]any) string {
	delivery := headers.Get("X-GitHub-Delivery")
	if delivery == "" {
		return ""
	}
	return fmt.Sprintf("github:%s", delivery)
}
