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

import "net/http"

// genericProvider is the fallback for services with no known signature
// scheme — verification is skipped entirely, matching spec.md §4.8's
// "no header/secret configured → skip verification (localhost dev)" rule.
type genericProvider struct {
	path      string
	eventType string
}

func (g *genericProvider) webhookPath() string { return g.path }

func (g *genericProvider) verifySignature(headers http.Header, rawBody []byte) VerifyResult {
	return VerifyResult{Valid: true}
}

func (g *genericProvider) shouldAcceptPayload(body map[string]any) bool { return true }

func (g *genericProvider) extractEventType(headers http.Header, body map[string]any) string {
	if g.eventType != "" {
		return g.eventType
	}
	return "webhook"
}

func (g *genericProvider) extractEventData(headers http.Header, body map[string]any) any {
	return body
}

func (g *genericProvider) extractIdempotencyKey(headers http.Header, body map[string]any) string {
	return ""
}
