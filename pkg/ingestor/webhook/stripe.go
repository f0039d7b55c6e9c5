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
	"strconv"
	"strings"
	"time"
)

const stripeSignatureTolerance = 300 * time.Second

// stripeProvider verifies Stripe-Signature: t={ts},v1={hex}[,v1={hex}...]
// and rejects timestamps more than 5 minutes away from now.
type stripeProvider struct {
	secret string
	path   string

	now func() time.Time // overridable in tests
}

func (s *stripeProvider) webhookPath() string { return s.path }

func (s *stripeProvider) nowFunc() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *stripeProvider) verifySignature(headers http.Header, rawBody []byte) VerifyResult {
	if s.secret == "" {
		return VerifyResult{Valid: true}
	}

	header := headers.Get("Stripe-Signature")
	if header == "" {
		return VerifyResult{Reason: "missing Stripe-Signature header"}
	}

	var timestamp string
	var v1Sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1Sigs = append(v1Sigs, kv[1])
		}
	}
	if timestamp == "" || len(v1Sigs) == 0 {
		return VerifyResult{Reason: "malformed Stripe-Signature header"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return VerifyResult{Reason: "malformed signature timestamp"}
	}
	age := s.nowFunc().Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > stripeSignatureTolerance {
		return VerifyResult{Reason: "signature timestamp outside tolerance"}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, rawBody)
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(signedPayload))
	want := mac.Sum(nil)

	for _, candidate := range v1Sigs {
		got, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(want, got) {
			return VerifyResult{Valid: true}
		}
	}
	return VerifyResult{Reason: "signature mismatch"}
}

func (s *stripeProvider) shouldAcceptPayload(body map[string]any) bool { return true }

func (s *stripeProvider) extractEventType(headers http.Header, body map[string]any) string {
	eventType, _ := body["type"].(string)
	return eventType
}

func (s *stripeProvider) extractEventData(headers http.Header, body map[string]any) any {
	return body
}

func (s *stripeProvider) extractIdempotencyKey(headers http.Header, body map[string]any) string {
	id, _ := body["id"].(string)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("stripe:%s", id)
}
