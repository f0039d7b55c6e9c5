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
	"net/http"

	"vaultproxy/pkg/ingestor"
)

// Outcome is the result of dispatching one inbound delivery, suitable for
// the HTTP handler to turn directly into a status code and body.
type Outcome struct {
	StatusCode int
	Rejections map[string]string // connectionAlias -> rejection reason, only set on 403
}

// targets is satisfied by *ingestor.Manager; declared narrowly so this
// package does not need to import the manager's full surface.
type targets interface {
	WebhookTargets(matches func(ingestor.Ingestor) bool) []ingestor.Ingestor
}

// Dispatch implements spec.md §4.8's fan-out contract: every ingestor
// registered under path gets its own copy of the delivery. HTTP 200 if
// any accepted (stops retry storms), 403 if all rejected, 404 if none
// are registered for the path at all.
func Dispatch(mgr targets, path string, headers http.Header, rawBody []byte) Outcome {
	hooks := mgr.WebhookTargets(func(inst ingestor.Ingestor) bool {
		w, ok := inst.(*Webhook)
		return ok && w.WebhookPath() == path
	})
	if len(hooks) == 0 {
		return Outcome{StatusCode: http.StatusNotFound}
	}

	rejections := make(map[string]string)
	anyAccepted := false
	for _, inst := range hooks {
		w := inst.(*Webhook)
		accepted, reason := w.Accept(headers, rawBody)
		if accepted {
			anyAccepted = true
			continue
		}
		rejections[w.ConnectionAlias] = reason
	}

	if anyAccepted {
		return Outcome{StatusCode: http.StatusOK}
	}
	return Outcome{StatusCode: http.StatusForbidden, Rejections: rejections}
}
