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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestorStateTransitions counts state-machine transitions per ingestor kind.
	IngestorStateTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "state_transitions_total",
			Help:      "Total number of ingestor state transitions",
		},
		[]string{"type", "protocol", "to_state"},
	)

	// IngestorEventsReceived counts events pushed into an ingestor's buffer.
	IngestorEventsReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "events_received_total",
			Help:      "Total number of events received by ingestors",
		},
		[]string{"type", "protocol", "connection_alias"},
	)

	// IngestorEventsDeduped counts events dropped as duplicates.
	IngestorEventsDeduped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "events_deduped_total",
			Help:      "Total number of events dropped as duplicates by idempotency key",
		},
		[]string{"type", "protocol", "connection_alias"},
	)

	// IngestorReconnects counts reconnect attempts by WebSocket ingestors.
	IngestorReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "reconnects_total",
			Help:      "Total number of ingestor reconnect attempts",
		},
		[]string{"type", "protocol", "connection_alias"},
	)

	// IngestorConsecutiveErrors reports the current consecutive-error count.
	IngestorConsecutiveErrors = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "consecutive_errors",
			Help:      "Current consecutive error count for an ingestor",
		},
		[]string{"type", "protocol", "connection_alias"},
	)

	// IngestorBufferedEvents reports the current ring-buffer occupancy.
	IngestorBufferedEvents = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "buffered_events",
			Help:      "Number of events currently buffered by an ingestor",
		},
		[]string{"type", "protocol", "connection_alias"},
	)

	// WebhookRequestsTotal counts inbound webhook deliveries by verification outcome.
	WebhookRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestors",
			Name:      "webhook_requests_total",
			Help:      "Total number of inbound webhook deliveries by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: accepted, rejected, unregistered
	)
)
