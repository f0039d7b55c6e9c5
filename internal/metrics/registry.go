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

// Package metrics holds the process-wide Prometheus registry and the
// counters/histograms/gauges the gateway's subsystems register against it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "vaultproxy"

// Registry is the process-wide collector registry. All metrics in this
// package register against it via promauto.With(Registry) rather than the
// global default registry, so a server embedding this package can run more
// than one instance in the same process without collector collisions.
var Registry = prometheus.NewRegistry()
