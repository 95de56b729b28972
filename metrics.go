/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const METRICS_NAMESPACE = "oobclient"

var (
	packetsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "packets_sent_total",
		Help:      "Datagrams sent to game servers",
	}, []string{"kind"})

	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "packets_received_total",
		Help:      "Datagrams received from game servers",
	}, []string{"kind"})

	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "bytes_sent_total",
		Help:      "Bytes sent to game servers",
	})

	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "bytes_received_total",
		Help:      "Bytes received from game servers",
	})

	compressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "compression_ratio",
		Help:      "Compressed size over original size of connect payloads",
		Buckets:   prometheus.LinearBuckets(0.3, 0.1, 10),
	})

	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: METRICS_NAMESPACE,
		Name:      "connect_attempts_total",
		Help:      "Connection handshakes by outcome",
	}, []string{"result"})
)

// vim: ai:ts=8:sw=8:noet:syntax=go
