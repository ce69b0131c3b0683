// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ringlog"

var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Client sessions currently being served.",
		},
	)
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total client connections accepted.",
		},
	)
	RecordsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Records appended to the log by source.",
		},
		[]string{"source"},
	)
	RecordsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Records overwritten because the log was full.",
		},
	)
	RecordsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records refused by reason.",
		},
		[]string{"reason"},
	)
	SeekCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seek_commands_total",
			Help:      "Positioning commands by result.",
		},
		[]string{"result"},
	)
	BytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from client connections.",
		},
	)
	BytesEchoed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_echoed_total",
			Help:      "Bytes of log content written back to clients.",
		},
	)
	ResidentRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_records",
			Help:      "Records currently held by the log.",
		},
	)
	ResidentBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_bytes",
			Help:      "Bytes currently held by the log.",
		},
	)
	BackingSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backing_sync_total",
			Help:      "Backing store operations by operation and result.",
		},
		[]string{"operation", "result"},
	)
	BackingSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backing_sync_duration_seconds",
			Help:      "Backing store operation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)
	BackingState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backing_state",
			Help:      "Backing store health, 1 for the current state.",
		},
		[]string{"state"},
	)
	TapPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tap_records_total",
			Help:      "Records forwarded to the tap topic by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsTotal,
		RecordsAppended,
		RecordsEvicted,
		RecordsRejected,
		SeekCommands,
		BytesReceived,
		BytesEchoed,
		ResidentRecords,
		ResidentBytes,
		BackingSyncs,
		BackingSyncDuration,
		BackingState,
		TapPublished,
	)
}

// ObserveBackingSync records one backing store operation.
func ObserveBackingSync(op string, latency time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BackingSyncs.WithLabelValues(op, result).Inc()
	BackingSyncDuration.WithLabelValues(op).Observe(latency.Seconds())
}

// SetBackingState marks state as current and clears the others.
func SetBackingState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		BackingState.WithLabelValues(s).Set(v)
	}
}

// RegisterAppendRate exposes the tracker as ringlog_append_rate.
func RegisterAppendRate(reg prometheus.Registerer, t *ThroughputTracker) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "append_rate",
			Help:      "Records appended per second over the tracking window.",
		},
		t.Rate,
	))
}
