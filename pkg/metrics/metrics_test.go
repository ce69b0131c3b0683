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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestThroughputTrackerRate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewThroughputTracker(10 * time.Second)
	tr.now = func() time.Time { return now }

	if got := tr.Rate(); got != 0 {
		t.Fatalf("empty tracker rate: %v", got)
	}
	tr.Add(4)
	now = now.Add(time.Second)
	tr.Add(6)
	if got := tr.Rate(); math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected 5/s, got %v", got)
	}

	now = now.Add(30 * time.Second)
	if got := tr.Rate(); got != 0 {
		t.Fatalf("expected window to expire, got %v", got)
	}
}

func TestThroughputTrackerReusesExpiredSlots(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewThroughputTracker(3 * time.Second)
	tr.now = func() time.Time { return now }

	tr.Add(9)
	now = now.Add(3 * time.Second)
	tr.Add(3)
	if got := tr.Rate(); math.Abs(got-3) > 1e-9 {
		t.Fatalf("expected stale slot replaced, got %v", got)
	}
	now = now.Add(2 * time.Second)
	tr.Add(3)
	if got := tr.Rate(); math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected 6 events over 3s, got %v", got)
	}
}

func TestThroughputTrackerIgnoresNonPositive(t *testing.T) {
	tr := NewThroughputTracker(0)
	tr.Add(0)
	tr.Add(-3)
	if got := tr.Rate(); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	var nilTracker *ThroughputTracker
	nilTracker.Add(1)
	if nilTracker.Rate() != 0 {
		t.Fatalf("nil tracker should report 0")
	}
}

func TestObserveBackingSync(t *testing.T) {
	okBefore := value(t, BackingSyncs.WithLabelValues("store", "ok"))
	errBefore := value(t, BackingSyncs.WithLabelValues("store", "error"))
	ObserveBackingSync("store", 1500*time.Microsecond, nil)
	ObserveBackingSync("store", 2*time.Millisecond, errors.New("boom"))
	if got := value(t, BackingSyncs.WithLabelValues("store", "ok")) - okBefore; got != 1 {
		t.Fatalf("ok delta %v", got)
	}
	if got := value(t, BackingSyncs.WithLabelValues("store", "error")) - errBefore; got != 1 {
		t.Fatalf("error delta %v", got)
	}
}

func TestBackingSyncDurationInSeconds(t *testing.T) {
	hist := BackingSyncDuration.WithLabelValues("remove").(prometheus.Metric)
	below := func() (uint64, uint64) {
		var out dto.Metric
		if err := hist.Write(&out); err != nil {
			t.Fatalf("write histogram: %v", err)
		}
		var under16ms uint64
		for _, b := range out.GetHistogram().GetBucket() {
			if math.Abs(b.GetUpperBound()-0.016) < 1e-12 {
				under16ms = b.GetCumulativeCount()
			}
		}
		return under16ms, out.GetHistogram().GetSampleCount()
	}
	underBefore, countBefore := below()
	ObserveBackingSync("remove", 10*time.Millisecond, nil)
	ObserveBackingSync("remove", 3*time.Second, nil)
	under, count := below()
	if count-countBefore != 2 {
		t.Fatalf("expected 2 samples, got %d", count-countBefore)
	}
	if under-underBefore != 1 {
		t.Fatalf("expected the 10ms sample under the 16ms bucket, got %d", under-underBefore)
	}
}

func TestSetBackingState(t *testing.T) {
	SetBackingState("degraded", "healthy", "degraded", "unavailable")
	if value(t, BackingState.WithLabelValues("degraded")) != 1 {
		t.Fatalf("degraded should be current")
	}
	if value(t, BackingState.WithLabelValues("healthy")) != 0 {
		t.Fatalf("healthy should be cleared")
	}
}

func TestRegisterAppendRate(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewThroughputTracker(time.Minute)
	tr.Add(2)
	if err := RegisterAppendRate(reg, tr); err != nil {
		t.Fatalf("RegisterAppendRate: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "ringlog_append_rate" {
		t.Fatalf("unexpected families %v", families)
	}
	if got := families[0].GetMetric()[0].GetGauge().GetValue(); got <= 0 || got > 2 {
		t.Fatalf("unexpected rate %v", got)
	}
	if err := RegisterAppendRate(reg, tr); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
