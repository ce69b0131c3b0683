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

package storage

import (
	"slices"
	"sync"
	"time"
)

// HealthState is the mirror's view of its backing resource.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

var healthRank = map[HealthState]int{
	HealthHealthy:     0,
	HealthDegraded:    1,
	HealthUnavailable: 2,
}

// HealthConfig tunes how backing operation outcomes map to a state. Each
// operation is judged on its own last Window outcomes.
type HealthConfig struct {
	Window      int
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	// FailureLimit consecutive failures make an operation unavailable
	// regardless of its error rate.
	FailureLimit int
	// Gating lists the operations that decide the overall state. Others are
	// tracked and reported only. Defaults to reset and store.
	Gating []string
}

// OpHealth is the tracked condition of one backing operation.
type OpHealth struct {
	State       HealthState
	ErrorRate   float64
	Latency     time.Duration
	Consecutive int
	Samples     int
	LastError   string
	LastAt      time.Time
}

// HealthSnapshot is the overall state plus the per-operation breakdown.
type HealthSnapshot struct {
	State HealthState
	Since time.Time
	Ops   map[string]OpHealth
}

// HealthMonitor tracks reset, store and remove outcomes of a mirror's backing
// separately. Only gating operations move the overall state, so a failed
// remove at shutdown never marks a working backing unready.
type HealthMonitor struct {
	cfg HealthConfig

	mu         sync.Mutex
	ops        map[string]*opWindow
	state      HealthState
	stateSince time.Time
	onChange   func(from, to HealthState)
}

// opWindow is a fixed ring of recent outcomes plus a latency moving average.
type opWindow struct {
	failed      []bool
	next        int
	filled      int
	failures    int
	consecutive int
	latency     time.Duration
	lastErr     string
	lastAt      time.Time
	state       HealthState
}

// NewHealthMonitor builds a monitor, filling unset thresholds with defaults.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 500 * time.Millisecond
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 3 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 5
	}
	if len(cfg.Gating) == 0 {
		cfg.Gating = []string{"reset", "store"}
	}
	return &HealthMonitor{
		cfg:        cfg,
		ops:        make(map[string]*opWindow),
		state:      HealthHealthy,
		stateSince: time.Now(),
	}
}

// OnChange registers a callback invoked on every state transition. It runs with
// the monitor lock held and must not call back into the monitor.
func (m *HealthMonitor) OnChange(fn func(from, to HealthState)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Record adds the outcome of one backing operation.
func (m *HealthMonitor) Record(op string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	w, ok := m.ops[op]
	if !ok {
		w = &opWindow{failed: make([]bool, m.cfg.Window), latency: latency}
		m.ops[op] = w
	}
	w.observe(latency, err, now)
	w.state = m.classify(w)

	next := HealthHealthy
	for _, name := range m.cfg.Gating {
		if g, ok := m.ops[name]; ok && healthRank[g.state] > healthRank[next] {
			next = g.state
		}
	}
	m.setStateLocked(now, next)
}

func (w *opWindow) observe(latency time.Duration, err error, now time.Time) {
	if w.filled == len(w.failed) {
		if w.failed[w.next] {
			w.failures--
		}
	} else {
		w.filled++
	}
	w.failed[w.next] = err != nil
	w.next = (w.next + 1) % len(w.failed)
	w.lastAt = now
	if err != nil {
		w.failures++
		w.consecutive++
		w.lastErr = err.Error()
	} else {
		w.consecutive = 0
	}
	// EWMA with alpha 1/4.
	w.latency += (latency - w.latency) / 4
}

func (w *opWindow) errorRate() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.filled)
}

func (m *HealthMonitor) classify(w *opWindow) HealthState {
	rate := w.errorRate()
	switch {
	case w.consecutive >= m.cfg.FailureLimit, rate >= m.cfg.ErrorCrit, w.latency >= m.cfg.LatencyCrit:
		return HealthUnavailable
	case rate >= m.cfg.ErrorWarn, w.latency >= m.cfg.LatencyWarn:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// Snapshot returns the overall state and every tracked operation.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make(map[string]OpHealth, len(m.ops))
	for name, w := range m.ops {
		ops[name] = OpHealth{
			State:       w.state,
			ErrorRate:   w.errorRate(),
			Latency:     w.latency,
			Consecutive: w.consecutive,
			Samples:     w.filled,
			LastError:   w.lastErr,
			LastAt:      w.lastAt,
		}
	}
	return HealthSnapshot{State: m.state, Since: m.stateSince, Ops: ops}
}

// State returns just the current state.
func (m *HealthMonitor) State() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Gating reports whether op decides the overall state.
func (m *HealthMonitor) Gating(op string) bool {
	return slices.Contains(m.cfg.Gating, op)
}

func (m *HealthMonitor) setStateLocked(now time.Time, next HealthState) {
	if next == m.state {
		return
	}
	prev := m.state
	m.state = next
	m.stateSince = now
	if m.onChange != nil {
		m.onChange(prev, next)
	}
}
