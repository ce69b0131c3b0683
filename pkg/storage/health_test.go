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
	"errors"
	"testing"
	"time"
)

func TestHealthStateTransitions(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:       4,
		LatencyWarn:  time.Millisecond,
		LatencyCrit:  time.Hour,
		ErrorWarn:    0.5,
		ErrorCrit:    0.8,
		FailureLimit: 10,
	})
	var transitions []HealthState
	monitor.OnChange(func(from, to HealthState) {
		transitions = append(transitions, to)
	})

	if got := monitor.State(); got != HealthHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.Record("store", 2*time.Millisecond, nil)
	if got := monitor.State(); got != HealthDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 4; i++ {
		monitor.Record("store", 0, errors.New("boom"))
	}
	if got := monitor.State(); got != HealthUnavailable {
		t.Fatalf("expected unavailable after repeated errors got %s", got)
	}

	for i := 0; i < 4; i++ {
		monitor.Record("store", 0, nil)
	}
	if got := monitor.State(); got != HealthHealthy {
		t.Fatalf("expected healthy after recovery got %s", got)
	}
	store := monitor.Snapshot().Ops["store"]
	if store.Samples != 4 || store.ErrorRate != 0 || store.Consecutive != 0 || store.LastError != "boom" {
		t.Fatalf("unexpected store health %+v", store)
	}
	want := []HealthState{HealthDegraded, HealthUnavailable, HealthDegraded, HealthHealthy}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v got %v", want, transitions)
		}
	}
}

func TestHealthRemoveFailuresDoNotGate(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{})
	monitor.Record("reset", time.Millisecond, nil)
	monitor.Record("store", time.Millisecond, nil)
	for i := 0; i < 8; i++ {
		monitor.Record("remove", time.Millisecond, errors.New("access denied"))
	}
	if got := monitor.State(); got != HealthHealthy {
		t.Fatalf("expected remove failures to leave state healthy got %s", got)
	}
	remove := monitor.Snapshot().Ops["remove"]
	if remove.State != HealthUnavailable || remove.Consecutive != 8 || remove.LastError != "access denied" {
		t.Fatalf("unexpected remove health %+v", remove)
	}
	if monitor.Gating("remove") || !monitor.Gating("store") {
		t.Fatalf("unexpected default gating set")
	}

	monitor.Record("reset", time.Millisecond, errors.New("denied"))
	if got := monitor.State(); got == HealthHealthy {
		t.Fatalf("expected reset failure to move the state")
	}
}

func TestHealthConsecutiveFailureLimit(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:       100,
		ErrorWarn:    0.9,
		ErrorCrit:    0.99,
		FailureLimit: 3,
	})
	for i := 0; i < 20; i++ {
		monitor.Record("store", time.Millisecond, nil)
	}
	for i := 0; i < 2; i++ {
		monitor.Record("store", time.Millisecond, errors.New("timeout"))
	}
	if got := monitor.State(); got != HealthHealthy {
		t.Fatalf("expected healthy below the failure limit got %s", got)
	}
	monitor.Record("store", time.Millisecond, errors.New("timeout"))
	if got := monitor.State(); got != HealthUnavailable {
		t.Fatalf("expected unavailable at the failure limit got %s", got)
	}
	monitor.Record("store", time.Millisecond, nil)
	if got := monitor.State(); got != HealthHealthy {
		t.Fatalf("expected one success to clear the streak got %s", got)
	}
}

func TestHealthWindowForgetsOldOutcomes(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{Window: 2, FailureLimit: 10})
	monitor.Record("store", 0, errors.New("boom"))
	monitor.Record("store", 0, nil)
	if rate := monitor.Snapshot().Ops["store"].ErrorRate; rate != 0.5 {
		t.Fatalf("expected error rate 0.5 got %v", rate)
	}
	monitor.Record("store", 0, nil)
	store := monitor.Snapshot().Ops["store"]
	if store.ErrorRate != 0 || store.Samples != 2 {
		t.Fatalf("expected failure to age out of the window, got %+v", store)
	}
}
