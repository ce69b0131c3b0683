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
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type flakyBacking struct {
	mu     sync.Mutex
	err    error
	stores int
}

func (f *flakyBacking) Name() string                    { return "flaky" }
func (f *flakyBacking) Reset(ctx context.Context) error  { return nil }
func (f *flakyBacking) Remove(ctx context.Context) error { return nil }

func (f *flakyBacking) Store(ctx context.Context, image []byte, records int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	return f.err
}

func (f *flakyBacking) storeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores
}

func runMirror(t *testing.T, m *Mirror) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(context.Background())
	}()
	return errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMirrorFollowsRingAndRemovesOnClose(t *testing.T) {
	ring := NewRing(RingOptions{Capacity: 2})
	backing := NewMemoryBacking()
	_ = backing.Store(context.Background(), []byte("stale\n"), 1)

	var mu sync.Mutex
	ops := map[string]int{}
	m := NewMirror(ring, MirrorConfig{
		Backing: backing,
		OnSync: func(op string, latency time.Duration, err error) {
			mu.Lock()
			ops[op]++
			mu.Unlock()
		},
	})
	errCh := runMirror(t, m)

	appendAll(t, ring, "a\n", "b\n", "c\n")
	waitFor(t, "mirrored image", func() bool {
		image, records, _ := backing.Image()
		return string(image) == "b\nc\n" && records == 2
	})

	if err := ring.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("mirror did not stop after ring close")
	}
	if _, _, present := backing.Image(); present {
		t.Fatalf("expected backing removed after close")
	}
	mu.Lock()
	defer mu.Unlock()
	if ops["reset"] != 1 || ops["remove"] != 1 || ops["store"] == 0 {
		t.Fatalf("unexpected backing ops %v", ops)
	}
}

func TestMirrorStoreFailuresFeedHealth(t *testing.T) {
	ring := NewRing(RingOptions{})
	backing := &flakyBacking{err: errors.New("backing down")}
	health := NewHealthMonitor(HealthConfig{ErrorWarn: 0.1, ErrorCrit: 0.5})
	m := NewMirror(ring, MirrorConfig{Backing: backing, Health: health})
	errCh := runMirror(t, m)

	for i := 0; i < 5; i++ {
		appendAll(t, ring, "x\n")
		waitFor(t, "store attempt", func() bool { return backing.storeCount() > i })
	}
	waitFor(t, "unavailable backing", func() bool {
		return m.Health().State() == HealthUnavailable
	})

	_ = ring.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
