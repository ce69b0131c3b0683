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
	"fmt"
	"log/slog"
	"time"
)

const backingOpTimeout = 5 * time.Second

// MirrorConfig wires a Mirror to its backing and observers.
type MirrorConfig struct {
	Backing Backing
	Health  *HealthMonitor
	Logger  *slog.Logger
	// OnSync observes every backing operation ("reset", "store", "remove").
	OnSync func(op string, latency time.Duration, err error)
}

// Mirror keeps a Backing in step with a Ring. Writes happen on the mirror's own
// goroutine from a ring snapshot, never while the ring lock is held.
type Mirror struct {
	ring    *Ring
	backing Backing
	health  *HealthMonitor
	logger  *slog.Logger
	onSync  func(string, time.Duration, error)
}

// NewMirror builds a mirror for ring. A nil backing mirrors into memory.
func NewMirror(ring *Ring, cfg MirrorConfig) *Mirror {
	backing := cfg.Backing
	if backing == nil {
		backing = NewMemoryBacking()
	}
	health := cfg.Health
	if health == nil {
		health = NewHealthMonitor(HealthConfig{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		ring:    ring,
		backing: backing,
		health:  health,
		logger:  logger.With("backing", backing.Name()),
		onSync:  cfg.OnSync,
	}
}

// Backing returns the mirrored resource.
func (m *Mirror) Backing() Backing {
	return m.backing
}

// Health returns the monitor fed by backing operations.
func (m *Mirror) Health() *HealthMonitor {
	return m.health
}

// Run clears the backing, rewrites it after ring changes and removes it once the
// ring is closed. It returns after the removal.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.do(ctx, "reset", m.backing.Reset); err != nil {
		return fmt.Errorf("reset %s backing: %w", m.backing.Name(), err)
	}
	for {
		select {
		case <-m.ring.Changes():
			m.sync(ctx)
		case <-m.ring.Done():
			if err := m.do(ctx, "remove", m.backing.Remove); err != nil {
				return fmt.Errorf("remove %s backing: %w", m.backing.Name(), err)
			}
			return nil
		}
	}
}

func (m *Mirror) sync(ctx context.Context) {
	image, records, err := m.ring.Snapshot()
	if errors.Is(err, ErrClosed) {
		return
	}
	err = m.do(ctx, "store", func(ctx context.Context) error {
		return m.backing.Store(ctx, image, records)
	})
	if err != nil {
		m.logger.Warn("backing store failed", "error", err, "bytes", len(image), "records", records)
	}
}

func (m *Mirror) do(ctx context.Context, op string, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backingOpTimeout)
	defer cancel()
	start := time.Now()
	err := fn(opCtx)
	latency := time.Since(start)
	m.health.Record(op, latency, err)
	if m.onSync != nil {
		m.onSync(op, latency, err)
	}
	m.logger.Debug("backing operation", "op", op, "latency", latency, "error", err)
	return err
}
