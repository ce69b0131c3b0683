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

package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novatechflow/ringlog/pkg/metrics"
	"github.com/novatechflow/ringlog/pkg/protocol"
	"github.com/novatechflow/ringlog/pkg/storage"
	"github.com/novatechflow/ringlog/pkg/tap"
)

const (
	defaultReadChunkSize = 1024
	defaultReapInterval  = time.Second
)

// Publisher receives every record appended to the log.
type Publisher interface {
	Publish(ctx context.Context, ev tap.Event)
}

// Server accepts line-oriented clients and appends their records to a shared Ring.
// Each connection gets its own session goroutine; finished sessions are reaped by
// the accept loop and by a periodic sweep.
type Server struct {
	Addr   string
	Ring   *storage.Ring
	Logger *slog.Logger

	// MaxRecordSize bounds one record including its delimiter.
	MaxRecordSize int
	// ReadChunkSize is the size of each socket read.
	ReadChunkSize int
	Tap           Publisher
	// TimestampInterval enables periodic timestamp records when positive.
	TimestampInterval time.Duration
	ReapInterval      time.Duration
	// Rate, when set, counts appended records for throughput reporting.
	Rate *metrics.ThroughputTracker

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*session
	wg       sync.WaitGroup
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Ring == nil {
		return errors.New("broker.Server requires a Ring")
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or accept fails. Before
// returning it closes every session, waits for all of them, and closes the Ring.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Ring == nil {
		_ = ln.Close()
		return errors.New("broker.Server requires a Ring")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.listener = ln
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	s.mu.Unlock()
	s.logger().Info("ringlog listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		s.reapLoop(ctx)
	}()
	if s.TimestampInterval > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			s.timestampLoop(ctx)
		}()
	}

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger().Warn("accept timeout", "error", err)
				continue
			}
			acceptErr = err
			break
		}
		s.startSession(ctx, conn)
		s.reap()
	}

	cancel()
	s.closeSessions()
	s.wg.Wait()
	background.Wait()
	s.reap()
	if err := s.Ring.Close(); err != nil {
		s.logger().Warn("close ring", "error", err)
	}
	s.logger().Info("ringlog stopped")
	return acceptErr
}

// Wait blocks until all session goroutines exit.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ListenAddress returns the actual listener address if the server has started.
func (s *Server) ListenAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Addr
}

// ActiveSessions returns the number of sessions whose handler is still running.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, sess := range s.sessions {
		if !sess.finished() {
			active++
		}
	}
	return active
}

func (s *Server) startSession(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	sess := &session{
		id:     id,
		remote: remote,
		conn:   conn,
		ring:   s.Ring,
		cursor: storage.NewCursor(s.Ring),
		asm:    protocol.NewAssembler(s.MaxRecordSize),
		chunk:  s.readChunkSize(),
		tap:    s.Tap,
		rate:   s.Rate,
		logger: s.logger().With("component", "session", "session", id, "remote", remote),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sess.done)
		defer metrics.ConnectionsActive.Dec()
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		sess.logger.Info("accepted connection")
		err := sess.serve(ctx)
		switch {
		case err == nil:
			sess.logger.Info("closed connection")
		case errors.Is(err, storage.ErrClosed):
			sess.logger.Info("closed connection", "reason", "log closed")
		default:
			sess.logger.Warn("session terminated", "error", err)
		}
	}()
}

// reap drops finished sessions from the active set.
func (s *Server) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.finished() {
			delete(s.sessions, id)
		}
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	interval := s.ReapInterval
	if interval <= 0 {
		interval = defaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

func (s *Server) readChunkSize() int {
	if s.ReadChunkSize > 0 {
		return s.ReadChunkSize
	}
	return defaultReadChunkSize
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
