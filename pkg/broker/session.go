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
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/novatechflow/ringlog/pkg/metrics"
	"github.com/novatechflow/ringlog/pkg/protocol"
	"github.com/novatechflow/ringlog/pkg/storage"
	"github.com/novatechflow/ringlog/pkg/tap"
)

// ErrConnectionReset reports that the peer could not be written to. It ends only
// the session it happened on.
var ErrConnectionReset = errors.New("connection reset")

// State is the position of a session in its receive loop.
type State int32

const (
	StateAwaitingData State = iota
	StateAssembling
	StateRecordComplete
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingData:
		return "awaiting_data"
	case StateAssembling:
		return "assembling"
	case StateRecordComplete:
		return "record_complete"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type session struct {
	id     string
	remote string
	conn   net.Conn
	ring   *storage.Ring
	cursor *storage.Cursor
	asm    *protocol.Assembler
	chunk  int
	tap    Publisher
	rate   *metrics.ThroughputTracker
	logger *slog.Logger

	state atomic.Int32
	done  chan struct{}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// finished reports whether the handler goroutine has returned.
func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// serve reads chunks until the peer goes away or a session error occurs.
// An undelimited tail is dropped on exit.
func (s *session) serve(ctx context.Context) error {
	defer s.setState(StateClosed)
	buf := make([]byte, s.chunk)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			metrics.BytesReceived.Add(float64(n))
			if herr := s.handle(ctx, buf[:n]); herr != nil {
				return herr
			}
		}
		if err != nil {
			if pending := s.asm.Len(); pending > 0 {
				s.logger.Debug("dropping incomplete record", "bytes", pending)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (s *session) handle(ctx context.Context, chunk []byte) error {
	s.setState(StateAssembling)
	records, err := s.asm.Feed(chunk)
	if errors.Is(err, protocol.ErrOversizeRecord) {
		metrics.RecordsRejected.WithLabelValues("oversize").Inc()
		s.logger.Warn("record rejected", "reason", "oversize")
	}
	for _, rec := range records {
		s.setState(StateRecordComplete)
		if err := s.dispatch(ctx, rec); err != nil {
			return err
		}
	}
	if s.asm.Len() == 0 && !s.asm.Discarding() {
		s.setState(StateAwaitingData)
	} else {
		s.setState(StateAssembling)
	}
	return nil
}

func (s *session) dispatch(ctx context.Context, rec []byte) error {
	cmd, isCmd, err := protocol.ParseSeekTo(rec)
	if isCmd {
		return s.seek(cmd, err)
	}

	seq, evicted, err := s.ring.Push(rec)
	if err != nil {
		if errors.Is(err, storage.ErrResourceExhausted) {
			metrics.RecordsRejected.WithLabelValues("exhausted").Inc()
			s.logger.Warn("record rejected", "reason", "exhausted", "error", err)
			return nil
		}
		return err
	}
	observeAppend(s.ring, "client", evicted)
	s.rate.Add(1)
	if s.tap != nil {
		s.tap.Publish(ctx, tap.Event{Session: s.id, Seq: seq, Data: rec, Time: time.Now()})
	}
	if _, err := s.cursor.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.echo()
}

func (s *session) seek(cmd protocol.SeekTo, parseErr error) error {
	if parseErr != nil {
		metrics.SeekCommands.WithLabelValues("malformed").Inc()
		s.logger.Warn("seek command rejected", "error", parseErr)
		return nil
	}
	pos, err := s.cursor.SeekTo(cmd.Record, cmd.Offset)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidArgument) {
			metrics.SeekCommands.WithLabelValues("rejected").Inc()
			s.logger.Warn("seek command rejected", "record", cmd.Record, "offset", cmd.Offset, "error", err)
			return nil
		}
		return err
	}
	metrics.SeekCommands.WithLabelValues("ok").Inc()
	s.logger.Debug("cursor repositioned", "record", cmd.Record, "offset", cmd.Offset, "position", pos)
	return s.echo()
}

// echo streams the log from the cursor to the end of data.
func (s *session) echo() error {
	n, err := s.cursor.WriteTo(s.conn)
	metrics.BytesEchoed.Add(float64(n))
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectionReset, err)
	}
	return nil
}

func observeAppend(ring *storage.Ring, source string, evicted *storage.Record) {
	metrics.RecordsAppended.WithLabelValues(source).Inc()
	if evicted != nil {
		metrics.RecordsEvicted.Inc()
	}
	metrics.ResidentRecords.Set(float64(ring.Len()))
	metrics.ResidentBytes.Set(float64(ring.TotalSize()))
}
