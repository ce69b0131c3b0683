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
	"time"

	"github.com/novatechflow/ringlog/pkg/storage"
	"github.com/novatechflow/ringlog/pkg/tap"
)

// TimestampLayout formats the periodic timestamp records.
const TimestampLayout = "02 Jan 2006 15:04:05"

// TimestampRecord renders the record appended on each timestamp tick.
func TimestampRecord(t time.Time) []byte {
	return []byte("timestamp:" + t.Format(TimestampLayout) + "\n")
}

func (s *Server) timestampLoop(ctx context.Context) {
	ticker := time.NewTicker(s.TimestampInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.appendTimestamp(ctx, now); err != nil {
				if errors.Is(err, storage.ErrClosed) {
					return
				}
				s.logger().Warn("append timestamp", "error", err)
			}
		}
	}
}

func (s *Server) appendTimestamp(ctx context.Context, now time.Time) error {
	rec := TimestampRecord(now)
	seq, evicted, err := s.Ring.Push(rec)
	if err != nil {
		return err
	}
	observeAppend(s.Ring, "timestamp", evicted)
	s.Rate.Add(1)
	if s.Tap != nil {
		s.Tap.Publish(ctx, tap.Event{Session: "timestamp", Seq: seq, Data: rec, Time: now})
	}
	return nil
}
