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
	"sync"
	"time"
)

// ThroughputTracker counts events into one-second slots of a fixed ring sized to
// the window. A slot is reused once its second falls out of the window.
type ThroughputTracker struct {
	mu    sync.Mutex
	slots []rateSlot
	now   func() time.Time
}

type rateSlot struct {
	sec   int64
	count int64
}

// NewThroughputTracker returns a tracker over window, defaulting to one minute.
// The window is rounded down to whole seconds.
func NewThroughputTracker(window time.Duration) *ThroughputTracker {
	n := int(window / time.Second)
	if n <= 0 {
		n = 60
	}
	return &ThroughputTracker{slots: make([]rateSlot, n), now: time.Now}
}

func (t *ThroughputTracker) Add(count int64) {
	if t == nil || count <= 0 {
		return
	}
	sec := t.now().Unix()
	t.mu.Lock()
	slot := &t.slots[t.index(sec)]
	if slot.sec != sec {
		*slot = rateSlot{sec: sec}
	}
	slot.count += count
	t.mu.Unlock()
}

// Rate returns events per second between the oldest live slot and now.
func (t *ThroughputTracker) Rate() float64 {
	if t == nil {
		return 0
	}
	sec := t.now().Unix()
	oldest := sec - int64(len(t.slots)) + 1
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	first := sec + 1
	for _, slot := range t.slots {
		if slot.count == 0 || slot.sec < oldest || slot.sec > sec {
			continue
		}
		total += slot.count
		first = min(first, slot.sec)
	}
	if total == 0 {
		return 0
	}
	return float64(total) / float64(sec-first+1)
}

func (t *ThroughputTracker) index(sec int64) int {
	i := sec % int64(len(t.slots))
	if i < 0 {
		i += int64(len(t.slots))
	}
	return int(i)
}
