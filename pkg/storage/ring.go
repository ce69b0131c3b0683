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
	"fmt"
	"sync"
)

// Ring is a fixed-capacity circular log of completed records.
//
// Records are addressed either by a global byte offset into the concatenation of
// every resident record (oldest first) or by a logical (index, intra offset) pair
// where index 0 is the oldest resident record. Every exported method holds the ring
// mutex for its own duration only.
type Ring struct {
	mu       sync.Mutex
	slots    []Record
	in       int
	out      int
	full     bool
	size     int64
	seq      uint64
	maxBytes int64
	closed   bool
	changes  chan struct{}
	done     chan struct{}
}

// NewRing creates an empty ring.
func NewRing(opts RingOptions) *Ring {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		slots:    make([]Record, capacity),
		maxBytes: opts.MaxBytes,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Append stores a copy of data as the newest record. When the ring is full the
// oldest record is evicted first and returned so the caller can release anything
// tied to it. On error the ring is unchanged.
func (r *Ring) Append(data []byte) (*Record, error) {
	_, evicted, err := r.Push(data)
	return evicted, err
}

// Push is Append that also reports the sequence number given to the new record.
func (r *Ring) Push(data []byte) (uint64, *Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, nil, ErrClosed
	}
	incoming := int64(len(data))
	var outgoing int64
	if r.full {
		outgoing = r.slots[r.out].Size()
	}
	if r.maxBytes > 0 && r.size-outgoing+incoming > r.maxBytes {
		return 0, nil, fmt.Errorf("append %d bytes (%d resident, budget %d): %w", incoming, r.size, r.maxBytes, ErrResourceExhausted)
	}

	var evicted *Record
	if r.full {
		old := r.slots[r.out]
		evicted = &old
		r.slots[r.out] = Record{}
		r.out = (r.out + 1) % len(r.slots)
		r.size -= old.Size()
	}
	r.seq++
	r.slots[r.in] = Record{Seq: r.seq, Data: append([]byte(nil), data...)}
	r.in = (r.in + 1) % len(r.slots)
	r.full = r.in == r.out
	r.size += incoming
	r.notifyLocked()
	return r.seq, evicted, nil
}

// ReadRange copies up to length bytes starting at offset, crossing record boundaries.
// Reading at or past the end of data returns no bytes and no error.
func (r *Ring) ReadRange(offset int64, length int) ([]byte, error) {
	if offset < 0 {
		return nil, ErrOutOfRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.readLocked(offset, length), nil
}

// ReadAll returns the full concatenation of resident records.
func (r *Ring) ReadAll() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.readLocked(0, int(r.size)), nil
}

// Snapshot returns the full concatenation together with the number of records it holds.
func (r *Ring) Snapshot() ([]byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, 0, ErrClosed
	}
	return r.readLocked(0, int(r.size)), r.countLocked(), nil
}

func (r *Ring) readLocked(offset int64, length int) []byte {
	if length <= 0 || offset >= r.size {
		return nil
	}
	idx, intra, _ := r.locateLocked(offset)
	want := r.size - offset
	if int64(length) < want {
		want = int64(length)
	}
	out := make([]byte, 0, want)
	count := r.countLocked()
	for i := idx; i < count && int64(len(out)) < want; i++ {
		chunk := r.slotLocked(i).Data[intra:]
		if room := want - int64(len(out)); int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		out = append(out, chunk...)
		intra = 0
	}
	return out
}

// Locate translates a global offset into a record index and intra-record offset.
// ok is false when offset is at or beyond the end of data.
func (r *Ring) Locate(offset int64) (index int, intra int64, ok bool, err error) {
	if offset < 0 {
		return 0, 0, false, ErrOutOfRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, 0, false, ErrClosed
	}
	index, intra, ok = r.locateLocked(offset)
	return index, intra, ok, nil
}

func (r *Ring) locateLocked(offset int64) (int, int64, bool) {
	if offset >= r.size {
		return 0, 0, false
	}
	var acc int64
	count := r.countLocked()
	for i := 0; i < count; i++ {
		size := r.slotLocked(i).Size()
		if offset < acc+size {
			return i, offset - acc, true
		}
		acc += size
	}
	return 0, 0, false
}

// Linearize translates a record index and intra-record offset into a global offset.
func (r *Ring) Linearize(index int, intra int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	return r.linearizeLocked(index, intra)
}

func (r *Ring) linearizeLocked(index int, intra int64) (int64, error) {
	count := r.countLocked()
	if index < 0 || index >= count {
		return 0, fmt.Errorf("record %d not resident (%d records): %w", index, count, ErrInvalidArgument)
	}
	if intra < 0 || intra >= r.slotLocked(index).Size() {
		return 0, fmt.Errorf("offset %d outside record %d (%d bytes): %w", intra, index, r.slotLocked(index).Size(), ErrInvalidArgument)
	}
	var pos int64
	for i := 0; i < index; i++ {
		pos += r.slotLocked(i).Size()
	}
	return pos + intra, nil
}

// ReadPosition reads up to length bytes starting at the given byte of the given
// record, resolving the position and copying the bytes under one lock.
func (r *Ring) ReadPosition(index int, intra int64, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	pos, err := r.linearizeLocked(index, intra)
	if err != nil {
		return nil, err
	}
	return r.readLocked(pos, length), nil
}

// TotalSize returns the cumulative size of resident records.
func (r *Ring) TotalSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Len returns the number of resident records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

// Capacity returns the number of record slots.
func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Records returns copies of the resident records, oldest first.
func (r *Ring) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.countLocked()
	out := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		rec := r.slotLocked(i)
		out = append(out, Record{Seq: rec.Seq, Data: append([]byte(nil), rec.Data...)})
	}
	return out
}

// Changes signals after appends. Notifications coalesce: one pending signal may
// stand for several appends.
func (r *Ring) Changes() <-chan struct{} {
	return r.changes
}

// Done is closed once the ring has been closed.
func (r *Ring) Done() <-chan struct{} {
	return r.done
}

// Close drops every resident record. Later calls fail with ErrClosed.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for i := range r.slots {
		r.slots[i] = Record{}
	}
	r.in, r.out, r.full, r.size = 0, 0, false, 0
	close(r.done)
	return nil
}

func (r *Ring) countLocked() int {
	if r.full {
		return len(r.slots)
	}
	return (r.in - r.out + len(r.slots)) % len(r.slots)
}

func (r *Ring) slotLocked(index int) *Record {
	return &r.slots[(r.out+index)%len(r.slots)]
}

func (r *Ring) notifyLocked() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
