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
	"io"
	"math"
	"sync"
)

var (
	_ io.Reader   = (*Cursor)(nil)
	_ io.Seeker   = (*Cursor)(nil)
	_ io.WriterTo = (*Cursor)(nil)
)

// Cursor is a read position over a Ring, the equivalent of an open file on the log device.
type Cursor struct {
	ring *Ring
	mu   sync.Mutex
	pos  int64
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(r *Ring) *Cursor {
	return &Cursor{ring: r}
}

// Position returns the current global offset.
func (c *Cursor) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Read copies resident bytes from the current position and advances it.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.ring.ReadRange(c.pos, len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	c.pos += int64(n)
	return n, nil
}

// Seek moves the cursor relative to the start, the current position or the end of
// data. The target must stay within [0, TotalSize()].
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.ring.TotalSize()
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = c.pos + offset
	case io.SeekEnd:
		next = total + offset
	default:
		return c.pos, fmt.Errorf("seek whence %d: %w", whence, ErrInvalidArgument)
	}
	if next < 0 || next > total {
		return c.pos, fmt.Errorf("seek to %d outside [0,%d]: %w", next, total, ErrInvalidArgument)
	}
	c.pos = next
	return next, nil
}

// SeekTo positions the cursor at the given byte of the given resident record.
// On failure the position is left unchanged.
func (c *Cursor) SeekTo(index int, intra int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, err := c.ring.Linearize(index, intra)
	if err != nil {
		return c.pos, err
	}
	c.pos = pos
	return pos, nil
}

// WriteTo sends everything from the current position to the end of data. The bytes
// are captured in one ring call and written afterwards, so w never observes a
// partially applied append.
func (c *Cursor) WriteTo(w io.Writer) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.ring.ReadRange(c.pos, math.MaxInt)
	if err != nil {
		return 0, err
	}
	var written int64
	for len(data) > 0 {
		n, err := w.Write(data)
		written += int64(n)
		c.pos += int64(n)
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		data = data[n:]
	}
	return written, nil
}
