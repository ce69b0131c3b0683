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

package protocol

import (
	"bytes"
	"errors"
)

const (
	// Delimiter terminates every record.
	Delimiter byte = '\n'
	// DefaultMaxRecordSize bounds a record including its delimiter.
	DefaultMaxRecordSize = 65000
)

// ErrOversizeRecord reports that input was dropped because a record outgrew the limit.
var ErrOversizeRecord = errors.New("record exceeds maximum size")

// Assembler turns a stream of arbitrary chunks into delimiter-terminated records.
// It is owned by a single reader and is not safe for concurrent use.
type Assembler struct {
	max        int
	buf        []byte
	discarding bool
}

// NewAssembler returns an assembler that accepts records of at most maxRecord bytes,
// delimiter included.
func NewAssembler(maxRecord int) *Assembler {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecordSize
	}
	return &Assembler{max: maxRecord}
}

// Feed consumes a chunk and returns every record it completes, in order. Bytes after
// the last delimiter stay pending for the next call.
//
// A pending record that reaches the size limit without a delimiter is dropped, and
// input is skipped up to and including the next delimiter. A delimited record above
// the limit is dropped as well. Either case yields ErrOversizeRecord alongside any
// records completed by the same chunk.
func (a *Assembler) Feed(chunk []byte) ([][]byte, error) {
	var (
		records  [][]byte
		oversize bool
	)
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, Delimiter)
		if a.discarding {
			if idx < 0 {
				break
			}
			a.discarding = false
			chunk = chunk[idx+1:]
			continue
		}
		if idx < 0 {
			if len(a.buf)+len(chunk) >= a.max {
				a.buf = a.buf[:0]
				a.discarding = true
				oversize = true
				break
			}
			a.buf = append(a.buf, chunk...)
			break
		}
		size := len(a.buf) + idx + 1
		if size > a.max {
			a.buf = a.buf[:0]
			oversize = true
			chunk = chunk[idx+1:]
			continue
		}
		rec := make([]byte, 0, size)
		rec = append(rec, a.buf...)
		rec = append(rec, chunk[:idx+1]...)
		records = append(records, rec)
		a.buf = a.buf[:0]
		chunk = chunk[idx+1:]
	}
	if oversize {
		return records, ErrOversizeRecord
	}
	return records, nil
}

// Pending returns a copy of the bytes waiting for a delimiter.
func (a *Assembler) Pending() []byte {
	return append([]byte(nil), a.buf...)
}

// Len is the number of bytes waiting for a delimiter.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// Discarding reports whether input is being skipped after an oversize record.
func (a *Assembler) Discarding() bool {
	return a.discarding
}

// Reset drops pending bytes and leaves discard mode.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.discarding = false
}
