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

import "errors"

// DefaultCapacity matches the number of write operations the log retains by default.
const DefaultCapacity = 10

// Record is one delimiter-terminated entry held by the ring.
type Record struct {
	// Seq is the append sequence number, starting at 1 for the first record ever stored.
	Seq  uint64
	Data []byte
}

// Size returns the record length in bytes.
func (r Record) Size() int64 {
	return int64(len(r.Data))
}

// RingOptions controls ring sizing.
type RingOptions struct {
	// Capacity is the number of record slots. Zero means DefaultCapacity.
	Capacity int
	// MaxBytes bounds the resident byte total. Zero disables the limit.
	MaxBytes int64
}

var (
	// ErrInvalidArgument is returned when a position does not refer to resident data.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfRange is returned for negative global offsets.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrResourceExhausted is returned when an append cannot be admitted by the byte budget.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrClosed is returned by every operation once the ring has been closed.
	ErrClosed = errors.New("ring closed")
)
