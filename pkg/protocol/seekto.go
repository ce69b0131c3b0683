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
	"fmt"
	"strconv"
	"strings"
)

// SeekCommandMarker prefixes a positioning command sent in place of a data record.
const SeekCommandMarker = "AESDCHAR_IOCSEEKTO"

var seekPrefix = []byte(SeekCommandMarker + ":")

// ErrMalformedCommand is returned for a recognised command with an unparsable body.
var ErrMalformedCommand = errors.New("malformed seek command")

// SeekTo addresses a byte inside a resident record.
type SeekTo struct {
	Record int
	Offset int64
}

// ParseSeekTo decodes "AESDCHAR_IOCSEEKTO:<record>,<offset>". The boolean reports
// whether the marker was present; records without it are ordinary data. Range
// checks are left to the log, which knows what is resident.
func ParseSeekTo(record []byte) (SeekTo, bool, error) {
	if !bytes.HasPrefix(record, seekPrefix) {
		return SeekTo{}, false, nil
	}
	body := strings.TrimRight(string(record[len(seekPrefix):]), "\r\n")
	recStr, offStr, ok := strings.Cut(body, ",")
	if !ok {
		return SeekTo{}, true, fmt.Errorf("%w: %q", ErrMalformedCommand, body)
	}
	rec, err := strconv.Atoi(strings.TrimSpace(recStr))
	if err != nil {
		return SeekTo{}, true, fmt.Errorf("%w: record %q", ErrMalformedCommand, recStr)
	}
	off, err := strconv.ParseInt(strings.TrimSpace(offStr), 10, 64)
	if err != nil {
		return SeekTo{}, true, fmt.Errorf("%w: offset %q", ErrMalformedCommand, offStr)
	}
	return SeekTo{Record: rec, Offset: off}, true, nil
}

// Encode renders the command as a delimited frame.
func (s SeekTo) Encode() []byte {
	return []byte(fmt.Sprintf("%s:%d,%d\n", SeekCommandMarker, s.Record, s.Offset))
}
