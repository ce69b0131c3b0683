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
	"errors"
	"testing"
)

func TestParseSeekTo(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		cmd     bool
		want    SeekTo
		wantErr bool
	}{
		{name: "plain data", in: "hello\n"},
		{name: "marker without colon", in: "AESDCHAR_IOCSEEKTO 1,2\n"},
		{name: "valid", in: "AESDCHAR_IOCSEEKTO:2,0\n", cmd: true, want: SeekTo{Record: 2}},
		{name: "spaces", in: "AESDCHAR_IOCSEEKTO: 3 , 7\r\n", cmd: true, want: SeekTo{Record: 3, Offset: 7}},
		{name: "negative kept for range check", in: "AESDCHAR_IOCSEEKTO:-1,0\n", cmd: true, want: SeekTo{Record: -1}},
		{name: "missing comma", in: "AESDCHAR_IOCSEEKTO:12\n", cmd: true, wantErr: true},
		{name: "bad record", in: "AESDCHAR_IOCSEEKTO:x,1\n", cmd: true, wantErr: true},
		{name: "bad offset", in: "AESDCHAR_IOCSEEKTO:1,\n", cmd: true, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, isCmd, err := ParseSeekTo([]byte(tc.in))
			if isCmd != tc.cmd {
				t.Fatalf("command detection: want %v got %v", tc.cmd, isCmd)
			}
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedCommand) {
					t.Fatalf("expected ErrMalformedCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSeekTo: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want %+v got %+v", tc.want, got)
			}
		})
	}
}

func TestSeekToEncode(t *testing.T) {
	cmd := SeekTo{Record: 4, Offset: 12}
	got, isCmd, err := ParseSeekTo(cmd.Encode())
	if err != nil || !isCmd || got != cmd {
		t.Fatalf("encode/parse mismatch: %+v %v %v", got, isCmd, err)
	}
}
