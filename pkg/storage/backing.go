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
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kjk/common/atomicfile"
)

// Backing is the external representation of a ring's contents. It is cleared when
// the process starts, rewritten as the ring changes and removed on shutdown so the
// next run starts empty.
type Backing interface {
	Name() string
	Reset(ctx context.Context) error
	Store(ctx context.Context, image []byte, records int) error
	Remove(ctx context.Context) error
}

// MemoryBacking keeps the latest image in process memory.
type MemoryBacking struct {
	mu      sync.Mutex
	image   []byte
	records int
	stores  int
	present bool
}

// NewMemoryBacking returns an empty in-memory backing.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{}
}

func (m *MemoryBacking) Name() string { return "memory" }

func (m *MemoryBacking) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = nil
	m.records = 0
	m.present = true
	return nil
}

func (m *MemoryBacking) Store(ctx context.Context, image []byte, records int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = append(m.image[:0], image...)
	m.records = records
	m.stores++
	m.present = true
	return nil
}

func (m *MemoryBacking) Remove(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = nil
	m.records = 0
	m.present = false
	return nil
}

// Image returns a copy of the last stored image and whether the backing exists.
func (m *MemoryBacking) Image() ([]byte, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.image...), m.records, m.present
}

// Stores returns how many images have been written.
func (m *MemoryBacking) Stores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}

// FileBacking mirrors the ring image into a regular file. Each image is written to
// a temporary file in the same directory and renamed into place.
type FileBacking struct {
	Path string
}

// NewFileBacking returns a backing writing to path.
func NewFileBacking(path string) (*FileBacking, error) {
	if path == "" {
		return nil, errors.New("file backing path required")
	}
	return &FileBacking{Path: path}, nil
}

func (f *FileBacking) Name() string { return "file" }

func (f *FileBacking) Reset(ctx context.Context) error {
	return f.Remove(ctx)
}

func (f *FileBacking) Store(ctx context.Context, image []byte, records int) error {
	w, err := atomicfile.New(f.Path)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.Path, err)
	}
	defer w.RemoveIfNotClosed()
	if _, err := w.Write(image); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("replace %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileBacking) Remove(ctx context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.Path, err)
	}
	return nil
}
