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
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultEtcdPrefix = "/ringlog/default"

// EtcdBackingConfig defines how we connect to etcd for the ring image.
type EtcdBackingConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	Prefix      string
}

// EtcdBacking stores the ring image and record count under a key prefix.
type EtcdBacking struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdBacking connects to etcd.
func NewEtcdBacking(cfg EtcdBackingConfig) (*EtcdBacking, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = defaultEtcdPrefix
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdBacking{client: cli, prefix: prefix}, nil
}

func (e *EtcdBacking) Name() string { return "etcd" }

// ImageKey is the key holding the concatenated records.
func (e *EtcdBacking) ImageKey() string {
	return e.prefix + "/image"
}

// RecordsKey is the key holding the resident record count.
func (e *EtcdBacking) RecordsKey() string {
	return e.prefix + "/records"
}

func (e *EtcdBacking) Reset(ctx context.Context) error {
	return e.deletePrefix(ctx)
}

func (e *EtcdBacking) Store(ctx context.Context, image []byte, records int) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := e.client.Txn(ctx).
		Then(
			clientv3.OpPut(e.ImageKey(), string(image)),
			clientv3.OpPut(e.RecordsKey(), strconv.Itoa(records)),
		).
		Commit()
	if err != nil {
		return fmt.Errorf("store image under %s: %w", e.prefix, err)
	}
	return nil
}

func (e *EtcdBacking) Remove(ctx context.Context) error {
	return e.deletePrefix(ctx)
}

func (e *EtcdBacking) deletePrefix(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := e.client.Delete(ctx, e.prefix+"/", clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("delete %s: %w", e.prefix, err)
	}
	return nil
}

// Close releases the etcd client.
func (e *EtcdBacking) Close() error {
	return e.client.Close()
}
