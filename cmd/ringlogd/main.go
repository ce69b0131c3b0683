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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/ringlog/internal/config"
	"github.com/novatechflow/ringlog/pkg/broker"
	"github.com/novatechflow/ringlog/pkg/control"
	"github.com/novatechflow/ringlog/pkg/metrics"
	"github.com/novatechflow/ringlog/pkg/storage"
	"github.com/novatechflow/ringlog/pkg/tap"
)

const tapFlushTimeout = 5 * time.Second

var healthStates = []string{
	string(storage.HealthHealthy),
	string(storage.HealthDegraded),
	string(storage.HealthUnavailable),
}

func main() {
	configPath := flag.String("config", os.Getenv("RINGLOG_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		newLogger("error").Error("load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ringlogd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, base *slog.Logger) error {
	logger := base.With("component", "ringlogd")
	ring := storage.NewRing(storage.RingOptions{
		Capacity: cfg.Ring.Capacity,
		MaxBytes: cfg.Ring.MaxBytes,
	})

	backing, closeBacking, err := buildBacking(ctx, cfg.Backing, logger)
	if err != nil {
		return err
	}
	defer closeBacking()

	health := storage.NewHealthMonitor(storage.HealthConfig{})
	metrics.SetBackingState(string(health.State()), healthStates...)
	health.OnChange(func(from, to storage.HealthState) {
		logger.Warn("backing health changed", "from", from, "to", to)
		metrics.SetBackingState(string(to), healthStates...)
	})
	mirror := storage.NewMirror(ring, storage.MirrorConfig{
		Backing: backing,
		Health:  health,
		Logger:  base.With("component", "mirror"),
		OnSync: func(op string, latency time.Duration, err error) {
			metrics.ObserveBackingSync(op, latency, err)
		},
	})
	mirrorDone := make(chan error, 1)
	go func() {
		mirrorDone <- mirror.Run(ctx)
	}()
	defer func() {
		_ = ring.Close()
		if err := <-mirrorDone; err != nil {
			logger.Warn("backing mirror stopped", "error", err)
		}
	}()

	var publisher broker.Publisher
	if cfg.Tap.Enabled {
		tp, err := tap.New(ctx, tap.Config{
			Brokers:           cfg.Tap.Brokers,
			Topic:             cfg.Tap.Topic,
			ClientID:          cfg.Tap.ClientID,
			CreateTopic:       cfg.Tap.CreateTopic,
			Partitions:        int32(cfg.Tap.Partitions),
			ReplicationFactor: int16(cfg.Tap.ReplicationFactor),
		}, base)
		if err != nil {
			return fmt.Errorf("start tap: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), tapFlushTimeout)
			defer cancel()
			if err := tp.Close(flushCtx); err != nil {
				logger.Warn("tap flush", "error", err)
			}
		}()
		publisher = tp
		logger.Info("record tap enabled", "brokers", strings.Join(cfg.Tap.Brokers, ","), "topic", cfg.Tap.Topic)
	}

	rate := metrics.NewThroughputTracker(time.Minute)
	if err := metrics.RegisterAppendRate(prometheus.DefaultRegisterer, rate); err != nil {
		logger.Warn("register append rate", "error", err)
	}
	srv := &broker.Server{
		Addr:              cfg.Server.Listen,
		Ring:              ring,
		Logger:            base.With("component", "broker"),
		MaxRecordSize:     cfg.Server.MaxRecordSize,
		ReadChunkSize:     cfg.Server.ReadChunkSize,
		Tap:               publisher,
		TimestampInterval: cfg.Server.TimestampInterval,
		ReapInterval:      cfg.Server.ReapInterval,
		Rate:              rate,
	}

	startMetricsServer(ctx, cfg.Server.MetricsListen, health, logger)
	startControlServer(ctx, cfg.Server.ControlListen, &control.Server{
		Ring:     ring,
		Sessions: srv.ActiveSessions,
		Rate:     rate,
		Health:   health,
	}, base.With("component", "control"))

	logger.Info("starting ringlogd",
		"listen", cfg.Server.Listen,
		"capacity", cfg.Ring.Capacity,
		"backing", backing.Name(),
		"timestamp_interval", cfg.Server.TimestampInterval)
	return srv.ListenAndServe(ctx)
}

func buildBacking(ctx context.Context, cfg config.BackingConfig, logger *slog.Logger) (storage.Backing, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case config.BackingFile:
		b, err := storage.NewFileBacking(cfg.File.Path)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using file backing", "path", cfg.File.Path)
		return b, noop, nil
	case config.BackingEtcd:
		b, err := storage.NewEtcdBacking(storage.EtcdBackingConfig{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using etcd backing", "endpoints", strings.Join(cfg.Etcd.Endpoints, ","), "prefix", cfg.Etcd.Prefix)
		return b, func() { _ = b.Close() }, nil
	case config.BackingS3:
		b, err := storage.NewS3Backing(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Key:             cfg.S3.Key,
			ForcePathStyle:  cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			KMSKeyARN:       cfg.S3.KMSKeyARN,
		})
		if err != nil {
			return nil, noop, err
		}
		if cfg.S3.EnsureBucket {
			if err := b.EnsureBucket(ctx); err != nil {
				return nil, noop, fmt.Errorf("ensure bucket %s: %w", cfg.S3.Bucket, err)
			}
		}
		logger.Info("using s3 backing", "bucket", cfg.S3.Bucket, "key", cfg.S3.Key, "region", cfg.S3.Region, "endpoint", cfg.S3.Endpoint, "kms_configured", cfg.S3.KMSKeyARN != "")
		return b, noop, nil
	default:
		return storage.NewMemoryBacking(), noop, nil
	}
}

func startControlServer(ctx context.Context, addr string, svc control.LogControlServer, logger *slog.Logger) {
	if addr == "" {
		return
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("control server listen error", "error", err)
		return
	}
	go func() {
		if err := control.Serve(ctx, lis, svc, logger); err != nil {
			logger.Error("control server error", "error", err)
		}
	}()
}

func newLogger(levelName string) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}
