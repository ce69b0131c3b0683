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

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backing kinds.
const (
	BackingMemory = "memory"
	BackingFile   = "file"
	BackingEtcd   = "etcd"
	BackingS3     = "s3"
)

// Config defines the ringlogd configuration schema.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Ring    RingConfig    `yaml:"ring"`
	Backing BackingConfig `yaml:"backing"`
	Tap     TapConfig     `yaml:"tap"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	MetricsListen     string        `yaml:"metrics_listen"`
	ControlListen     string        `yaml:"control_listen"`
	MaxRecordSize     int           `yaml:"max_record_size"`
	ReadChunkSize     int           `yaml:"read_chunk_size"`
	TimestampInterval time.Duration `yaml:"timestamp_interval"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RingConfig struct {
	Capacity int   `yaml:"capacity"`
	MaxBytes int64 `yaml:"max_bytes"`
}

type BackingConfig struct {
	Kind string            `yaml:"kind"`
	File FileBackingConfig `yaml:"file"`
	Etcd EtcdBackingConfig `yaml:"etcd"`
	S3   S3BackingConfig   `yaml:"s3"`
}

type FileBackingConfig struct {
	Path string `yaml:"path"`
}

type EtcdBackingConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type S3BackingConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Key             string `yaml:"key"`
	PathStyle       bool   `yaml:"path_style"`
	KMSKeyARN       string `yaml:"kms_key_arn"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	EnsureBucket    bool   `yaml:"ensure_bucket"`
}

type TapConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	ClientID          string   `yaml:"client_id"`
	CreateTopic       bool     `yaml:"create_topic"`
	Partitions        int      `yaml:"partitions"`
	ReplicationFactor int      `yaml:"replication_factor"`
}

// Load reads the YAML file at path (optional when empty), fills defaults, applies
// RINGLOG_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":9000"
	}
	if cfg.Server.MetricsListen == "" {
		cfg.Server.MetricsListen = ":9100"
	}
	if cfg.Server.ControlListen == "" {
		cfg.Server.ControlListen = ":9101"
	}
	if cfg.Server.MaxRecordSize == 0 {
		cfg.Server.MaxRecordSize = 65000
	}
	if cfg.Server.ReadChunkSize == 0 {
		cfg.Server.ReadChunkSize = 1024
	}
	if cfg.Server.ReapInterval == 0 {
		cfg.Server.ReapInterval = time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Ring.Capacity == 0 {
		cfg.Ring.Capacity = 10
	}
	if cfg.Backing.Kind == "" {
		cfg.Backing.Kind = BackingMemory
	}
	if cfg.Backing.File.Path == "" {
		cfg.Backing.File.Path = "/var/tmp/aesdsocketdata"
	}
	if cfg.Backing.Etcd.Prefix == "" {
		cfg.Backing.Etcd.Prefix = "/ringlog/default"
	}
	if cfg.Backing.Etcd.DialTimeout == 0 {
		cfg.Backing.Etcd.DialTimeout = 5 * time.Second
	}
	if cfg.Backing.S3.Region == "" {
		cfg.Backing.S3.Region = "us-east-1"
	}
	if cfg.Backing.S3.Key == "" {
		cfg.Backing.S3.Key = "ringlog/image"
	}
	if cfg.Tap.Topic == "" {
		cfg.Tap.Topic = "ringlog-records"
	}
	if cfg.Tap.ClientID == "" {
		cfg.Tap.ClientID = "ringlogd"
	}
	if cfg.Tap.Partitions == 0 {
		cfg.Tap.Partitions = 1
	}
	if cfg.Tap.ReplicationFactor == 0 {
		cfg.Tap.ReplicationFactor = 1
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Listen, "RINGLOG_SERVER_LISTEN")
	setString(&cfg.Server.MetricsListen, "RINGLOG_METRICS_LISTEN")
	setString(&cfg.Server.ControlListen, "RINGLOG_CONTROL_LISTEN")
	setInt(&cfg.Server.MaxRecordSize, "RINGLOG_MAX_RECORD_SIZE")
	setInt(&cfg.Server.ReadChunkSize, "RINGLOG_READ_CHUNK_SIZE")
	setDuration(&cfg.Server.TimestampInterval, "RINGLOG_TIMESTAMP_INTERVAL")
	setDuration(&cfg.Server.ReapInterval, "RINGLOG_REAP_INTERVAL")

	setString(&cfg.Log.Level, "RINGLOG_LOG_LEVEL")

	setInt(&cfg.Ring.Capacity, "RINGLOG_RING_CAPACITY")
	setInt64(&cfg.Ring.MaxBytes, "RINGLOG_RING_MAX_BYTES")

	setString(&cfg.Backing.Kind, "RINGLOG_BACKING_KIND")
	setString(&cfg.Backing.File.Path, "RINGLOG_BACKING_FILE_PATH")
	setCSV(&cfg.Backing.Etcd.Endpoints, "RINGLOG_ETCD_ENDPOINTS")
	setString(&cfg.Backing.Etcd.Username, "RINGLOG_ETCD_USERNAME")
	setString(&cfg.Backing.Etcd.Password, "RINGLOG_ETCD_PASSWORD")
	setString(&cfg.Backing.Etcd.Prefix, "RINGLOG_ETCD_PREFIX")
	setDuration(&cfg.Backing.Etcd.DialTimeout, "RINGLOG_ETCD_DIAL_TIMEOUT")
	setString(&cfg.Backing.S3.Bucket, "RINGLOG_S3_BUCKET")
	setString(&cfg.Backing.S3.Region, "RINGLOG_S3_REGION")
	setString(&cfg.Backing.S3.Endpoint, "RINGLOG_S3_ENDPOINT")
	setString(&cfg.Backing.S3.Key, "RINGLOG_S3_KEY")
	setBool(&cfg.Backing.S3.PathStyle, "RINGLOG_S3_PATH_STYLE")
	setString(&cfg.Backing.S3.KMSKeyARN, "RINGLOG_S3_KMS_KEY_ARN")
	setString(&cfg.Backing.S3.AccessKeyID, "RINGLOG_S3_ACCESS_KEY_ID")
	setString(&cfg.Backing.S3.SecretAccessKey, "RINGLOG_S3_SECRET_ACCESS_KEY")
	setBool(&cfg.Backing.S3.EnsureBucket, "RINGLOG_S3_ENSURE_BUCKET")

	setBool(&cfg.Tap.Enabled, "RINGLOG_TAP_ENABLED")
	setCSV(&cfg.Tap.Brokers, "RINGLOG_TAP_BROKERS")
	setString(&cfg.Tap.Topic, "RINGLOG_TAP_TOPIC")
	setString(&cfg.Tap.ClientID, "RINGLOG_TAP_CLIENT_ID")
	setBool(&cfg.Tap.CreateTopic, "RINGLOG_TAP_CREATE_TOPIC")
	setInt(&cfg.Tap.Partitions, "RINGLOG_TAP_PARTITIONS")
	setInt(&cfg.Tap.ReplicationFactor, "RINGLOG_TAP_REPLICATION_FACTOR")
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Server.MaxRecordSize <= 0 {
		return fmt.Errorf("server.max_record_size must be positive, got %d", c.Server.MaxRecordSize)
	}
	if c.Server.ReadChunkSize <= 0 {
		return fmt.Errorf("server.read_chunk_size must be positive, got %d", c.Server.ReadChunkSize)
	}
	if c.Server.TimestampInterval < 0 {
		return errors.New("server.timestamp_interval must not be negative")
	}
	if c.Ring.Capacity <= 0 {
		return fmt.Errorf("ring.capacity must be positive, got %d", c.Ring.Capacity)
	}
	if c.Ring.MaxBytes < 0 {
		return errors.New("ring.max_bytes must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log.level %q", c.Log.Level)
	}
	switch c.Backing.Kind {
	case BackingMemory:
	case BackingFile:
		if c.Backing.File.Path == "" {
			return errors.New("backing.file.path is required")
		}
	case BackingEtcd:
		if len(c.Backing.Etcd.Endpoints) == 0 {
			return errors.New("backing.etcd.endpoints is required")
		}
	case BackingS3:
		if c.Backing.S3.Bucket == "" {
			return errors.New("backing.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported backing.kind %q", c.Backing.Kind)
	}
	if c.Tap.Enabled {
		if len(c.Tap.Brokers) == 0 {
			return errors.New("tap.brokers is required when the tap is enabled")
		}
		if c.Tap.Topic == "" {
			return errors.New("tap.topic is required when the tap is enabled")
		}
		if c.Tap.CreateTopic {
			if c.Tap.Partitions < 1 || c.Tap.Partitions > math.MaxInt32 {
				return fmt.Errorf("tap.partitions must be in [1, %d], got %d", math.MaxInt32, c.Tap.Partitions)
			}
			if c.Tap.ReplicationFactor < 1 || c.Tap.ReplicationFactor > math.MaxInt16 {
				return fmt.Errorf("tap.replication_factor must be in [1, %d], got %d", math.MaxInt16, c.Tap.ReplicationFactor)
			}
		}
	}
	return nil
}

func setString(target *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*target = val
	}
}

func setInt(target *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setInt64(target *int64, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			*target = parsed
		}
	}
}

func setBool(target *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setDuration(target *time.Duration, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setCSV(target *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
