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

package tap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/ringlog/pkg/metrics"
)

// Config controls forwarding of appended records to a Kafka topic.
type Config struct {
	Brokers           []string
	Topic             string
	ClientID          string
	CreateTopic       bool
	Partitions        int32
	ReplicationFactor int16
}

// Event is one appended record.
type Event struct {
	Session string
	Seq     uint64
	Data    []byte
	Time    time.Time
}

type client interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	Flush(ctx context.Context) error
	Close()
}

// Tap publishes events asynchronously. Delivery failures are logged and counted,
// never surfaced to the appender.
type Tap struct {
	client client
	topic  string
	logger *slog.Logger
}

// New connects to the brokers and, when asked, creates the topic.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Tap, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("tap brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("tap topic required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ringlogd"
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka client: %w", err)
	}
	t := newTap(cl, cfg.Topic, logger)
	if cfg.CreateTopic {
		if err := t.ensureTopic(ctx, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			cl.Close()
			return nil, err
		}
	}
	return t, nil
}

func newTap(cl client, topic string, logger *slog.Logger) *Tap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tap{client: cl, topic: topic, logger: logger.With("component", "tap", "topic", topic)}
}

func (t *Tap) ensureTopic(ctx context.Context, partitions int32, replication int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = 5000
	topic := kmsg.NewCreateTopicsRequestTopic()
	topic.Topic = t.topic
	topic.NumPartitions = partitions
	topic.ReplicationFactor = replication
	req.Topics = append(req.Topics, topic)

	resp, err := req.RequestWith(ctx, t.client)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", t.topic, err)
	}
	for _, rt := range resp.Topics {
		if err := kerr.ErrorForCode(rt.ErrorCode); err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", rt.Topic, err)
		}
	}
	return nil
}

// Publish queues ev for delivery, keyed by session so one client's records stay ordered.
func (t *Tap) Publish(ctx context.Context, ev Event) {
	if t == nil {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := &kgo.Record{
		Topic:     t.topic,
		Key:       []byte(ev.Session),
		Value:     ev.Data,
		Timestamp: ts,
		Headers: []kgo.RecordHeader{
			{Key: "seq", Value: []byte(strconv.FormatUint(ev.Seq, 10))},
		},
	}
	t.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			metrics.TapPublished.WithLabelValues("error").Inc()
			t.logger.Warn("tap publish failed", "session", ev.Session, "seq", ev.Seq, "error", err)
			return
		}
		metrics.TapPublished.WithLabelValues("ok").Inc()
	})
}

// Close flushes buffered records until ctx expires and releases the client.
func (t *Tap) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	err := t.client.Flush(ctx)
	t.client.Close()
	return err
}
