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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/novatechflow/ringlog/pkg/control"
	"github.com/novatechflow/ringlog/pkg/protocol"
)

func main() {
	mode := strings.ToLower(envOrDefault("RINGLOG_CLIENT_MODE", "append"))
	addr := envOrDefault("RINGLOG_CLIENT_ADDR", "127.0.0.1:9000")
	controlAddr := envOrDefault("RINGLOG_CLIENT_CONTROL_ADDR", "127.0.0.1:9101")
	count := parseEnvInt("RINGLOG_CLIENT_COUNT", 1)
	timeout := time.Duration(parseEnvInt("RINGLOG_CLIENT_TIMEOUT_SEC", 10)) * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch mode {
	case "append":
		if count <= 0 {
			log.Fatalf("RINGLOG_CLIENT_COUNT must be > 0")
		}
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			log.Fatalf("dial %s: %v", addr, err)
		}
		defer conn.Close()
		prefix := envOrDefault("RINGLOG_CLIENT_PREFIX", "record")
		resident, capacity := 0, parseEnvInt("RINGLOG_CLIENT_CAPACITY", 10)
		client, closeFn := dialControl(controlAddr)
		statusCtx, statusCancel := context.WithTimeout(ctx, 2*time.Second)
		doc, err := client.Status(statusCtx)
		statusCancel()
		if err != nil {
			log.Printf("status unavailable, assuming an empty log of %d records: %v", capacity, err)
		} else {
			resident, capacity = residentRecords(doc, capacity)
		}
		closeFn()
		last, err := appendRecords(conn, prefix, count, resident, capacity, timeout)
		if err != nil {
			log.Fatalf("append: %v", err)
		}
		log.Printf("appended %d records to %s", count, addr)
		os.Stdout.Write(last)
	case "seek":
		cmd := protocol.SeekTo{
			Record: parseEnvInt("RINGLOG_CLIENT_RECORD", 0),
			Offset: int64(parseEnvInt("RINGLOG_CLIENT_OFFSET", 0)),
		}
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			log.Fatalf("dial %s: %v", addr, err)
		}
		defer conn.Close()
		data, err := seek(conn, cmd, 500*time.Millisecond)
		if err != nil {
			log.Fatalf("seek: %v", err)
		}
		os.Stdout.Write(data)
	case "status":
		client, closeFn := dialControl(controlAddr)
		defer closeFn()
		doc, err := client.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		out, err := protojson.MarshalOptions{Multiline: true}.Marshal(doc)
		if err != nil {
			log.Fatalf("encode status: %v", err)
		}
		fmt.Println(string(out))
	case "read":
		client, closeFn := dialControl(controlAddr)
		defer closeFn()
		data, err := client.Read(ctx,
			parseEnvInt("RINGLOG_CLIENT_RECORD", 0),
			int64(parseEnvInt("RINGLOG_CLIENT_OFFSET", 0)),
			parseEnvInt("RINGLOG_CLIENT_LENGTH", 0))
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		os.Stdout.Write(data)
	case "tail":
		brokers := parseCSVAddrs(os.Getenv("RINGLOG_CLIENT_BROKERS"))
		topic := envOrDefault("RINGLOG_CLIENT_TOPIC", "ringlog-records")
		if len(brokers) == 0 {
			log.Fatalf("RINGLOG_CLIENT_BROKERS is required for tail mode")
		}
		client, err := kgo.NewClient(
			kgo.SeedBrokers(brokers...),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		if err != nil {
			log.Fatalf("create consumer client: %v", err)
		}
		defer client.Close()
		if err := tailRecords(context.Background(), client, os.Stdout, count, timeout); err != nil {
			log.Fatalf("tail: %v", err)
		}
	case "probe":
		addrs := parseCSVAddrs(envOrDefault("RINGLOG_CLIENT_ADDRS", addr))
		retries := parseEnvInt("RINGLOG_CLIENT_PROBE_RETRIES", 5)
		if retries < 1 {
			retries = 1
		}
		sleep := time.Duration(parseEnvInt("RINGLOG_CLIENT_PROBE_SLEEP_MS", 200)) * time.Millisecond
		if err := probeAddrs(addrs, 2*time.Second, retries, sleep, dialAddr); err != nil {
			log.Fatalf("probe: %v", err)
		}
		log.Printf("probed %d addresses", len(addrs))
	default:
		log.Fatalf("unknown RINGLOG_CLIENT_MODE %q", mode)
	}
}

// appendRecords sends count records and waits for each echo. It returns the last echo.
// appendRecords sends count records and waits for each echo of the whole log.
// resident is the number of records held before the first append.
func appendRecords(conn net.Conn, prefix string, count, resident, capacity int, timeout time.Duration) ([]byte, error) {
	var last []byte
	for i := 0; i < count; i++ {
		rec := []byte(fmt.Sprintf("%s-%d\n", prefix, i))
		_ = conn.SetDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(rec); err != nil {
			return nil, err
		}
		resident = min(resident+1, capacity)
		echo, err := readEcho(conn, resident)
		if err != nil {
			return nil, fmt.Errorf("echo for %q: %w", rec, err)
		}
		last = echo
	}
	return last, nil
}

// readEcho reads one echo of the log, which holds exactly lines records.
func readEcho(r io.Reader, lines int) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for !echoComplete(buf.Bytes(), lines) {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err != nil {
			if echoComplete(buf.Bytes(), lines) {
				break
			}
			return buf.Bytes(), err
		}
	}
	return buf.Bytes(), nil
}

func echoComplete(buf []byte, lines int) bool {
	return len(buf) > 0 && buf[len(buf)-1] == '\n' && bytes.Count(buf, []byte{'\n'}) >= lines
}

// residentRecords pulls the record count and capacity out of a Status reply.
func residentRecords(doc *structpb.Struct, fallbackCapacity int) (int, int) {
	fields := doc.GetFields()
	records := int(fields["records"].GetNumberValue())
	capacity := int(fields["capacity"].GetNumberValue())
	if capacity <= 0 {
		capacity = fallbackCapacity
	}
	return records, capacity
}

// seek sends a positioning command and collects whatever arrives before the
// connection goes quiet for idle.
func seek(conn net.Conn, cmd protocol.SeekTo, idle time.Duration) ([]byte, error) {
	if _, err := conn.Write(cmd.Encode()); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		if err != nil {
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, io.EOF) {
				return buf.Bytes(), nil
			}
			return buf.Bytes(), err
		}
	}
}

func dialControl(addr string) (*control.Client, func()) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial control %s: %v", addr, err)
	}
	return control.NewClient(conn), func() { _ = conn.Close() }
}

type fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

func tailRecords(ctx context.Context, client fetcher, w io.Writer, count int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	received := 0
	for count <= 0 || received < count {
		if time.Now().After(deadline) {
			if count <= 0 {
				return nil
			}
			return fmt.Errorf("timed out waiting for %d records (got %d)", count, received)
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		fetches := client.PollFetches(fetchCtx)
		cancel()
		if errs := fetches.Errors(); len(errs) > 0 {
			if !allTransientFetchErrors(errs) {
				return fmt.Errorf("fetch errors: %+v", errs)
			}
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			received++
			fmt.Fprintf(w, "%s seq=%s %s", record.Key, headerValue(record, "seq"), record.Value)
		})
	}
	return nil
}

func headerValue(record *kgo.Record, key string) string {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func allTransientFetchErrors(errs []kgo.FetchError) bool {
	for _, fetchErr := range errs {
		err := fetchErr.Err
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			continue
		}
		return false
	}
	return true
}

type dialFunc func(addr string, timeout time.Duration) error

func dialAddr(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func probeAddrs(addrs []string, timeout time.Duration, retries int, sleep time.Duration, dial dialFunc) error {
	for _, addr := range addrs {
		var lastErr error
		for attempt := 0; attempt < retries; attempt++ {
			if err := dial(addr, timeout); err == nil {
				lastErr = nil
				break
			} else {
				lastErr = err
			}
			time.Sleep(sleep)
		}
		if lastErr != nil {
			return fmt.Errorf("probe %s failed: %w", addr, lastErr)
		}
	}
	return nil
}

func parseCSVAddrs(raw string) []string {
	parts := strings.Split(raw, ",")
	addrs := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addrs = append(addrs, part)
	}
	return addrs
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
