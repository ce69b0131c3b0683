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

package control

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/novatechflow/ringlog/pkg/metrics"
	"github.com/novatechflow/ringlog/pkg/storage"
)

func startControl(t *testing.T, svc LogControlServer) (*grpc.ClientConn, context.CancelFunc, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, lis, svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, cancel, errCh
}

func seededRing(t *testing.T) *storage.Ring {
	t.Helper()
	ring := storage.NewRing(storage.RingOptions{})
	for _, ch := range "abcdefghijk" {
		if _, err := ring.Append([]byte(string(ch) + "\n")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return ring
}

func TestControlStatus(t *testing.T) {
	ring := seededRing(t)
	rate := metrics.NewThroughputTracker(time.Minute)
	rate.Add(3)
	svc := &Server{
		Ring:     ring,
		Sessions: func() int { return 2 },
		Rate:     rate,
		Health:   storage.NewHealthMonitor(storage.HealthConfig{}),
	}
	conn, cancel, errCh := startControl(t, svc)
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	doc, err := NewClient(conn).Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	fields := doc.GetFields()
	if got := fields["records"].GetNumberValue(); got != 10 {
		t.Fatalf("records %v", got)
	}
	if got := fields["total_size"].GetNumberValue(); got != 20 {
		t.Fatalf("total_size %v", got)
	}
	if got := fields["capacity"].GetNumberValue(); got != 10 {
		t.Fatalf("capacity %v", got)
	}
	if got := fields["active_sessions"].GetNumberValue(); got != 2 {
		t.Fatalf("active_sessions %v", got)
	}
	if got := fields["append_rate"].GetNumberValue(); got <= 0 {
		t.Fatalf("append_rate %v", got)
	}
	if got := fields["backing_state"].GetStringValue(); got != string(storage.HealthHealthy) {
		t.Fatalf("backing_state %q", got)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestControlRead(t *testing.T) {
	ring := seededRing(t)
	conn, cancel, _ := startControl(t, &Server{Ring: ring})
	defer cancel()
	client := NewClient(conn)
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	got, err := client.Read(ctx, 2, 0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "d" {
		t.Fatalf("expected d, got %q", got)
	}

	got, err = client.Read(ctx, 8, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "j\nk\n" {
		t.Fatalf("expected tail, got %q", got)
	}

	_, err = client.Read(ctx, 10, 0, 1)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = client.Read(ctx, 0, 2, 1)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for intra offset, got %v", err)
	}

	_ = ring.Close()
	_, err = client.Read(ctx, 0, 0, 1)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestControlReadValidatesFields(t *testing.T) {
	svc := &Server{Ring: seededRing(t)}
	cases := []map[string]any{
		{},
		{"record_index": "two"},
		{"record_index": 1.5},
		{"record_index": 1, "intra_offset": true},
	}
	for _, fields := range cases {
		req, err := structpb.NewStruct(fields)
		if err != nil {
			t.Fatalf("NewStruct: %v", err)
		}
		if _, err := svc.Read(context.Background(), req); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("fields %v: expected InvalidArgument, got %v", fields, err)
		}
	}
}

func TestControlHealth(t *testing.T) {
	conn, cancel, errCh := startControl(t, &Server{Ring: seededRing(t)})
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status %v", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("control server did not stop")
	}
}
