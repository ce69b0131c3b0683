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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/novatechflow/ringlog/pkg/metrics"
	"github.com/novatechflow/ringlog/pkg/storage"
)

// Server answers LogControl calls against a Ring.
type Server struct {
	Ring *storage.Ring
	// Sessions reports the number of active client sessions.
	Sessions func() int
	Rate     *metrics.ThroughputTracker
	Health   *storage.HealthMonitor
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	sessions := 0
	if s.Sessions != nil {
		sessions = s.Sessions()
	}
	backing := "none"
	if s.Health != nil {
		backing = string(s.Health.State())
	}
	doc, err := structpb.NewStruct(map[string]any{
		"records":         s.Ring.Len(),
		"total_size":      s.Ring.TotalSize(),
		"capacity":        s.Ring.Capacity(),
		"active_sessions": sessions,
		"append_rate":     s.Rate.Rate(),
		"backing_state":   backing,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return doc, nil
}

func (s *Server) Read(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fields := req.GetFields()
	record, err := intField(fields, "record_index", true)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	offset, err := intField(fields, "intra_offset", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	length, err := intField(fields, "length", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if length <= 0 {
		length = math.MaxInt
	}
	data, err := s.Ring.ReadPosition(int(record), offset, int(length))
	switch {
	case errors.Is(err, storage.ErrInvalidArgument):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

func intField(fields map[string]*structpb.Value, name string, required bool) (int64, error) {
	v, ok := fields[name]
	if !ok {
		if required {
			return 0, fmt.Errorf("%s required", name)
		}
		return 0, nil
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	f := num.NumberValue
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int64(f), nil
}

// Serve runs the LogControl and health services on lis until ctx is cancelled.
// Health reports NOT_SERVING once shutdown begins; in-flight calls get two seconds.
func Serve(ctx context.Context, lis net.Listener, svc LogControlServer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	server := grpc.NewServer()
	RegisterLogControlServer(server, svc)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			server.Stop()
		}
	}()

	logger.Info("control server listening", "addr", lis.Addr().String())
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
