package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestServiceAuthInterceptor(t *testing.T) {
	interceptor, err := NewServiceAuthUnaryInterceptor("s3cret")
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &gogrpc.UnaryServerInfo{FullMethod: "/liveclass.Admin/Sweep"}

	cases := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{name: "missing", md: metadata.MD{}, code: codes.Unauthenticated},
		{name: "wrong", md: metadata.Pairs(serviceTokenHeader, "nope"), code: codes.PermissionDenied},
		{name: "valid", md: metadata.Pairs(serviceTokenHeader, "s3cret"), code: codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), tc.md)
			_, err := interceptor(ctx, nil, info, handler)
			if got := status.Code(err); got != tc.code {
				t.Fatalf("expected %v, got %v", tc.code, got)
			}
		})
	}

	healthInfo := &gogrpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := interceptor(context.Background(), nil, healthInfo, handler); err != nil {
		t.Fatalf("health checks must not require a token: %v", err)
	}
}

func TestServiceAuthInterceptorRequiresToken(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestHealthReflectsDependencies(t *testing.T) {
	healthServer := health.NewServer()
	server, err := NewServer("s3cret", healthServer)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := gogrpc.NewClient(listener.Addr().String(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	down := errors.New("connection refused")
	deps := []Dependency{
		{Name: "postgres", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return down }},
	}
	if got := CheckHealth(context.Background(), healthServer, deps, time.Second, zap.NewNop()); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", got)
	}
	assertStatus(t, client, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	down = nil
	CheckHealth(context.Background(), healthServer, deps, time.Second, zap.NewNop())
	assertStatus(t, client, grpc_health_v1.HealthCheckResponse_SERVING)
}

func assertStatus(t *testing.T, client grpc_health_v1.HealthClient, want grpc_health_v1.HealthCheckResponse_ServingStatus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != want {
		t.Fatalf("expected %v, got %v", want, resp.GetStatus())
	}
}
