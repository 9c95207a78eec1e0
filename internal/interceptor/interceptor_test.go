package interceptor

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func okHandler(ctx context.Context, req any) (any, error) { return "ok", nil }

func withAuth(value string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", value))
}

func TestAuthUnary(t *testing.T) {
	auth := AuthUnary("s3cret", "/grpc.health.v1.Health/")
	info := &grpc.UnaryServerInfo{FullMethod: "/platform.v1.SecureElement/Sign"}

	tests := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"no metadata", context.Background(), codes.Unauthenticated},
		{"missing header", metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		{"wrong token", withAuth("Bearer nope"), codes.Unauthenticated},
		{"missing scheme", withAuth("s3cret"), codes.Unauthenticated},
		{"valid", withAuth("Bearer s3cret"), codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth(tt.ctx, nil, info, okHandler)
			if got := status.Code(err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAuthPublicMethods(t *testing.T) {
	auth := AuthUnary("s3cret", "/grpc.health.v1.Health/")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	if _, err := auth(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("public method should skip auth: %v", err)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestAuthStream(t *testing.T) {
	auth := AuthStream("s3cret")
	info := &grpc.StreamServerInfo{FullMethod: "/platform.v1.Audit/StreamAudit"}
	handler := func(any, grpc.ServerStream) error { return nil }

	if err := auth(nil, fakeStream{ctx: context.Background()}, info, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if err := auth(nil, fakeStream{ctx: withAuth("Bearer s3cret")}, info, handler); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestLimiterExhausts(t *testing.T) {
	l := NewLimiter(3)
	unary := l.Unary()
	stream := l.Stream()
	info := &grpc.UnaryServerInfo{FullMethod: "/x/y"}

	for i := range 2 {
		if _, err := unary(context.Background(), nil, info, okHandler); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// the stream interceptor draws from the same bucket
	handler := func(any, grpc.ServerStream) error { return nil }
	if err := stream(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{}, handler); err != nil {
		t.Fatalf("stream call: %v", err)
	}

	_, err := unary(context.Background(), nil, info, okHandler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestLimiterDisabled(t *testing.T) {
	unary := NewLimiter(0).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/x/y"}
	for range 100 {
		if _, err := unary(context.Background(), nil, info, okHandler); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRecoveryUnary(t *testing.T) {
	rec := RecoveryUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/platform.v1.SecureElement/Sign"}

	_, err := rec(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("driver fault")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestRecoveryStream(t *testing.T) {
	rec := RecoveryStream()
	err := rec(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/s/m"}, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	log := LoggingUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/x/y"}

	resp, err := log(context.Background(), nil, info, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}

	want := status.Error(codes.Unavailable, "down")
	_, err = log(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, want })
	if err != want {
		t.Fatalf("logging must not rewrite errors, got %v", err)
	}
}
