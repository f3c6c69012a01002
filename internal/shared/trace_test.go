package shared

import (
	"context"
	"testing"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("empty context trace id = %q, want -", got)
	}
	ctx = WithTraceID(ctx, "abc-123")
	if got := TraceID(ctx); got != "abc-123" {
		t.Fatalf("trace id = %q", got)
	}
}

func TestOwnerRoundTrip(t *testing.T) {
	ctx := context.Background()
	if Owner(ctx) != "" {
		t.Fatal("owner should default to empty")
	}
	ctx = WithOwner(ctx, "me@example.com")
	if got := Owner(ctx); got != "me@example.com" {
		t.Fatalf("owner = %q", got)
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Fatal("trace ids should be unique")
	}
}
