package context

import (
	"context"
	"testing"
)

func TestRequestAndUserRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithUserID(ctx, "user-9")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := UserIDFromContext(ctx); got != "user-9" {
		t.Fatalf("expected user-9, got %q", got)
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
}
