package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowDrainsBucket(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("token %d should be available", i)
		}
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	tb := NewTokenBucket(1, 100)
	if !tb.Allow() {
		t.Fatal("first token should be available")
	}

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took too long: %v", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	tb.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
