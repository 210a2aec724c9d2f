package attendance

import (
	"context"
	"testing"
	"time"
)

func TestMemoryThrottle(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	th := NewMemoryThrottle()
	th.now = func() time.Time { return clock }

	if left, _ := th.Remaining(ctx, "k"); left != 0 {
		t.Fatalf("fresh key remaining = %v, want 0", left)
	}

	if err := th.Touch(ctx, "k", 180*time.Second); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	clock = clock.Add(30 * time.Second)
	left, _ := th.Remaining(ctx, "k")
	if left != 150*time.Second {
		t.Errorf("remaining = %v, want 150s", left)
	}

	clock = clock.Add(150 * time.Second)
	if left, _ := th.Remaining(ctx, "k"); left != 0 {
		t.Errorf("remaining at window end = %v, want 0", left)
	}
}

func TestMemoryThrottleKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	th := NewMemoryThrottle()
	if err := th.Touch(ctx, "a", time.Minute); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if left, _ := th.Remaining(ctx, "b"); left != 0 {
		t.Errorf("untouched key remaining = %v, want 0", left)
	}
}
