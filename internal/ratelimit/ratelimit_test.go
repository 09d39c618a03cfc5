package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWait_SameKey_EnforcesMinDelay(t *testing.T) {
	pacer := NewPacer(100 * time.Millisecond)
	ctx := context.Background()

	if err := pacer.Wait(ctx, "yuhs.recruiter.co.kr"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := pacer.Wait(ctx, "yuhs.recruiter.co.kr"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)

	// Allow 20ms for timer jitter.
	if elapsed < 80*time.Millisecond {
		t.Errorf("expected >= 80ms wait, got %v", elapsed)
	}
}

func TestWait_DifferentKeys_NoCrossBlocking(t *testing.T) {
	pacer := NewPacer(200 * time.Millisecond)
	ctx := context.Background()

	if err := pacer.Wait(ctx, "yuhs.recruiter.co.kr"); err != nil {
		t.Fatalf("severance wait: %v", err)
	}

	start := time.Now()
	if err := pacer.Wait(ctx, "eumc.applyin.co.kr"); err != nil {
		t.Fatalf("eumc wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected eumc wait to be near-instant, got %v", elapsed)
	}
}

func TestWait_Override(t *testing.T) {
	pacer := NewPacer(5 * time.Second)
	pacer.SetDelay("fast", 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := pacer.Wait(ctx, "fast"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected no delay with zero override, got %v", elapsed)
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	pacer := NewPacer(5 * time.Second)

	if err := pacer.Wait(context.Background(), "host"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pacer.Wait(ctx, "host")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWait_ConcurrentWaitersAreSerialized(t *testing.T) {
	pacer := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pacer.Wait(ctx, "host"); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()

	// Slots at 0, 30, 60, 90ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected serialized slots (>= 80ms), got %v", elapsed)
	}
}
