package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBudgetCapsWindow(t *testing.T) {
	b := New(3, 200*time.Millisecond, time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("first three waits took %v, expected near-immediate", elapsed)
	}
	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}

	// Fourth start must block until the oldest falls out of the window.
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("fourth wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("fourth wait returned after %v, expected the window to roll", elapsed)
	}
}

func TestBudgetEnforcesSpacing(t *testing.T) {
	b := New(100, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("second wait returned after %v, want >= ~50ms spacing", elapsed)
	}
}

func TestBudgetHonorsCancellation(t *testing.T) {
	b := New(1, time.Minute, time.Millisecond)
	ctx := context.Background()

	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.Wait(short); err == nil {
		t.Fatal("expected a context error while the window is full")
	}
}

func TestBudgetWindowRecovers(t *testing.T) {
	b := New(2, 80*time.Millisecond, time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if got := b.Remaining(); got != 2 {
		t.Fatalf("remaining after window rolled = %d, want 2", got)
	}
}
