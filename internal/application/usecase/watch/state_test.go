package watch

import (
	"testing"
	"time"
)

func TestSnapCadence(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{30, 30},
		{45, 30},
		{50, 60},
		{100, 60},
		{200, 180},
		{299, 300},
		{10000, 900},
		{0, 30},
	}
	for _, c := range cases {
		if got := SnapCadence(c.in); got != c.want {
			t.Errorf("SnapCadence(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestBucketDue(t *testing.T) {
	b := newBucket(60, 5)
	now := time.Now()

	if !b.due(now) {
		t.Fatal("fresh bucket should be due")
	}
	b.lastRun = now
	if b.due(now.Add(30 * time.Second)) {
		t.Error("bucket due before its cadence elapsed")
	}
	if !b.due(now.Add(61 * time.Second)) {
		t.Error("bucket not due after its cadence elapsed")
	}

	b.cooldownUntil = now.Add(5 * time.Minute)
	if b.due(now.Add(2 * time.Minute)) {
		t.Error("bucket due during cooldown")
	}
	if !b.due(now.Add(6 * time.Minute)) {
		t.Error("bucket not due after cooldown passed")
	}
}

func TestCompletedPassDetectsWrapOnce(t *testing.T) {
	b := newBucket(30, 2)
	b.cursor.setUniverse(pairsN(4))

	b.cursor.next() // half a pass
	if b.completedPass() {
		t.Fatal("pass reported complete at the halfway point")
	}

	b.cursor.next() // pass complete
	if !b.completedPass() {
		t.Fatal("expected a completed pass after full coverage")
	}
	if b.completedPass() {
		t.Fatal("same pass must not be reported twice")
	}
}

func TestRotationAdvancesPerCoveragePass(t *testing.T) {
	b := newBucket(30, 2)
	b.cursor.setUniverse(pairsN(4))
	now := time.Now()

	b.cursor.next()
	b.cursor.next() // pass complete
	if !b.completedPass() {
		t.Fatal("setup: expected a completed pass")
	}
	if b.advanceRotation(3, now, time.Minute) {
		t.Fatal("cooldown should not start before a full rotation")
	}
	if b.sourceIdx != 1 {
		t.Fatalf("sourceIdx = %d, want 1", b.sourceIdx)
	}
}

func TestFullRotationStartsCooldown(t *testing.T) {
	b := newBucket(30, 4)
	b.cursor.setUniverse(pairsN(4))
	now := time.Now()

	cooled := false
	for i := 0; i < 3; i++ { // three passes over three sources
		b.cursor.next()
		if !b.completedPass() {
			t.Fatalf("pass %d not detected", i)
		}
		cooled = b.advanceRotation(3, now, time.Minute)
	}
	if !cooled {
		t.Fatal("expected cooldown after rotating through every source")
	}
	if !b.cooldownUntil.After(now) {
		t.Error("cooldownUntil not set")
	}
	if b.sourceIdx%3 != 0 {
		t.Errorf("sourceIdx = %d, want back at the first source", b.sourceIdx)
	}
}

func TestSingleSourceNeverRotates(t *testing.T) {
	b := newBucket(30, 4)
	b.cursor.setUniverse(pairsN(4))
	now := time.Now()

	for i := 0; i < 5; i++ {
		b.cursor.next()
		b.completedPass()
		if b.advanceRotation(1, now, time.Minute) {
			t.Fatal("single source must not trigger cooldown")
		}
	}
	if b.sourceIdx != 0 {
		t.Errorf("sourceIdx = %d, want 0", b.sourceIdx)
	}
}
