package watch

import (
	"time"

	"spreadwatch/internal/domain/model"
)

// Cadences a subscriber may poll at, in seconds. Anything else is snapped
// to the nearest allowed value.
var allowedCadences = []int{30, 60, 180, 300, 900}

// SnapCadence maps an arbitrary requested interval onto the allowed set.
func SnapCadence(seconds int) int {
	best := allowedCadences[0]
	bestDiff := diff(seconds, best)
	for _, c := range allowedCadences[1:] {
		if d := diff(seconds, c); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best
}

func diff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// bucket is the scheduler's per-cadence state. Membership and subscribers
// are rebuilt from storage every tick; the cursor and rotation survive so
// coverage and source fairness carry across rebuilds.
type bucket struct {
	cadence     int // seconds
	cursor      *batchCursor
	lastRun     time.Time
	subscribers []model.Subscriber

	// Source rotation, fast cadences only.
	sourceIdx     int
	cyclesSeen    int
	cooldownUntil time.Time
}

func newBucket(cadence, batchSize int) *bucket {
	return &bucket{cadence: cadence, cursor: newBatchCursor(batchSize)}
}

func (b *bucket) due(now time.Time) bool {
	if now.Before(b.cooldownUntil) {
		return false
	}
	return b.lastRun.IsZero() || now.Sub(b.lastRun) >= time.Duration(b.cadence)*time.Second
}

// completedPass reports whether the cursor finished a coverage pass since
// the last call. The pass boundary is where breaker state resets and the
// source rotation advances.
func (b *bucket) completedPass() bool {
	cycles := b.cursor.fullCycles()
	if cycles == b.cyclesSeen {
		return false
	}
	b.cyclesSeen = cycles
	return true
}

// advanceRotation moves to the next source. Called once per completed
// coverage pass. A full rotation across all sources starts a cooldown so a
// blocked upstream is not hammered in a tight loop. Returns true when
// cooldown began.
func (b *bucket) advanceRotation(sourceCount int, now time.Time, cooldown time.Duration) bool {
	if sourceCount <= 1 {
		return false
	}
	b.sourceIdx++
	if b.sourceIdx%sourceCount == 0 && cooldown > 0 {
		b.cooldownUntil = now.Add(cooldown)
		return true
	}
	return false
}
