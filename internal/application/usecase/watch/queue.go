package watch

import (
	"context"
	"sync"
	"time"

	"spreadwatch/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// queuedSignal pairs a signal with the recipients it was addressed to when
// it was produced. The snapshot is taken at enqueue time: recipients who
// change settings later still receive what was already queued for them.
type queuedSignal struct {
	signal     model.Signal
	recipients []model.Subscriber
}

// SignalQueue buffers signals between the polling loop and delivery. Each
// drain sends at most maxPerDrain signals, spaced sendDelay apart, so a
// burst of openings does not flood recipients.
type SignalQueue struct {
	mu          sync.Mutex
	items       []queuedSignal
	maxPerDrain int
	sendDelay   time.Duration
}

func NewSignalQueue(maxPerDrain int, sendDelay time.Duration) *SignalQueue {
	if maxPerDrain < 1 {
		maxPerDrain = 3
	}
	return &SignalQueue{maxPerDrain: maxPerDrain, sendDelay: sendDelay}
}

// Enqueue appends signals addressed to the given recipient snapshot.
func (q *SignalQueue) Enqueue(signals []model.Signal, recipients []model.Subscriber) {
	if len(signals) == 0 || len(recipients) == 0 {
		return
	}
	snapshot := make([]model.Subscriber, len(recipients))
	copy(snapshot, recipients)

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sig := range signals {
		q.items = append(q.items, queuedSignal{signal: sig, recipients: snapshot})
	}
}

// Len reports how many signals are waiting.
func (q *SignalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RemoveRecipient strips a recipient from everything still queued. Used
// when a subscriber deactivates between enqueue and drain.
func (q *SignalQueue) RemoveRecipient(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		var rs []model.Subscriber
		for _, r := range item.recipients {
			if r.ID != id {
				rs = append(rs, r)
			}
		}
		if len(rs) > 0 {
			item.recipients = rs
			kept = append(kept, item)
		}
	}
	q.items = kept
}

// Drain delivers up to maxPerDrain queued signals via send, one recipient
// at a time, pausing sendDelay between signals. Recipients whose threshold
// exceeds the signal's spread are skipped; a signal every recipient skips
// is discarded without counting toward the drain cap. Delivery errors are
// logged and swallowed: a failed send never requeues and never alters
// recipient state.
func (q *SignalQueue) Drain(ctx context.Context, send func(ctx context.Context, recipient int64, sig model.Signal) error) int {
	sent := 0
	perRecipient := make(map[int64]int)
	for sent < q.maxPerDrain {
		item, ok := q.pop()
		if !ok {
			return sent
		}

		targets := interested(item, perRecipient)
		if len(targets) == 0 {
			continue
		}

		if sent > 0 && q.sendDelay > 0 {
			timer := time.NewTimer(q.sendDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent
			case <-timer.C:
			}
		}

		for _, r := range targets {
			perRecipient[r.ID]++
			if err := send(ctx, r.ID, item.signal); err != nil {
				log.Warn().
					Int64("recipient", r.ID).
					Str("pair", item.signal.Pair.Key()).
					Err(err).
					Msg("signal delivery failed")
			}
		}
		sent++
	}
	return sent
}

func (q *SignalQueue) pop() (queuedSignal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedSignal{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// interested filters the recipient snapshot down to active subscribers
// whose threshold and instrument selection match the signal, honoring each
// recipient's personal per-drain cap. Close signals bypass the threshold:
// whoever could have opened must hear the exit.
func interested(item queuedSignal, perRecipient map[int64]int) []model.Subscriber {
	var out []model.Subscriber
	for _, r := range item.recipients {
		if !r.Active || !r.WantsPair(item.signal.Pair.Underlying) {
			continue
		}
		if r.MaxSignals > 0 && perRecipient[r.ID] >= r.MaxSignals {
			continue
		}
		if item.signal.Action == model.ActionOpen && absSpread(item.signal) < r.SpreadThreshold {
			continue
		}
		out = append(out, r)
	}
	return out
}

func absSpread(sig model.Signal) float64 {
	if sig.SpreadPercent < 0 {
		return -sig.SpreadPercent
	}
	return sig.SpreadPercent
}
