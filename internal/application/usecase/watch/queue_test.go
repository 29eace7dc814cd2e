package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"spreadwatch/internal/domain/model"
)

func openSignal(underlying string, spread float64) model.Signal {
	return model.Signal{
		Pair:          model.InstrumentPair{Underlying: underlying, Derivative: underlying + "F"},
		Action:        model.ActionOpen,
		SpreadPercent: spread,
		Timestamp:     time.Now(),
	}
}

func subscriber(id int64, threshold float64) model.Subscriber {
	return model.Subscriber{ID: id, SpreadThreshold: threshold, Active: true}
}

type delivery struct {
	recipient int64
	pair      string
}

func collectSends(deliveries *[]delivery, fail map[int64]bool) func(context.Context, int64, model.Signal) error {
	return func(_ context.Context, recipient int64, sig model.Signal) error {
		if fail[recipient] {
			return errors.New("delivery down")
		}
		*deliveries = append(*deliveries, delivery{recipient, sig.Pair.Key()})
		return nil
	}
}

func TestDrainCapsPerCall(t *testing.T) {
	q := NewSignalQueue(3, 0)
	recipients := []model.Subscriber{subscriber(1, 1.0)}
	q.Enqueue([]model.Signal{
		openSignal("A", 2), openSignal("B", 2), openSignal("C", 2),
		openSignal("D", 2), openSignal("E", 2),
	}, recipients)

	var got []delivery
	sent := q.Drain(context.Background(), collectSends(&got, nil))
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}
	if q.Len() != 2 {
		t.Fatalf("remaining = %d, want 2", q.Len())
	}

	// Next drain picks up the rest.
	sent = q.Drain(context.Background(), collectSends(&got, nil))
	if sent != 2 || q.Len() != 0 {
		t.Fatalf("second drain sent %d with %d left, want 2 and 0", sent, q.Len())
	}
}

func TestDrainFiltersByThreshold(t *testing.T) {
	q := NewSignalQueue(3, 0)
	recipients := []model.Subscriber{
		subscriber(1, 1.0), // hears 1.5%
		subscriber(2, 2.0), // does not
	}
	q.Enqueue([]model.Signal{openSignal("A", 1.5)}, recipients)

	var got []delivery
	q.Drain(context.Background(), collectSends(&got, nil))

	if len(got) != 1 || got[0].recipient != 1 {
		t.Fatalf("deliveries = %v, want only recipient 1", got)
	}
}

func TestCloseSignalBypassesThreshold(t *testing.T) {
	q := NewSignalQueue(3, 0)
	recipients := []model.Subscriber{subscriber(2, 2.0)}

	closeSig := openSignal("A", 0.4)
	closeSig.Action = model.ActionClose
	q.Enqueue([]model.Signal{closeSig}, recipients)

	var got []delivery
	q.Drain(context.Background(), collectSends(&got, nil))
	if len(got) != 1 {
		t.Fatalf("deliveries = %v, want the close delivered despite the threshold", got)
	}
}

func TestFullyFilteredSignalDoesNotCountTowardCap(t *testing.T) {
	q := NewSignalQueue(2, 0)
	recipients := []model.Subscriber{subscriber(1, 3.0)}
	// Two signals nobody hears, then two everybody hears.
	q.Enqueue([]model.Signal{
		openSignal("A", 1.0), openSignal("B", 1.0),
		openSignal("C", 3.5), openSignal("D", 3.5),
	}, recipients)

	var got []delivery
	sent := q.Drain(context.Background(), collectSends(&got, nil))
	if sent != 2 {
		t.Fatalf("sent = %d, want 2 audible signals", sent)
	}
	if got[0].pair != "C_CF" || got[1].pair != "D_DF" {
		t.Fatalf("deliveries = %v, want C and D", got)
	}
}

func TestDeliveryFailureDoesNotRequeue(t *testing.T) {
	q := NewSignalQueue(3, 0)
	recipients := []model.Subscriber{subscriber(1, 1.0), subscriber(2, 1.0)}
	q.Enqueue([]model.Signal{openSignal("A", 2)}, recipients)

	var got []delivery
	sent := q.Drain(context.Background(), collectSends(&got, map[int64]bool{1: true}))
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	// Recipient 2 still got it; nothing requeued for recipient 1.
	if len(got) != 1 || got[0].recipient != 2 {
		t.Fatalf("deliveries = %v, want only recipient 2", got)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0 after a failed delivery", q.Len())
	}
}

func TestRemoveRecipientStripsQueuedSignals(t *testing.T) {
	q := NewSignalQueue(5, 0)
	q.Enqueue([]model.Signal{openSignal("A", 2)}, []model.Subscriber{subscriber(1, 1.0), subscriber(2, 1.0)})
	q.Enqueue([]model.Signal{openSignal("B", 2)}, []model.Subscriber{subscriber(1, 1.0)})

	q.RemoveRecipient(1)

	// The B signal had only recipient 1 and is gone entirely.
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	var got []delivery
	q.Drain(context.Background(), collectSends(&got, nil))
	if len(got) != 1 || got[0].recipient != 2 {
		t.Fatalf("deliveries = %v, want only recipient 2", got)
	}
}

func TestPersonalSignalCap(t *testing.T) {
	q := NewSignalQueue(5, 0)
	capped := subscriber(1, 1.0)
	capped.MaxSignals = 2
	q.Enqueue([]model.Signal{
		openSignal("A", 2), openSignal("B", 2), openSignal("C", 2),
	}, []model.Subscriber{capped, subscriber(2, 1.0)})

	var got []delivery
	q.Drain(context.Background(), collectSends(&got, nil))

	counts := map[int64]int{}
	for _, d := range got {
		counts[d.recipient]++
	}
	if counts[1] != 2 {
		t.Errorf("capped recipient got %d signals, want 2", counts[1])
	}
	if counts[2] != 3 {
		t.Errorf("uncapped recipient got %d signals, want 3", counts[2])
	}
}

func TestDrainSpacingStopsOnCancel(t *testing.T) {
	q := NewSignalQueue(3, time.Hour)
	recipients := []model.Subscriber{subscriber(1, 1.0)}
	q.Enqueue([]model.Signal{openSignal("A", 2), openSignal("B", 2)}, recipients)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got []delivery
	sent := q.Drain(ctx, collectSends(&got, nil))
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 before the spacing wait was cancelled", sent)
	}
}
