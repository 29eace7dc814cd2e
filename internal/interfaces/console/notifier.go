package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
	"spreadwatch/internal/domain/service"
)

// Notifier renders signals as human-readable lines on a writer, one per
// recipient. It is the default delivery channel when no external one is
// configured.
type Notifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewNotifier() *Notifier {
	return &Notifier{out: os.Stdout}
}

func NewNotifierTo(out io.Writer) *Notifier {
	return &Notifier{out: out}
}

func (n *Notifier) Send(_ context.Context, recipient int64, sig model.Signal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.out, "[%s] -> %d %s\n",
		sig.Timestamp.Format("2006-01-02 15:04:05"), recipient, FormatSignal(sig))
	return err
}

// FormatSignal renders one signal the way operators read it in the log:
// action, legs with sides and sizes, the spread and its urgency.
func FormatSignal(sig model.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s %dx%s @ %.2f / %s %dx%s @ %.2f, spread %.2f%%",
		sig.Action, sig.Pair.Key(),
		sig.UnderlyingSide, sig.UnderlyingLots, sig.Pair.Underlying, sig.UnderlyingPrice,
		sig.DerivativeSide, sig.DerivativeLots, sig.Pair.Derivative, sig.DerivativePrice,
		sig.SpreadPercent)
	if sig.Action == model.ActionOpen {
		fmt.Fprintf(&b, " %s", strings.Repeat("!", sig.Urgency))
		if profit := service.PotentialProfit(&sig, 0.5); profit > 0 {
			fmt.Fprintf(&b, " (est. %.2f to 0.5%%)", profit)
		}
	}
	return b.String()
}

var _ port.Notifier = (*Notifier)(nil)
