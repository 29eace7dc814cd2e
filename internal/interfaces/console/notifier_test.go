package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"spreadwatch/internal/domain/model"
)

func TestSendWritesReadableLine(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifierTo(&buf)

	sig := model.Signal{
		Pair:            model.InstrumentPair{Underlying: "SBER", Derivative: "SBRF"},
		Action:          model.ActionOpen,
		UnderlyingPrice: 250,
		DerivativePrice: 255,
		SpreadPercent:   2.0,
		UnderlyingSide:  model.SideBuy,
		DerivativeSide:  model.SideSell,
		UnderlyingLots:  1,
		DerivativeLots:  10,
		Urgency:         2,
		Timestamp:       time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}
	if err := n.Send(context.Background(), 42, sig); err != nil {
		t.Fatal(err)
	}

	line := buf.String()
	for _, want := range []string{"42", "OPEN", "SBER_SBRF", "BUY", "SELL", "2.00%", "!!"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCloseLineHasNoUrgencyMarks(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifierTo(&buf)

	sig := model.Signal{
		Pair:          model.InstrumentPair{Underlying: "SBER", Derivative: "SBRF"},
		Action:        model.ActionClose,
		SpreadPercent: 0.4,
		Urgency:       1,
		Timestamp:     time.Now(),
	}
	if err := n.Send(context.Background(), 1, sig); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "!") {
		t.Errorf("close line %q should carry no urgency marks", buf.String())
	}
}
