package sources

import (
	"context"
	"net/http"
	"testing"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
)

type stubFeed struct{}

func (s *stubFeed) FetchMany(context.Context, []model.InstrumentPair) ([]model.QuotePair, error) {
	return nil, nil
}

func (s *stubFeed) ResetCycle() {}

func TestClientPickerSkipsUnhealthySources(t *testing.T) {
	good := statusServer(http.StatusOK)
	defer good.Close()
	bad := statusServer(http.StatusForbidden)
	defer bad.Close()

	r := newTestRegistry(good, bad)
	r.ProbeAll(context.Background())

	goodFeed, badFeed := &stubFeed{}, &stubFeed{}
	p := NewClientPicker(r, map[string]port.MarketData{
		good.URL: goodFeed,
		bad.URL:  badFeed,
	})

	if p.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", p.ActiveCount())
	}
	// Every rotation slot lands on the one healthy client.
	for idx := 0; idx < 3; idx++ {
		got, ok := p.Pick(idx)
		if !ok || got != goodFeed {
			t.Fatalf("Pick(%d) did not return the healthy source's client", idx)
		}
	}
}

func TestClientPickerWithNothingActive(t *testing.T) {
	bad := statusServer(http.StatusForbidden)
	defer bad.Close()

	r := newTestRegistry(bad)
	r.ProbeAll(context.Background())

	p := NewClientPicker(r, map[string]port.MarketData{bad.URL: &stubFeed{}})
	if _, ok := p.Pick(0); ok {
		t.Fatal("expected no pick with every source blocked")
	}
}
