package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"spreadwatch/internal/domain/model"
)

func TestSubscriberRoundTrip(t *testing.T) {
	dbPath := "test_subs.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	sub := model.Subscriber{
		ID:              42,
		CadenceSeconds:  60,
		SpreadThreshold: 1.5,
		MaxSignals:      3,
		Instruments:     []string{"SBER", "GAZP"},
		Active:          true,
	}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SpreadThreshold != 1.5 || got.CadenceSeconds != 60 || !got.Active {
		t.Errorf("got %+v, want saved subscriber back", got)
	}
	if len(got.Instruments) != 2 || got.Instruments[0] != "SBER" {
		t.Errorf("instruments = %v, want [SBER GAZP]", got.Instruments)
	}

	// Upsert updates in place.
	sub.SpreadThreshold = 2.0
	sub.Active = false
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].SpreadThreshold != 2.0 || list[0].Active {
		t.Errorf("list = %+v, want one updated subscriber", list)
	}

	if err := repo.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	list, _ = repo.List(ctx)
	if len(list) != 0 {
		t.Errorf("list after delete = %v, want empty", list)
	}
}

func TestEmptyInstrumentsStayEmpty(t *testing.T) {
	dbPath := "test_empty.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.Save(ctx, model.Subscriber{ID: 1, CadenceSeconds: 30, Active: true}); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Instruments) != 0 {
		t.Errorf("instruments = %v, want empty for the full-universe default", got.Instruments)
	}
}

func TestPositionMirror(t *testing.T) {
	dbPath := "test_positions.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	pos := model.Position{
		Pair:           model.InstrumentPair{Underlying: "SBER", Derivative: "SBRF", ScaleFactor: 0.01},
		UnderlyingSide: model.SideBuy,
		DerivativeSide: model.SideSell,
		EntrySpread:    2.1,
		UnderlyingLots: 1,
		DerivativeLots: 10,
		OpenedAt:       time.Now().Truncate(time.Millisecond),
	}
	if err := repo.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("UpsertPosition failed: %v", err)
	}

	list, err := repo.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("positions = %d, want 1", len(list))
	}
	got := list[0]
	if got.Pair.Key() != "SBER_SBRF" || got.EntrySpread != 2.1 {
		t.Errorf("got %+v, want the saved position", got)
	}
	if got.UnderlyingSide != model.SideBuy || got.DerivativeSide != model.SideSell {
		t.Errorf("sides = %v/%v, want BUY/SELL", got.UnderlyingSide, got.DerivativeSide)
	}

	if err := repo.DeletePosition(ctx, "SBER_SBRF"); err != nil {
		t.Fatalf("DeletePosition failed: %v", err)
	}
	list, _ = repo.ListPositions(ctx)
	if len(list) != 0 {
		t.Errorf("positions after delete = %d, want 0", len(list))
	}
}

func TestInsertSignal(t *testing.T) {
	dbPath := "test_signals.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

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
		Timestamp:       time.Now(),
	}
	if err := repo.InsertSignal(context.Background(), sig); err != nil {
		t.Fatalf("InsertSignal failed: %v", err)
	}
}
