package service

import (
	"math"
	"sync"
	"time"

	"spreadwatch/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// Thresholds are the engine's fixed spread levels. The open threshold is
// not here: it is derived per cycle from the live subscriber set.
type Thresholds struct {
	Tier2       float64 // urgency 2 at |spread| >= Tier2
	Tier3       float64 // urgency 3 at |spread| >= Tier3
	CloseCutoff float64 // a position closes only with |spread| at or below this
}

// Engine turns quote pairs into open/close signals and owns the map of
// open positions. One position per pair, created on OPEN, destroyed on CLOSE.
type Engine struct {
	mu        sync.RWMutex
	levels    Thresholds
	positions map[string]model.Position
}

func NewEngine(levels Thresholds) *Engine {
	return &Engine{
		levels:    levels,
		positions: make(map[string]model.Position),
	}
}

// Spread is the percentage premium of the derivative over the underlying.
// ok is false when either price is non-positive.
func Spread(underlying, derivative float64) (float64, bool) {
	if underlying <= 0 || derivative <= 0 {
		return 0, false
	}
	return (derivative - underlying) / underlying * 100, true
}

// LegSizes applies the lot-ratio rule: equal lot multipliers trade 1:1,
// otherwise the smaller-lot side takes larger/smaller units so notional
// exposure stays roughly balanced.
func LegSizes(pair model.InstrumentPair) (underlyingLots, derivativeLots int) {
	ul, dl := pair.UnderlyingLot, pair.DerivativeLot
	if ul <= 0 {
		ul = 1
	}
	if dl <= 0 {
		dl = 1
	}
	switch {
	case ul == dl:
		return 1, 1
	case ul > dl:
		return 1, ul / dl
	default:
		return dl / ul, 1
	}
}

// Analyze inspects one fresh quote pair and returns an OPEN or CLOSE signal,
// or nil. Missing or non-positive quotes mean "no data this cycle": no signal,
// no state change. openThreshold is the minimum threshold across subscribers
// currently interested in this pair, recomputed by the caller each cycle.
func (e *Engine) Analyze(pair model.InstrumentPair, quotes model.QuotePair, openThreshold float64, now time.Time) *model.Signal {
	if !quotes.Complete() {
		return nil
	}

	spread, ok := Spread(quotes.Underlying.Price, quotes.Derivative.Price)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if pos, held := e.positions[pair.Key()]; held {
		return e.checkClose(pos, quotes, spread, now)
	}

	if math.Abs(spread) < openThreshold {
		return nil
	}
	return e.open(pair, quotes, spread, now)
}

// checkClose applies the dual exit condition: the spread must have shrunk by
// at least half of the entry magnitude AND the current absolute spread must
// be at or below the close cutoff. Neither alone suffices. Note for small
// entry spreads the two conditions nearly coincide; kept as-is pending
// product clarification.
func (e *Engine) checkClose(pos model.Position, quotes model.QuotePair, spread float64, now time.Time) *model.Signal {
	entryAbs := math.Abs(pos.EntrySpread)
	curAbs := math.Abs(spread)

	if entryAbs <= 0 {
		return nil
	}
	reduction := (entryAbs - curAbs) / entryAbs * 100
	if reduction < 50.0 || curAbs > e.levels.CloseCutoff {
		return nil
	}

	delete(e.positions, pos.Pair.Key())

	sig := &model.Signal{
		Pair:            pos.Pair,
		Action:          model.ActionClose,
		UnderlyingPrice: quotes.Underlying.Price,
		DerivativePrice: quotes.Derivative.Price,
		SpreadPercent:   spread,
		UnderlyingSide:  pos.UnderlyingSide.Opposite(),
		DerivativeSide:  pos.DerivativeSide.Opposite(),
		UnderlyingLots:  pos.UnderlyingLots,
		DerivativeLots:  pos.DerivativeLots,
		Urgency:         model.UrgencyNormal,
		Timestamp:       now,
	}
	log.Info().
		Str("pair", pos.Pair.Key()).
		Float64("entry_spread", pos.EntrySpread).
		Float64("spread", spread).
		Msg("position closed")
	return sig
}

func (e *Engine) open(pair model.InstrumentPair, quotes model.QuotePair, spread float64, now time.Time) *model.Signal {
	// Derivative richer: buy the underlying, sell the contract. Reversed otherwise.
	underlyingSide, derivativeSide := model.SideBuy, model.SideSell
	if spread < 0 {
		underlyingSide, derivativeSide = model.SideSell, model.SideBuy
	}

	ul, dl := LegSizes(pair)

	urgency := model.UrgencyNormal
	switch abs := math.Abs(spread); {
	case abs >= e.levels.Tier3:
		urgency = model.UrgencyMax
	case abs >= e.levels.Tier2:
		urgency = model.UrgencyHigh
	}

	e.positions[pair.Key()] = model.Position{
		Pair:           pair,
		UnderlyingSide: underlyingSide,
		DerivativeSide: derivativeSide,
		EntrySpread:    spread,
		UnderlyingLots: ul,
		DerivativeLots: dl,
		OpenedAt:       now,
	}

	sig := &model.Signal{
		Pair:            pair,
		Action:          model.ActionOpen,
		UnderlyingPrice: quotes.Underlying.Price,
		DerivativePrice: quotes.Derivative.Price,
		SpreadPercent:   spread,
		UnderlyingSide:  underlyingSide,
		DerivativeSide:  derivativeSide,
		UnderlyingLots:  ul,
		DerivativeLots:  dl,
		Urgency:         urgency,
		Timestamp:       now,
	}
	log.Info().
		Str("pair", pair.Key()).
		Float64("spread", spread).
		Int("urgency", urgency).
		Msg("position opened")
	return sig
}

// Positions returns a snapshot of currently open positions.
func (e *Engine) Positions() []model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns how many positions are currently open.
func (e *Engine) OpenCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.positions)
}

// Restore seeds a position without emitting a signal. Used when the storage
// collaborator replays open positions on startup.
func (e *Engine) Restore(pos model.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[pos.Pair.Key()] = pos
}

// PotentialProfit estimates the gain from riding the signal's spread down to
// targetSpread, in currency units of the underlying leg. Informational only.
func PotentialProfit(sig *model.Signal, targetSpread float64) float64 {
	if sig == nil || sig.UnderlyingPrice <= 0 {
		return 0
	}
	change := math.Abs(sig.SpreadPercent) - math.Abs(targetSpread)
	return sig.UnderlyingPrice * float64(sig.UnderlyingLots) * change / 100
}
