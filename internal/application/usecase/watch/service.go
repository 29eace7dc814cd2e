package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
	"spreadwatch/internal/domain/service"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Deps wires the polling service. Source selection goes through Picker so
// probed upstream health feeds rotation; when Picker is nil the Sources
// list is rotated as-is.
type Deps struct {
	Sources  []port.MarketData
	Picker   port.SourcePicker
	Universe []model.InstrumentPair
	Engine   *service.Engine
	Store    port.SubscriberStore
	Repo     port.SignalRepository
	Notifier port.Notifier

	Publishers []port.Publisher
	Observer   port.Observer
	Queue      *SignalQueue

	TickInterval      time.Duration
	BatchSize         int
	FastCadence       int // seconds; cadences below this rotate sources
	SourceCooldown    time.Duration
	BucketParallelism int
}

// Service is the polling scheduler. Every tick it rebuilds cadence buckets
// from the live subscriber set, polls the due ones, feeds fresh quotes to
// the spread engine, and drains the delivery queue. One bucket blowing up
// never takes the others down, and a tick blowing up never kills the loop.
type Service struct {
	deps    Deps
	buckets map[int]*bucket

	statsMu   sync.Mutex
	lastStats []BucketStats
}

// BucketStats is a point-in-time view of one cadence bucket, refreshed at
// the end of every tick for status reporting.
type BucketStats struct {
	Cadence       int
	Subscribers   int
	Pairs         int
	FullCycles    int
	LastRun       time.Time
	CooldownUntil time.Time
}

func NewService(deps Deps) (*Service, error) {
	if len(deps.Sources) == 0 {
		return nil, fmt.Errorf("watch: at least one market data source required")
	}
	if deps.Engine == nil || deps.Store == nil || deps.Repo == nil {
		return nil, fmt.Errorf("watch: engine, store and repo are required")
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = time.Second
	}
	if deps.BatchSize < 1 {
		deps.BatchSize = 5
	}
	if deps.FastCadence <= 0 {
		deps.FastCadence = 300
	}
	if deps.BucketParallelism < 1 {
		deps.BucketParallelism = 1
	}
	if deps.Queue == nil {
		deps.Queue = NewSignalQueue(3, 3*time.Second)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Picker == nil {
		deps.Picker = staticPicker{sources: deps.Sources}
	}
	return &Service{deps: deps, buckets: make(map[int]*bucket)}, nil
}

// staticPicker rotates over a fixed source list with no health input.
type staticPicker struct {
	sources []port.MarketData
}

func (p staticPicker) Pick(rotation int) (port.MarketData, bool) {
	if len(p.sources) == 0 {
		return nil, false
	}
	return p.sources[rotation%len(p.sources)], true
}

func (p staticPicker) ActiveCount() int { return len(p.sources) }

// Restore replays persisted open positions into the engine. Call once
// before Run.
func (s *Service) Restore(ctx context.Context) error {
	positions, err := s.deps.Repo.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("watch: restore positions: %w", err)
	}
	for _, pos := range positions {
		s.deps.Engine.Restore(pos)
	}
	if len(positions) > 0 {
		log.Info().Int("count", len(positions)).Msg("open positions restored")
	}
	return nil
}

// Run blocks until ctx is cancelled. Each tick is isolated: a panic is
// logged and the next tick proceeds.
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Dur("tick", s.deps.TickInterval).
		Int("sources", len(s.deps.Sources)).
		Int("universe", len(s.deps.Universe)).
		Msg("polling service started")

	ticker := time.NewTicker(s.deps.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("polling service stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.safeTick(ctx, now)
		}
	}
}

func (s *Service) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tick panicked")
		}
	}()
	s.tick(ctx, now)
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	subs, err := s.deps.Store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("subscriber list unavailable, skipping tick")
		return
	}

	s.rebuildBuckets(subs)

	var due []*bucket
	for _, b := range s.buckets {
		if len(b.subscribers) > 0 && b.due(now) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].cadence < due[j].cadence })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.BucketParallelism)
	for _, b := range due {
		b := b
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Int("cadence", b.cadence).Interface("panic", r).Msg("bucket panicked")
				}
			}()
			s.runBucket(gctx, b, now)
			return nil
		})
	}
	g.Wait()

	s.deps.Observer.OpenPositions(s.deps.Engine.OpenCount())
	s.deps.Observer.QueueDepth(s.deps.Queue.Len())
	s.deps.Queue.Drain(ctx, s.deliver)
	s.snapshotStats()
}

func (s *Service) snapshotStats() {
	stats := make([]BucketStats, 0, len(s.buckets))
	for _, b := range s.buckets {
		stats = append(stats, BucketStats{
			Cadence:       b.cadence,
			Subscribers:   len(b.subscribers),
			Pairs:         len(b.cursor.universe),
			FullCycles:    b.cursor.fullCycles(),
			LastRun:       b.lastRun,
			CooldownUntil: b.cooldownUntil,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Cadence < stats[j].Cadence })

	s.statsMu.Lock()
	s.lastStats = stats
	s.statsMu.Unlock()
}

// Stats returns the coverage view captured at the end of the last tick.
func (s *Service) Stats() []BucketStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return append([]BucketStats(nil), s.lastStats...)
}

// rebuildBuckets derives bucket membership from the stored subscriber set.
// Buckets persist across ticks so cursors keep their coverage position;
// emptied buckets stay allocated but idle.
func (s *Service) rebuildBuckets(subs []model.Subscriber) {
	for _, b := range s.buckets {
		b.subscribers = b.subscribers[:0]
	}
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		cadence := SnapCadence(sub.CadenceSeconds)
		b, ok := s.buckets[cadence]
		if !ok {
			b = newBucket(cadence, s.deps.BatchSize)
			s.buckets[cadence] = b
		}
		b.subscribers = append(b.subscribers, sub)
	}

	for _, b := range s.buckets {
		b.cursor.setUniverse(s.membership(b.subscribers))
	}
}

// membership selects the universe pairs at least one of the bucket's
// subscribers follows, preserving universe order.
func (s *Service) membership(subs []model.Subscriber) []model.InstrumentPair {
	if len(subs) == 0 {
		return nil
	}
	var out []model.InstrumentPair
	for _, pair := range s.deps.Universe {
		for i := range subs {
			if subs[i].WantsPair(pair.Underlying) {
				out = append(out, pair)
				break
			}
		}
	}
	return out
}

func (s *Service) runBucket(ctx context.Context, b *bucket, now time.Time) {
	b.lastRun = now

	src, ok := s.pickSource(b)
	if !ok {
		log.Warn().Int("cadence", b.cadence).Msg("no usable market data source, skipping bucket")
		return
	}

	batch := b.cursor.next()
	if len(batch) == 0 {
		return
	}

	s.deps.Observer.CycleRan(b.cadence)
	s.deps.Observer.BatchFetched(b.cadence, len(batch))

	quotes, err := src.FetchMany(ctx, batch)
	if err != nil {
		log.Error().Int("cadence", b.cadence).Err(err).Msg("batch fetch failed")
		return
	}

	var emitted []model.Signal
	for i, pair := range batch {
		if !quotes[i].Complete() {
			s.deps.Observer.QuoteGap()
			continue
		}
		threshold, ok := minThreshold(b.subscribers, pair.Underlying)
		if !ok {
			continue
		}
		sig := s.deps.Engine.Analyze(pair, quotes[i], threshold, now)
		if sig == nil {
			continue
		}
		s.persist(ctx, *sig)
		s.publish(ctx, *sig)
		s.deps.Observer.SignalEmitted(sig.Action.String())
		emitted = append(emitted, *sig)
	}

	if len(emitted) > 0 {
		s.deps.Queue.Enqueue(emitted, b.subscribers)
	}

	// A completed coverage pass closes the breaker window: endpoints that
	// tripped during the pass get a fresh chance, and fast cadences move
	// to the next source in rotation.
	if b.completedPass() {
		src.ResetCycle()
		if b.cadence < s.deps.FastCadence {
			if b.advanceRotation(s.deps.Picker.ActiveCount(), now, s.deps.SourceCooldown) {
				log.Info().Int("cadence", b.cadence).Time("until", b.cooldownUntil).Msg("bucket cooling down after full source rotation")
			}
		}
	}
}

// pickSource resolves the bucket's rotation index to a usable source. Slow
// cadences stay pinned to rotation slot zero, the highest-priority healthy
// source.
func (s *Service) pickSource(b *bucket) (port.MarketData, bool) {
	rotation := 0
	if b.cadence < s.deps.FastCadence {
		rotation = b.sourceIdx
	}
	return s.deps.Picker.Pick(rotation)
}

// minThreshold is the lowest open threshold among active subscribers
// following the underlying. The engine opens at the most sensitive level;
// the queue re-filters per recipient on delivery.
func minThreshold(subs []model.Subscriber, underlying string) (float64, bool) {
	found := false
	min := 0.0
	for i := range subs {
		if !subs[i].Active || !subs[i].WantsPair(underlying) {
			continue
		}
		if !found || subs[i].SpreadThreshold < min {
			min = subs[i].SpreadThreshold
			found = true
		}
	}
	return min, found
}

// persist mirrors the engine's position change and records the signal.
// Storage trouble is logged, not fatal: the in-memory engine remains the
// source of truth until the next restart.
func (s *Service) persist(ctx context.Context, sig model.Signal) {
	if err := s.deps.Repo.InsertSignal(ctx, sig); err != nil {
		log.Error().Str("pair", sig.Pair.Key()).Err(err).Msg("signal insert failed")
	}
	switch sig.Action {
	case model.ActionOpen:
		pos := model.Position{
			Pair:           sig.Pair,
			UnderlyingSide: sig.UnderlyingSide,
			DerivativeSide: sig.DerivativeSide,
			EntrySpread:    sig.SpreadPercent,
			UnderlyingLots: sig.UnderlyingLots,
			DerivativeLots: sig.DerivativeLots,
			OpenedAt:       sig.Timestamp,
		}
		if err := s.deps.Repo.UpsertPosition(ctx, pos); err != nil {
			log.Error().Str("pair", sig.Pair.Key()).Err(err).Msg("position upsert failed")
		}
	case model.ActionClose:
		if err := s.deps.Repo.DeletePosition(ctx, sig.Pair.Key()); err != nil {
			log.Error().Str("pair", sig.Pair.Key()).Err(err).Msg("position delete failed")
		}
	}
}

func (s *Service) publish(ctx context.Context, sig model.Signal) {
	for _, p := range s.deps.Publishers {
		if err := p.Publish(ctx, sig); err != nil {
			log.Warn().Str("pair", sig.Pair.Key()).Err(err).Msg("signal publish failed")
		}
	}
}

func (s *Service) deliver(ctx context.Context, recipient int64, sig model.Signal) error {
	if s.deps.Notifier == nil {
		return nil
	}
	return s.deps.Notifier.Send(ctx, recipient, sig)
}

type nopObserver struct{}

func (nopObserver) CycleRan(int)          {}
func (nopObserver) BatchFetched(int, int) {}
func (nopObserver) SignalEmitted(string)  {}
func (nopObserver) QuoteGap()             {}
func (nopObserver) OpenPositions(int)     {}
func (nopObserver) QueueDepth(int)        {}
