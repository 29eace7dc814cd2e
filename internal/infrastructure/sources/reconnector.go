package sources

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconnector periodically re-probes unhealthy sources so a blocked or
// unreachable endpoint returns to rotation without a restart.
type Reconnector struct {
	registry *Registry
	interval time.Duration
}

func NewReconnector(registry *Registry, interval time.Duration) *Reconnector {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reconnector{registry: registry, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping unhealthy sources each
// interval. Healthy sources are left alone; they already prove themselves
// on every fetch.
func (r *Reconnector) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconnector) sweep(ctx context.Context) {
	for _, name := range r.registry.Names() {
		st := r.registry.StatusOf(name)
		if st == StatusWorking || st == StatusUnknown {
			continue
		}
		if got := r.registry.Probe(ctx, name); got == StatusWorking {
			log.Info().Str("source", name).Msg("source recovered")
		}
	}
}
