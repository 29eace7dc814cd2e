package sources

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the last probed health of one data source.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusWorking
	StatusBlocked     // 403 or 429: alive but refusing us
	StatusUnreachable // transport-level failure
	StatusError       // any other unexpected response
)

func (s Status) String() string {
	switch s {
	case StatusWorking:
		return "working"
	case StatusBlocked:
		return "blocked"
	case StatusUnreachable:
		return "unreachable"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Source is one upstream quote endpoint. Lower Priority wins ties when the
// scheduler rotates through active sources.
type Source struct {
	Name     string
	BaseURL  string
	Priority int

	status    Status
	lastProbe time.Time
}

// Registry holds the configured sources and their probed health. The
// scheduler picks from active sources by rotation index; the reconnector
// refreshes health in the background.
type Registry struct {
	mu      sync.Mutex
	sources []*Source
	http    *http.Client
}

func NewRegistry(sources []Source, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Registry{http: &http.Client{Timeout: timeout}}
	for i := range sources {
		s := sources[i]
		r.sources = append(r.sources, &s)
	}
	sort.SliceStable(r.sources, func(i, j int) bool {
		return r.sources[i].Priority < r.sources[j].Priority
	})
	return r
}

// Probe checks one source with a cheap GET against its base URL and
// records the result.
func (r *Registry) Probe(ctx context.Context, name string) Status {
	src := r.find(name)
	if src == nil {
		return StatusUnknown
	}

	status := r.probeURL(ctx, src.BaseURL)

	r.mu.Lock()
	src.status = status
	src.lastProbe = time.Now()
	r.mu.Unlock()

	log.Debug().Str("source", name).Stringer("status", status).Msg("source probed")
	return status
}

// ProbeAll refreshes every source.
func (r *Registry) ProbeAll(ctx context.Context) {
	for _, name := range r.Names() {
		r.Probe(ctx, name)
	}
}

func (r *Registry) probeURL(ctx context.Context, url string) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusError
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return StatusUnreachable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return StatusWorking
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return StatusBlocked
	default:
		return StatusError
	}
}

// Active returns base URLs of sources currently usable, in priority order.
// Sources never probed count as usable so a cold start is not stuck.
func (r *Registry) Active() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Source
	for _, s := range r.sources {
		if s.status == StatusWorking || s.status == StatusUnknown {
			out = append(out, *s)
		}
	}
	return out
}

// Pick maps a rotation index onto the active source list. ok is false when
// nothing is usable.
func (r *Registry) Pick(idx int) (Source, bool) {
	active := r.Active()
	if len(active) == 0 {
		return Source{}, false
	}
	return active[idx%len(active)], true
}

// ActiveCount reports how many sources a full rotation covers.
func (r *Registry) ActiveCount() int {
	return len(r.Active())
}

// Names lists all configured sources in priority order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.sources))
	for i, s := range r.sources {
		out[i] = s.Name
	}
	return out
}

// StatusOf returns the recorded health of one source.
func (r *Registry) StatusOf(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src := r.findLocked(name); src != nil {
		return src.status
	}
	return StatusUnknown
}

func (r *Registry) find(name string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(name)
}

func (r *Registry) findLocked(name string) *Source {
	for _, s := range r.sources {
		if s.Name == name {
			return s
		}
	}
	return nil
}
