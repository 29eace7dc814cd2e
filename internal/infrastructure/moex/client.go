package moex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"spreadwatch/internal/domain/model"
	"spreadwatch/internal/infrastructure/ratelimit"
	"spreadwatch/internal/infrastructure/retry"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	sharePathTpl   = "/iss/engines/stock/markets/shares/boards/TQBR/securities/%s.json"
	futuresPathTpl = "/iss/engines/futures/markets/forts/boards/RFUD/securities/%s.json"

	// Columnar response trimmed to the four columns we read.
	issQuery = "iss.meta=off&iss.only=securities&securities.columns=SECID,LAST,PREVPRICE,LOTSIZE"

	// Consecutive failures on one endpoint before it is skipped for the
	// rest of the cycle.
	breakerThreshold = 3
)

// Config tunes one ISS client instance.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Concurrency int           // simultaneous pair fetches; 1 keeps legs strictly paced
	PairDelay   time.Duration // minimum gap between starting consecutive pairs; 0 disables
}

// Client fetches share and futures quotes from a MOEX ISS endpoint. All
// requests pass through the shared rate budget; transient failures go
// through the retry policy; endpoints failing repeatedly within a cycle
// trip a per-key breaker that FetchMany skips until ResetCycle.
type Client struct {
	baseURL     string
	http        *http.Client
	budget      *ratelimit.Budget
	policy      retry.Policy
	concurrency int
	pairDelay   time.Duration

	mu       sync.Mutex
	failures map[string]int
}

func NewClient(cfg Config, budget *ratelimit.Budget, policy retry.Policy) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://iss.moex.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		baseURL:     base,
		http:        &http.Client{Timeout: timeout},
		budget:      budget,
		policy:      policy,
		concurrency: concurrency,
		pairDelay:   cfg.PairDelay,
		failures:    make(map[string]int),
	}
}

// issResponse is the columnar shape ISS returns with iss.meta=off.
type issResponse struct {
	Securities struct {
		Columns []string            `json:"columns"`
		Data    [][]json.RawMessage `json:"data"`
	} `json:"securities"`
}

// SharePrice returns the current share quote, preferring LAST and falling
// back to PREVPRICE. A (nil, nil) result means the board listed no usable
// price for the ticker.
func (c *Client) SharePrice(ctx context.Context, ticker string) (*model.Quote, error) {
	return c.fetch(ctx, ticker, fmt.Sprintf(sharePathTpl, ticker), 1)
}

// FuturesPrice returns the futures quote scaled into share-comparable
// units by scaleFactor.
func (c *Client) FuturesPrice(ctx context.Context, ticker string, scaleFactor float64) (*model.Quote, error) {
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	return c.fetch(ctx, ticker, fmt.Sprintf(futuresPathTpl, ticker), scaleFactor)
}

// FetchPair fetches both legs sequentially, underlying first. A missing or
// failed underlying still lets the derivative leg run: partial pairs are
// reported to the caller, which treats them as a data gap.
func (c *Client) FetchPair(ctx context.Context, pair model.InstrumentPair) (model.QuotePair, error) {
	var out model.QuotePair

	underlying, uErr := c.SharePrice(ctx, pair.Underlying)
	if uErr == nil {
		out.Underlying = underlying
	}

	derivative, dErr := c.FuturesPrice(ctx, pair.Derivative, pair.ScaleFactor)
	if dErr == nil {
		out.Derivative = derivative
	}

	if uErr != nil {
		return out, uErr
	}
	return out, dErr
}

// FetchMany fetches quote pairs with bounded concurrency, preserving input
// order in the result slice. Consecutive pair starts are separated by the
// configured pacing delay, on top of the shared budget's spacing. Auth
// errors abort the whole batch; everything else degrades to a gap for that
// pair.
func (c *Client) FetchMany(ctx context.Context, pairs []model.InstrumentPair) ([]model.QuotePair, error) {
	out := make([]model.QuotePair, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	var paceErr error
	for i, pair := range pairs {
		if i > 0 && c.pairDelay > 0 {
			if paceErr = c.pace(gctx); paceErr != nil {
				break
			}
		}
		i, pair := i, pair
		g.Go(func() error {
			qp, err := c.FetchPair(gctx, pair)
			out[i] = qp
			switch {
			case err == nil:
			case isFatal(err):
				return err
			default:
				log.Warn().
					Str("pair", pair.Key()).
					Err(err).
					Msg("pair fetch degraded")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, paceErr
}

func (c *Client) pace(ctx context.Context) error {
	timer := time.NewTimer(c.pairDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ResetCycle clears the per-key breaker counters. The scheduler calls this
// once per completed coverage pass, never mid-pass, so an endpoint must
// actually fail breakerThreshold times within one pass to be skipped and
// gets its fresh chance only on the next pass.
func (c *Client) ResetCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.failures {
		delete(c.failures, k)
	}
}

func (c *Client) fetch(ctx context.Context, ticker, path string, scaleFactor float64) (*model.Quote, error) {
	if c.tripped(path) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, ticker)
	}

	var quote *model.Quote
	err := c.policy.Do(ctx, "moex "+ticker, func(ctx context.Context) error {
		if err := c.budget.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		q, err := c.get(ctx, path, scaleFactor)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		c.recordFailure(path)
		return nil, err
	}

	c.recordSuccess(path)
	return quote, nil
}

func (c *Client) get(ctx context.Context, path string, scaleFactor float64) (*model.Quote, error) {
	url := c.baseURL + path + "?" + issQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, retry.Permanent(fmt.Errorf("%w: http %d", ErrAuth, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, &StatusError{Code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(&StatusError{Code: resp.StatusCode})
	}

	var body issResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, retry.Permanent(fmt.Errorf("moex: decode: %w", err))
	}
	return parseQuote(body, scaleFactor)
}

// parseQuote reads the first data row by column name. LAST wins when
// positive, PREVPRICE otherwise. No row or no positive price is not an
// error: the quote is simply absent this cycle.
func parseQuote(body issResponse, scaleFactor float64) (*model.Quote, error) {
	sec := body.Securities
	if len(sec.Data) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(sec.Columns))
	for i, col := range sec.Columns {
		idx[col] = i
	}

	row := sec.Data[0]
	cell := func(name string) json.RawMessage {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	var ticker string
	if raw := cell("SECID"); raw != nil {
		if err := json.Unmarshal(raw, &ticker); err != nil {
			return nil, retry.Permanent(fmt.Errorf("moex: bad SECID: %w", err))
		}
	}

	price := numberCell(cell("LAST"))
	if price <= 0 {
		price = numberCell(cell("PREVPRICE"))
	}
	if price <= 0 {
		return nil, nil
	}

	return &model.Quote{
		Ticker:     ticker,
		Price:      price * scaleFactor,
		ObservedAt: time.Now(),
	}, nil
}

// numberCell tolerates nulls and absent cells, returning zero for both.
func numberCell(raw json.RawMessage) float64 {
	if raw == nil || string(raw) == "null" {
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

func (c *Client) tripped(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[key] >= breakerThreshold
}

func (c *Client) recordFailure(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[key]++
	if c.failures[key] == breakerThreshold {
		log.Warn().Str("endpoint", key).Msg("endpoint breaker tripped for this cycle")
	}
}

func (c *Client) recordSuccess(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, key)
}

// isFatal marks errors that should abort a whole batch rather than degrade
// a single pair.
func isFatal(err error) bool {
	return err != nil && (errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled))
}
