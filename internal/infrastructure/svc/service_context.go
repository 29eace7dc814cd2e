package svc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/application/usecase/watch"
	"spreadwatch/internal/domain/model"
	domainservice "spreadwatch/internal/domain/service"
	"spreadwatch/internal/infrastructure/config"
	"spreadwatch/internal/infrastructure/metrics"
	"spreadwatch/internal/infrastructure/moex"
	"spreadwatch/internal/infrastructure/ratelimit"
	"spreadwatch/internal/infrastructure/retry"
	"spreadwatch/internal/infrastructure/sources"
	postgresrepo "spreadwatch/internal/infrastructure/storage/postgres"
	redisrepo "spreadwatch/internal/infrastructure/storage/redis"
	sqliterepo "spreadwatch/internal/infrastructure/storage/sqlite"
	"spreadwatch/internal/interfaces/console"
	"spreadwatch/internal/interfaces/stream"
)

// ServiceContext wires every collaborator from config. It is the single
// startup entry point; resources register close callbacks and are torn
// down in reverse order.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	Registry    *sources.Registry
	Reconnector *sources.Reconnector
	Engine      *domainservice.Engine
	Metrics     *metrics.Set
	Hub         *stream.Hub

	sqliteRepo  *sqliterepo.Repo
	pgRepo      *postgresrepo.Repo
	redisClient *redisclient.Client
	redisRepo   *redisrepo.Repo
	clients     []port.MarketData
	picker      *sources.ClientPicker
	publishers  []port.Publisher

	closerChain []func() error
}

func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:    ctx,
		Config: cfg,
		Engine: domainservice.NewEngine(domainservice.Thresholds{
			Tier2:       cfg.Spread.Tier2Percent,
			Tier3:       cfg.Spread.Tier3Percent,
			CloseCutoff: cfg.Spread.CloseCutoffPercent,
		}),
		Metrics:     metrics.New(),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initialize(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initialize() error {
	if err := sc.initSQLite(); err != nil {
		return fmt.Errorf("sqlite initialization failed: %w", err)
	}
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	if sc.Config.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
	}
	if err := sc.initSources(); err != nil {
		return err
	}
	sc.initStream()
	return nil
}

func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return err
	}
	sc.sqliteRepo = repo
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", sc.Config.SQLite.Path).Msg("sqlite initialized")
	return nil
}

func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(rdb, sc.Config.Redis.Prefix,
		sc.Config.Redis.SignalStream, sc.Config.Redis.SignalChannel)
	sc.publishers = append(sc.publishers, sc.redisRepo)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().Str("addr", sc.Config.Redis.Addr).Int("db", sc.Config.Redis.DB).Msg("redis initialized")
	return nil
}

func (sc *ServiceContext) initPostgres() error {
	repo, err := postgresrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return err
	}
	sc.pgRepo = repo
	sc.publishers = append(sc.publishers, repo)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})
	log.Info().Msg("postgres archive initialized")
	return nil
}

// initSources builds the registry and one ISS client per source. All
// clients share one rate budget: the window cap is global, whichever
// upstream a bucket happens to poll.
func (sc *ServiceContext) initSources() error {
	if len(sc.Config.Sources) == 0 {
		return ErrNoSources
	}

	var list []sources.Source
	for _, s := range sc.Config.Sources {
		list = append(list, sources.Source{Name: s.Name, BaseURL: s.BaseURL, Priority: s.Priority})
	}
	sc.Registry = sources.NewRegistry(list, sc.Config.Timeout())
	sc.Reconnector = sources.NewReconnector(sc.Registry, sc.Config.SourceProbeEvery())

	budget := ratelimit.New(
		sc.Config.Limits.RequestsPerWindow,
		sc.Config.Window(),
		sc.Config.MinInterval(),
	)
	policy := retry.Policy{
		MaxAttempts: sc.Config.Limits.RetryAttempts,
		BaseDelay:   sc.Config.RetryBase(),
		Multiplier:  sc.Config.Limits.RetryMultiplier,
		Jitter:      0.1,
	}

	clientsByName := make(map[string]port.MarketData, len(sc.Config.Sources))
	for _, s := range sc.Config.Sources {
		client := moex.NewClient(moex.Config{
			BaseURL:     s.BaseURL,
			Timeout:     sc.Config.Timeout(),
			Concurrency: sc.Config.Scan.PairConcurrency,
			PairDelay:   sc.Config.PairDelay(),
		}, budget, policy)
		sc.clients = append(sc.clients, client)
		clientsByName[s.Name] = client
	}
	sc.picker = sources.NewClientPicker(sc.Registry, clientsByName)
	log.Info().Int("sources", len(sc.clients)).Msg("market data clients initialized")
	return nil
}

func (sc *ServiceContext) initStream() {
	if sc.Config.App.StreamAddr == "" {
		return
	}
	sc.Hub = stream.NewHub()
	sc.publishers = append(sc.publishers, sc.Hub)
	sc.closerChain = append(sc.closerChain, sc.Hub.Close)
}

// Universe converts configured pairs into the domain form.
func (sc *ServiceContext) Universe() []model.InstrumentPair {
	out := make([]model.InstrumentPair, 0, len(sc.Config.Pairs))
	for _, p := range sc.Config.Pairs {
		out = append(out, model.InstrumentPair{
			Underlying:    p.Underlying,
			Derivative:    p.Derivative,
			ScaleFactor:   p.ScaleFactor,
			UnderlyingLot: p.UnderlyingLot,
			DerivativeLot: p.DerivativeLot,
		})
	}
	return out
}

// SubscriberStore exposes the authoritative subscriber storage.
func (sc *ServiceContext) SubscriberStore() port.SubscriberStore {
	return sc.sqliteRepo
}

// BuildWatchDeps assembles everything the polling service needs.
func (sc *ServiceContext) BuildWatchDeps() watch.Deps {
	return watch.Deps{
		Sources:  sc.clients,
		Picker:   sc.picker,
		Universe: sc.Universe(),
		Engine:   sc.Engine,
		Store:    sc.sqliteRepo,
		Repo:     sc.sqliteRepo,
		Notifier: console.NewNotifier(),

		Publishers: sc.publishers,
		Observer:   sc.Metrics,
		Queue:      watch.NewSignalQueue(sc.Config.Queue.MaxPerDrain, sc.Config.SendDelay()),

		TickInterval:      sc.Config.Tick(),
		BatchSize:         sc.Config.Scan.BatchSize,
		FastCadence:       sc.Config.Scan.FastCadenceSeconds,
		SourceCooldown:    sc.Config.SourceCooldown(),
		BucketParallelism: sc.Config.Scan.BucketParallelism,
	}
}

// ServeMetrics starts the Prometheus endpoint when configured. Errors are
// logged, not fatal: the monitor keeps running without observability.
func (sc *ServiceContext) ServeMetrics() {
	addr := sc.Config.App.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", sc.Metrics.Handler())
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint up")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}

// ServeStream starts the websocket fan-out when configured.
func (sc *ServiceContext) ServeStream() {
	addr := sc.Config.App.StreamAddr
	if addr == "" || sc.Hub == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/stream", sc.Hub)
	go func() {
		log.Info().Str("addr", addr).Msg("signal stream up")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("signal stream failed")
		}
	}()
}

// Close tears resources down in reverse initialization order.
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
