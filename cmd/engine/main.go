package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lv-riskengine/internal/auth"
	"lv-riskengine/internal/config"
	"lv-riskengine/internal/db"
	"lv-riskengine/internal/engine"
	"lv-riskengine/internal/events"
	"lv-riskengine/internal/feed"
	"lv-riskengine/internal/health"
	"lv-riskengine/internal/httpserver"
	"lv-riskengine/internal/ingest"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/logging"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/pricing"
	"lv-riskengine/internal/risk"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/store/postgres"
	"lv-riskengine/internal/store/sqlite"
	"lv-riskengine/internal/valuation"

	"github.com/grafana/pyroscope-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Mode, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "lv-riskengine",
			ServerAddress:   cfg.PyroscopeAddr,
			Tags:            map[string]string{"mode": cfg.Mode},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		st   store.Store
		pool *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		lite, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal(err)
		}
		st = lite
	default:
		pool, err = db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal(err)
		}
		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal(err)
		}
		st = pg
	}
	defer st.Close()

	var overrides [][]instruments.Spec
	if cfg.InstrumentsFile != "" {
		specs, err := instruments.LoadFile(cfg.InstrumentsFile)
		if err != nil {
			log.Fatal(err)
		}
		overrides = append(overrides, specs)
	}
	if pool != nil {
		specs, err := instruments.NewPGStore(pool).Load(ctx)
		if err != nil {
			log.Fatal(err)
		}
		overrides = append(overrides, specs)
	}
	table := instruments.Merge(instruments.DefaultTable(), overrides...)
	cache := marketdata.NewCache(table, cfg.QuoteStaleAfter)
	quoteBus := marketdata.NewBus()
	cache.OnApply(marketdata.PublishQuotes(quoteBus))

	var primary, secondary feed.Source
	if cfg.PrimaryFeedURL != "" {
		src, err := feed.NewHTTPSource(feed.HTTPConfig{
			BaseURL:           cfg.PrimaryFeedURL,
			Timeout:           cfg.FetchTimeout,
			RequestsPerSecond: cfg.PrimaryFeedRPS,
			Burst:             int(cfg.PrimaryFeedRPS),
		})
		if err != nil {
			log.Fatal(err)
		}
		primary = src
	}
	if cfg.BinanceEnabled {
		secondary = feed.NewBinanceSource(feed.BinanceConfig{BaseURL: cfg.BinanceBaseURL, Timeout: cfg.FetchTimeout})
	}
	ingestCfg := ingest.DefaultConfig()
	ingestCfg.PrioritySymbols = cfg.PrioritySymbols
	ingestCfg.PriorityInterval = cfg.PriorityInterval
	ingestCfg.SweepInterval = cfg.SweepInterval
	ingestCfg.SweepBatchSize = cfg.SweepBatchSize
	ingestCfg.SecondaryInterval = cfg.SecondaryInterval
	ingestCfg.SecondaryFreshness = cfg.SecondaryFreshness
	ingestCfg.FetchTimeout = cfg.FetchTimeout
	scheduler := ingest.New(ingestCfg, cache, primary, secondary, logger)

	var (
		policySource pricing.Source
		policyWriter httpserver.PolicyWriter
		fileSource   *pricing.FileSource
	)
	switch {
	case cfg.PolicyFile != "":
		fileSource, err = pricing.NewFileSource(cfg.PolicyFile, logger)
		if err != nil {
			log.Fatal(err)
		}
		policySource = fileSource
	case pool != nil:
		pgSource := pricing.NewPGSource(pool)
		policySource = pgSource
		policyWriter = pgSource
	default:
		policySource = pricing.StaticSource(pricing.Defaults())
	}
	provider, err := pricing.NewProvider(policySource, table, cfg.PolicyCacheTTL, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer provider.Close()
	if fileSource != nil {
		fileSource.OnChange(provider.Invalidate)
	}

	bus := marketdata.NewBus()
	publishers := events.Multi{events.NewBusPublisher(bus)}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		publishers = append(publishers, kp)
	}

	eng := engine.New(engine.Deps{
		Cache:     cache,
		Policies:  provider,
		Positions: st,
		Wallets:   st,
		Leverage:  st,
	}, cfg.DefaultLeverage)

	tieBreak, err := risk.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		log.Fatal(err)
	}
	closePolicy, err := valuation.ParsePartialClosePolicy(cfg.PartialClosePolicy)
	if err != nil {
		log.Fatal(err)
	}
	defaultLeverage := decimal.NewFromInt(cfg.DefaultLeverage)
	monitor := risk.NewMonitor(risk.MonitorDeps{
		Positions: st,
		Orders:    st,
		Wallets:   st,
		Leverage:  st,
		Quotes:    eng,
		Table:     table,
		Policies:  provider,
		Publisher: publishers,
	}, risk.MonitorConfig{
		TieBreak:           tieBreak,
		StopOutLevel:       decimal.NewFromFloat(cfg.StopOutLevel),
		DefaultLeverage:    defaultLeverage,
		TriggerOnSynthetic: cfg.TriggerOnSynthetic,
	}, logger)
	closer := risk.NewCloser(risk.CloserDeps{
		Positions: st,
		Leverage:  st,
		Quotes:    eng,
		Table:     table,
		Publisher: publishers,
	}, closePolicy, defaultLeverage, logger)

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	handler := httpserver.NewHandler(eng, provider, policyWriter, closer, logger)
	healthHandler := health.NewHandler(health.Deps{
		Store:         st,
		Pool:          pool,
		Cache:         cache,
		Ingest:        scheduler,
		Policy:        provider,
		Mode:          cfg.Mode,
		StoreDriver:   cfg.StoreDriver,
		HTTPAddr:      cfg.HTTPAddr,
		InternalToken: cfg.InternalToken,
	})
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Handler:       handler,
		Health:        healthHandler,
		QuoteWS:       marketdata.NewQuoteWS(eng, cfg.WSOrigin, logger).WithUpdates(quoteBus),
		EventsWS:      httpserver.NewEventsWS(bus, authSvc, cfg.WSOrigin, logger),
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		Origin:        cfg.WSOrigin,
		RateLimiter:   httpserver.NewRateLimiter(50, 100),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	log.Printf("server listening on %s", cfg.HTTPAddr)
	log.Printf("health endpoint: http://localhost%s/health", cfg.HTTPAddr)
	log.Printf("store: %s, instruments: %d", cfg.StoreDriver, table.Len())
	if primary == nil {
		logger.Warn("no primary feed configured, quotes fall back to synthetic")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := monitor.Run(gctx, cfg.MonitorInterval); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("engine stopped", zap.Error(err))
		return
	}
	logger.Info("engine stopped")
}
