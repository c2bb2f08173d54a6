package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lv-riskengine/internal/feed"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	PrioritySymbols    []string
	PriorityInterval   time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	SecondaryInterval  time.Duration
	SecondaryClasses   []types.AssetClass
	SecondaryFreshness time.Duration
	FetchTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		PrioritySymbols:    []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"},
		PriorityInterval:   400 * time.Millisecond,
		SweepInterval:      2 * time.Second,
		SweepBatchSize:     5,
		SecondaryInterval:  time.Second,
		SecondaryClasses:   []types.AssetClass{types.AssetClassCrypto},
		SecondaryFreshness: 5 * time.Second,
		FetchTimeout:       1500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PriorityInterval <= 0 {
		c.PriorityInterval = def.PriorityInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = def.SweepBatchSize
	}
	if c.SecondaryInterval <= 0 {
		c.SecondaryInterval = def.SecondaryInterval
	}
	if len(c.SecondaryClasses) == 0 {
		c.SecondaryClasses = def.SecondaryClasses
	}
	if c.SecondaryFreshness <= 0 {
		c.SecondaryFreshness = def.SecondaryFreshness
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	return c
}

// Scheduler keeps the quote cache populated from upstream sources. Three loops run
// independently: a fast priority loop, a batched sweep over the rest of the catalog,
// and a secondary-source loop for asset classes the primary feed does not carry.
type Scheduler struct {
	cfg       Config
	cache     *marketdata.Cache
	primary   feed.Source
	secondary feed.Source
	log       *zap.Logger
	now       func() time.Time

	priority      []string
	sweep         []string
	secondarySyms []string

	loops struct {
		priority  *loop
		sweep     *loop
		secondary *loop
	}
}

// New builds a scheduler. secondary may be nil, in which case secondary-class
// symbols are left to the sweep loop on the primary source.
func New(cfg Config, cache *marketdata.Cache, primary, secondary feed.Source, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:       cfg,
		cache:     cache,
		primary:   primary,
		secondary: secondary,
		log:       log.Named("ingest"),
		now:       time.Now,
	}
	s.loops.priority = newLoop("priority", cfg.PriorityInterval)
	s.loops.sweep = newLoop("sweep", cfg.SweepInterval)
	s.loops.secondary = newLoop("secondary", cfg.SecondaryInterval)
	s.partition(cache.Table())
	return s
}

func (s *Scheduler) partition(table *instruments.Table) {
	prio := map[string]struct{}{}
	for _, sym := range s.cfg.PrioritySymbols {
		sym = instruments.Normalize(sym)
		if _, ok := table.Lookup(sym); !ok {
			s.log.Warn("priority symbol not in instrument table", zap.String("symbol", sym))
			continue
		}
		if _, dup := prio[sym]; dup {
			continue
		}
		prio[sym] = struct{}{}
		s.priority = append(s.priority, sym)
	}
	secondary := map[string]struct{}{}
	if s.secondary != nil {
		for _, sym := range table.ByClass(s.cfg.SecondaryClasses...) {
			if _, ok := prio[sym]; ok {
				continue
			}
			secondary[sym] = struct{}{}
			s.secondarySyms = append(s.secondarySyms, sym)
		}
	}
	for _, sym := range table.Symbols() {
		if _, ok := prio[sym]; ok {
			continue
		}
		if _, ok := secondary[sym]; ok {
			continue
		}
		s.sweep = append(s.sweep, sym)
	}
}

// Run starts the loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("starting quote ingestion",
		zap.Int("priority", len(s.priority)),
		zap.Int("sweep", len(s.sweep)),
		zap.Int("secondary", len(s.secondarySyms)),
	)
	var wg sync.WaitGroup
	if s.primary != nil {
		wg.Add(2)
		go func() { defer wg.Done(); s.runLoop(ctx, s.loops.priority, s.RunPriority) }()
		go func() { defer wg.Done(); s.runLoop(ctx, s.loops.sweep, s.RunSweep) }()
	}
	if s.secondary != nil && len(s.secondarySyms) > 0 {
		wg.Add(1)
		go func() { defer wg.Done(); s.runLoop(ctx, s.loops.secondary, s.RunSecondary) }()
	}
	wg.Wait()
	s.log.Info("quote ingestion stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop, cycle func(context.Context)) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	var inflight sync.WaitGroup
	defer inflight.Wait()
	s.fire(ctx, l, &inflight, cycle)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, l, &inflight, cycle)
		}
	}
}

// fire starts a cycle unless the previous one is still running or started less than
// one interval ago. Skipped ticks are counted, never queued.
func (s *Scheduler) fire(ctx context.Context, l *loop, inflight *sync.WaitGroup, cycle func(context.Context)) {
	l.ticks.Add(1)
	if !l.begin(s.now()) {
		l.skipped.Add(1)
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer l.end()
		cycle(ctx)
	}()
}

// RunPriority fetches every priority symbol concurrently from the primary source.
func (s *Scheduler) RunPriority(ctx context.Context) {
	if s.primary == nil {
		return
	}
	var wg sync.WaitGroup
	for _, sym := range s.priority {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fetchOne(ctx, s.loops.priority, s.primary, sym, 0)
		}()
	}
	wg.Wait()
}

// RunSweep walks the non-priority catalog in fixed-size batches. A batch is fetched
// concurrently; batches run one after another.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if s.primary == nil {
		return
	}
	for start := 0; start < len(s.sweep); start += s.cfg.SweepBatchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + s.cfg.SweepBatchSize
		if end > len(s.sweep) {
			end = len(s.sweep)
		}
		var g errgroup.Group
		for _, sym := range s.sweep[start:end] {
			g.Go(func() error {
				s.fetchOne(ctx, s.loops.sweep, s.primary, sym, 0)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// RunSecondary polls the secondary source; observations older than SecondaryFreshness are dropped.
func (s *Scheduler) RunSecondary(ctx context.Context) {
	if s.secondary == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepBatchSize)
	for _, sym := range s.secondarySyms {
		g.Go(func() error {
			s.fetchOne(gctx, s.loops.secondary, s.secondary, sym, s.cfg.SecondaryFreshness)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchOne isolates one symbol: its own deadline, panic recovery, and no cache
// write on any failure.
func (s *Scheduler) fetchOne(ctx context.Context, l *loop, src feed.Source, symbol string, maxAge time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			s.log.Error("quote fetch panicked",
				zap.String("loop", l.name),
				zap.String("source", src.Name()),
				zap.String("symbol", symbol),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	obs, err := src.Fetch(fctx, symbol)
	if err != nil {
		l.failed.Add(1)
		s.log.Debug("quote fetch failed",
			zap.String("loop", l.name),
			zap.String("source", src.Name()),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = s.now()
	}
	if maxAge > 0 && s.now().Sub(obs.ObservedAt) > maxAge {
		l.stale.Add(1)
		return
	}
	if !s.cache.Put(symbol, obs.Bid, obs.Ask, types.QuoteSourceLive, obs.ObservedAt) {
		l.rejected.Add(1)
		return
	}
	l.applied.Add(1)
}

func (s *Scheduler) Stats() map[string]LoopStats {
	return map[string]LoopStats{
		s.loops.priority.name:  s.loops.priority.stats(len(s.priority)),
		s.loops.sweep.name:     s.loops.sweep.stats(len(s.sweep)),
		s.loops.secondary.name: s.loops.secondary.stats(len(s.secondarySyms)),
	}
}
