package pricing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lv-riskengine/internal/instruments"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	snapshotKey = "policy"
	DefaultTTL  = 5 * time.Second
)

// Provider hands out the current Policy, reloading from its Source at most once per TTL.
// A failed reload is logged as ErrStaleConfiguration and served from the last good
// snapshot, or from the global defaults when none was ever loaded.
type Provider struct {
	source Source
	table  *instruments.Table
	ttl    time.Duration
	log    *zap.Logger
	cache  *ristretto.Cache

	mu    sync.Mutex
	last  *Policy
	stale atomic.Bool
}

func NewProvider(source Source, table *instruments.Table, ttl time.Duration, log *zap.Logger) (*Provider, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100,
		MaxCost:            16,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("policy cache: %w", err)
	}
	return &Provider{
		source: source,
		table:  table,
		ttl:    ttl,
		log:    log.Named("pricing"),
		cache:  cache,
	}, nil
}

func (p *Provider) cached() (*Policy, bool) {
	v, ok := p.cache.Get(snapshotKey)
	if !ok {
		return nil, false
	}
	pol, ok := v.(*Policy)
	return pol, ok
}

func (p *Provider) Policy(ctx context.Context) *Policy {
	if pol, ok := p.cached(); ok {
		return pol
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pol, ok := p.cached(); ok {
		return pol
	}

	cfg, err := p.source.Load(ctx)
	if err != nil {
		p.stale.Store(true)
		p.log.Warn("using fallback spread/charge configuration",
			zap.Error(fmt.Errorf("%w: %w", ErrStaleConfiguration, err)),
			zap.Bool("has_last_good", p.last != nil),
		)
		pol := p.last
		if pol == nil {
			pol = NewPolicy(Defaults(), p.table)
		}
		p.store(pol)
		return pol
	}
	pol := NewPolicy(cfg, p.table)
	p.last = pol
	p.stale.Store(false)
	p.store(pol)
	return pol
}

func (p *Provider) store(pol *Policy) {
	p.cache.SetWithTTL(snapshotKey, pol, 1, p.ttl)
	p.cache.Wait()
}

// Invalidate drops the cached snapshot so the next call reloads.
func (p *Provider) Invalidate() {
	p.cache.Del(snapshotKey)
}

// Stale reports whether the most recent load failed.
func (p *Provider) Stale() bool {
	return p.stale.Load()
}

func (p *Provider) Close() {
	p.cache.Close()
}
