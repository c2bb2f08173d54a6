package marketdata

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

const DefaultStaleAfter = 10 * time.Second

// Cache holds the latest live observation per symbol. Each symbol owns an atomic slot,
// so writers for different symbols never contend and readers never block.
type Cache struct {
	table      *instruments.Table
	synth      *Synthesizer
	staleAfter time.Duration
	now        func() time.Time

	slots   sync.Map // symbol -> *atomic.Pointer[Quote]
	onApply func(Quote)
}

type CacheStats struct {
	Catalog   int `json:"catalog"`
	Live      int `json:"live"`
	Stale     int `json:"stale"`
	Synthetic int `json:"synthetic"`
}

func NewCache(table *instruments.Table, staleAfter time.Duration) *Cache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Cache{
		table:      table,
		synth:      NewSynthesizer(table),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetClock replaces the time source for the cache and its synthesizer.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
	c.synth.now = now
}

// OnApply registers a callback invoked after every accepted Put.
func (c *Cache) OnApply(fn func(Quote)) {
	c.onApply = fn
}

func (c *Cache) Table() *instruments.Table {
	return c.table
}

func (c *Cache) Synthesizer() *Synthesizer {
	return c.synth
}

func (c *Cache) slot(symbol string) *atomic.Pointer[Quote] {
	if v, ok := c.slots.Load(symbol); ok {
		return v.(*atomic.Pointer[Quote])
	}
	v, _ := c.slots.LoadOrStore(symbol, new(atomic.Pointer[Quote]))
	return v.(*atomic.Pointer[Quote])
}

// Put stores an observation unless it is invalid or older than the one already held.
// It reports whether the observation was applied.
func (c *Cache) Put(symbol string, bid, ask decimal.Decimal, source types.QuoteSource, observedAt time.Time) bool {
	symbol = instruments.Normalize(symbol)
	if symbol == "" || !bid.GreaterThan(decimal.Zero) || ask.LessThan(bid) {
		return false
	}
	if observedAt.IsZero() {
		observedAt = c.now()
	}
	if source == "" {
		source = types.QuoteSourceLive
	}
	next := &Quote{
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Spread:     ask.Sub(bid),
		ObservedAt: observedAt.UTC(),
		Source:     source,
	}
	slot := c.slot(symbol)
	for {
		cur := slot.Load()
		if cur != nil && next.ObservedAt.Before(cur.ObservedAt) {
			return false
		}
		if slot.CompareAndSwap(cur, next) {
			break
		}
	}
	if c.onApply != nil {
		c.onApply(*next)
	}
	return true
}

// Peek returns the raw live entry regardless of age.
func (c *Cache) Peek(symbol string) (Quote, bool) {
	v, ok := c.slots.Load(instruments.Normalize(symbol))
	if !ok {
		return Quote{}, false
	}
	q := v.(*atomic.Pointer[Quote]).Load()
	if q == nil {
		return Quote{}, false
	}
	return *q, true
}

func (c *Cache) fresh(q Quote) bool {
	return c.now().Sub(q.ObservedAt) <= c.staleAfter
}

// Get returns the live quote while it is fresh and the synthetic quote otherwise.
// Symbols outside the instrument table fail with instruments.ErrUnknownSymbol.
func (c *Cache) Get(symbol string) (Quote, error) {
	symbol = instruments.Normalize(symbol)
	if _, ok := c.table.Lookup(symbol); !ok {
		return Quote{}, fmt.Errorf("%w: %s", instruments.ErrUnknownSymbol, symbol)
	}
	if q, ok := c.Peek(symbol); ok && c.fresh(q) {
		return q, nil
	}
	return c.synth.Synthesize(symbol), nil
}

func (c *Cache) Stats() CacheStats {
	st := CacheStats{Catalog: c.table.Len()}
	for _, sym := range c.table.Symbols() {
		q, ok := c.Peek(sym)
		switch {
		case !ok:
			st.Synthetic++
		case c.fresh(q):
			st.Live++
		default:
			st.Stale++
			st.Synthetic++
		}
	}
	return st
}
