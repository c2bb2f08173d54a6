package ingest

import (
	"sync/atomic"
	"time"
)

type LoopStats struct {
	Symbols  int    `json:"symbols"`
	Interval string `json:"interval"`
	Ticks    int64  `json:"ticks"`
	Skipped  int64  `json:"skipped"`
	Applied  int64  `json:"applied"`
	Failed   int64  `json:"failed"`
	Stale    int64  `json:"stale"`
	Rejected int64  `json:"rejected"`
	Running  bool   `json:"running"`
}

type loop struct {
	name     string
	interval time.Duration

	running   atomic.Bool
	lastStart atomic.Int64

	ticks, skipped                   atomic.Int64
	applied, failed, stale, rejected atomic.Int64
}

func newLoop(name string, interval time.Duration) *loop {
	return &loop{name: name, interval: interval}
}

// begin claims the loop for one cycle.
func (l *loop) begin(now time.Time) bool {
	if last := l.lastStart.Load(); last != 0 && now.Sub(time.Unix(0, last)) < l.interval/2 {
		return false
	}
	if !l.running.CompareAndSwap(false, true) {
		return false
	}
	l.lastStart.Store(now.UnixNano())
	return true
}

func (l *loop) end() {
	l.running.Store(false)
}

func (l *loop) stats(symbols int) LoopStats {
	return LoopStats{
		Symbols:  symbols,
		Interval: l.interval.String(),
		Ticks:    l.ticks.Load(),
		Skipped:  l.skipped.Load(),
		Applied:  l.applied.Load(),
		Failed:   l.failed.Load(),
		Stale:    l.stale.Load(),
		Rejected: l.rejected.Load(),
		Running:  l.running.Load(),
	}
}
