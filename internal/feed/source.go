package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUpstreamUnavailable = errors.New("upstream unavailable")

type Observation struct {
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	ObservedAt time.Time
}

// Source fetches the current top of book for one symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Observation, error)
}

func unavailable(source, symbol string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", source, symbol, ErrUpstreamUnavailable, err)
}

// Func adapts a function to Source.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, symbol string) (Observation, error)
}

func (f Func) Name() string { return f.SourceName }

func (f Func) Fetch(ctx context.Context, symbol string) (Observation, error) {
	return f.Fn(ctx, symbol)
}

// Static serves fixed observations, stamped with the fetch time when ObservedAt is zero.
type Static struct {
	Quotes map[string]Observation
	Now    func() time.Time
}

func (s Static) Name() string { return "static" }

func (s Static) Fetch(ctx context.Context, symbol string) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	obs, ok := s.Quotes[symbol]
	if !ok {
		return Observation{}, unavailable(s.Name(), symbol, errors.New("no quote"))
	}
	obs.Symbol = symbol
	if obs.ObservedAt.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		obs.ObservedAt = now()
	}
	return obs, nil
}
