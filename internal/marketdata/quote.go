package marketdata

import (
	"time"

	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

type Quote struct {
	Symbol     string            `json:"symbol"`
	Bid        decimal.Decimal   `json:"bid"`
	Ask        decimal.Decimal   `json:"ask"`
	Spread     decimal.Decimal   `json:"spread"`
	ObservedAt time.Time         `json:"observed_at"`
	Source     types.QuoteSource `json:"source"`
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(two)
}

// Valid reports bid > 0 and ask >= bid.
func (q Quote) Valid() bool {
	return q.Bid.GreaterThan(decimal.Zero) && q.Ask.GreaterThanOrEqual(q.Bid)
}

func (q Quote) IsSynthetic() bool {
	return q.Source == types.QuoteSourceSynthetic
}

// Around builds a quote of the given width centred on mid.
func Around(symbol string, mid, spread decimal.Decimal, source types.QuoteSource, at time.Time) Quote {
	half := spread.Div(two)
	return Quote{
		Symbol:     symbol,
		Bid:        mid.Sub(half),
		Ask:        mid.Add(half),
		Spread:     spread,
		ObservedAt: at,
		Source:     source,
	}
}
