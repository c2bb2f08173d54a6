package risk

import (
	"context"
	"fmt"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/valuation"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type AccountRisk struct {
	AccountID     string          `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	Equity        decimal.Decimal `json:"equity"`
	UsedMargin    decimal.Decimal `json:"used_margin"`
	FreeMargin    decimal.Decimal `json:"free_margin"`
	MarginLevel   decimal.Decimal `json:"margin_level"`
	FloatingPnL   decimal.Decimal `json:"floating_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// Aggregate folds position valuations into account figures. Margin level is
// equity / used margin * 100, and 0 when no margin is used.
func Aggregate(accountID string, balance decimal.Decimal, vals []valuation.Valuation) AccountRisk {
	var pnl, margin decimal.Decimal
	for _, v := range vals {
		pnl = pnl.Add(v.FloatingPnL)
		margin = margin.Add(v.Margin)
	}
	equity := balance.Add(pnl)
	level := decimal.Zero
	if margin.GreaterThan(decimal.Zero) {
		level = equity.Div(margin).Mul(hundred)
	}
	return AccountRisk{
		AccountID:     accountID,
		Balance:       balance,
		Equity:        equity,
		UsedMargin:    margin,
		FreeMargin:    equity.Sub(margin),
		MarginLevel:   level,
		FloatingPnL:   pnl,
		OpenPositions: len(vals),
	}
}

// Quotes is the client-facing quote view used for valuation.
type Quotes interface {
	GetQuote(ctx context.Context, symbol string) (marketdata.Quote, error)
}

type Exclusion struct {
	PositionID string `json:"position_id"`
	Symbol     string `json:"symbol"`
	Reason     string `json:"reason"`
}

type Portfolio struct {
	Valuations []valuation.Valuation `json:"valuations"`
	Exclusions []Exclusion           `json:"exclusions"`
}

// ValuePositions values each position independently. A position that cannot be
// valued is listed as an exclusion and does not affect the others.
func ValuePositions(ctx context.Context, positions []model.Position, quotes Quotes, table *instruments.Table, leverage decimal.Decimal) Portfolio {
	out := Portfolio{
		Valuations: make([]valuation.Valuation, 0, len(positions)),
		Exclusions: []Exclusion{},
	}
	for _, p := range positions {
		v, err := valuePosition(ctx, p, quotes, table, leverage)
		if err != nil {
			out.Exclusions = append(out.Exclusions, Exclusion{PositionID: p.ID, Symbol: p.Symbol, Reason: err.Error()})
			continue
		}
		out.Valuations = append(out.Valuations, v)
	}
	return out
}

func valuePosition(ctx context.Context, p model.Position, quotes Quotes, table *instruments.Table, leverage decimal.Decimal) (valuation.Valuation, error) {
	spec, ok := table.Lookup(p.Symbol)
	if !ok {
		return valuation.Valuation{}, fmt.Errorf("%w: %s", instruments.ErrUnknownSymbol, p.Symbol)
	}
	q, err := quotes.GetQuote(ctx, p.Symbol)
	if err != nil {
		return valuation.Valuation{}, err
	}
	return valuation.Valuate(p, q, spec, leverage)
}
