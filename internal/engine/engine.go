package engine

import (
	"context"
	"fmt"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/risk"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/valuation"

	"github.com/shopspring/decimal"
)

type Deps struct {
	Cache     *marketdata.Cache
	Policies  risk.Policies
	Positions store.PositionStore
	Wallets   store.WalletStore
	Leverage  store.LeverageStore
}

// Engine is the read side: client-facing quotes and account figures.
type Engine struct {
	cache           *marketdata.Cache
	table           *instruments.Table
	policies        risk.Policies
	positions       store.PositionStore
	wallets         store.WalletStore
	leverage        store.LeverageStore
	defaultLeverage decimal.Decimal
}

func New(deps Deps, defaultLeverage int64) *Engine {
	return &Engine{
		cache:           deps.Cache,
		table:           deps.Cache.Table(),
		policies:        deps.Policies,
		positions:       deps.Positions,
		wallets:         deps.Wallets,
		leverage:        deps.Leverage,
		defaultLeverage: valuation.EffectiveLeverage(decimal.NewFromInt(defaultLeverage)),
	}
}

// GetQuote returns the current quote for symbol with the policy spread applied.
// Symbols outside the catalog fail with instruments.ErrUnknownSymbol.
func (e *Engine) GetQuote(ctx context.Context, symbol string) (marketdata.Quote, error) {
	q, err := e.cache.Get(symbol)
	if err != nil {
		return marketdata.Quote{}, err
	}
	if e.policies == nil {
		return q, nil
	}
	if pol := e.policies.Policy(ctx); pol != nil {
		q = pol.ApplySpread(q)
	}
	return q, nil
}

func (e *Engine) GetQuotes(ctx context.Context, symbols []string) ([]marketdata.Quote, error) {
	out := make([]marketdata.Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := e.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (e *Engine) ListAvailableSymbols() []string {
	return e.table.Symbols()
}

func (e *Engine) Table() *instruments.Table {
	return e.table
}

func (e *Engine) accountLeverage(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if e.leverage == nil {
		return e.defaultLeverage, nil
	}
	n, err := e.leverage.AccountLeverage(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("leverage: %w", err)
	}
	if n <= 0 {
		return e.defaultLeverage, nil
	}
	return decimal.NewFromInt(n), nil
}

// ValuePositions values every open position of the account. Positions that cannot be
// valued are returned as exclusions.
func (e *Engine) ValuePositions(ctx context.Context, accountID string) (risk.Portfolio, error) {
	positions, err := e.positions.ListOpenPositionsByAccount(ctx, accountID)
	if err != nil {
		return risk.Portfolio{}, fmt.Errorf("positions: %w", err)
	}
	lev, err := e.accountLeverage(ctx, accountID)
	if err != nil {
		return risk.Portfolio{}, err
	}
	return risk.ValuePositions(ctx, positions, e, e.table, lev), nil
}

type AccountView struct {
	risk.AccountRisk
	Exclusions []risk.Exclusion `json:"exclusions"`
}

func (e *Engine) GetAccountRisk(ctx context.Context, accountID string) (AccountView, error) {
	balance, err := e.wallets.WalletBalance(ctx, accountID)
	if err != nil {
		return AccountView{}, fmt.Errorf("balance: %w", err)
	}
	pf, err := e.ValuePositions(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		AccountRisk: risk.Aggregate(accountID, balance, pf.Valuations),
		Exclusions:  pf.Exclusions,
	}, nil
}
