package pricing

import (
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Policy resolves spread and charge for a symbol from one config snapshot.
// Resolution order: enabled instrument rule, enabled segment rule, global rule.
type Policy struct {
	cfg      Config
	table    *instruments.Table
	bySymbol map[string]Rule
	byClass  map[types.AssetClass]Rule
}

func NewPolicy(cfg Config, table *instruments.Table) *Policy {
	cfg = Normalize(cfg)
	p := &Policy{
		cfg:      cfg,
		table:    table,
		bySymbol: make(map[string]Rule, len(cfg.Instruments)),
		byClass:  make(map[types.AssetClass]Rule, len(cfg.Segments)),
	}
	for _, i := range cfg.Instruments {
		if i.Enabled {
			p.bySymbol[i.Symbol] = i.Rule
		}
	}
	for _, s := range cfg.Segments {
		if s.Enabled {
			p.byClass[s.AssetClass] = s.Rule
		}
	}
	return p
}

func (p *Policy) Config() Config {
	return p.cfg
}

func (p *Policy) Rule(symbol string) Rule {
	symbol = instruments.Normalize(symbol)
	if r, ok := p.bySymbol[symbol]; ok {
		return r
	}
	if spec, ok := p.table.Lookup(symbol); ok {
		if r, ok := p.byClass[spec.AssetClass]; ok {
			return r
		}
	}
	return p.cfg.Global
}

// ResolveSpread returns the configured spread in pips.
func (p *Policy) ResolveSpread(symbol string) decimal.Decimal {
	return p.Rule(symbol).SpreadPips
}

// ResolveCharge returns the commission for an execution of volume lots with the given notional.
func (p *Policy) ResolveCharge(symbol string, volume, notional decimal.Decimal) decimal.Decimal {
	r := p.Rule(symbol)
	var amount decimal.Decimal
	switch r.ChargeMode {
	case types.ChargeModePerExecution:
		amount = r.ChargeAmount
	case types.ChargeModePercentage:
		amount = r.ChargeAmount.Div(hundred).Mul(notional.Abs())
	default:
		amount = r.ChargeAmount.Mul(volume.Abs())
	}
	if amount.LessThan(r.MinCharge) {
		amount = r.MinCharge
	}
	if r.MaxCharge.GreaterThan(decimal.Zero) && amount.GreaterThan(r.MaxCharge) {
		amount = r.MaxCharge
	}
	return amount
}

// ApplySpread widens q around its mid to the configured spread. Quotes already at
// least that wide, and symbols with no configured spread, pass through unchanged.
func (p *Policy) ApplySpread(q marketdata.Quote) marketdata.Quote {
	pips := p.ResolveSpread(q.Symbol)
	if !pips.GreaterThan(decimal.Zero) {
		return q
	}
	spec, ok := p.table.Lookup(q.Symbol)
	if !ok {
		return q
	}
	target := pips.Mul(spec.PipSize())
	if q.Spread.GreaterThanOrEqual(target) {
		return q
	}
	return marketdata.Around(q.Symbol, q.Mid(), target, q.Source, q.ObservedAt)
}
