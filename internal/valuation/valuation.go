package valuation

import (
	"errors"
	"fmt"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

var ErrInconsistentPosition = errors.New("inconsistent position")

const DefaultLeverage = 100

type Valuation struct {
	PositionID  string          `json:"position_id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        types.Side      `json:"side"`
	Volume      decimal.Decimal `json:"volume"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	FloatingPnL decimal.Decimal `json:"floating_pnl"`
	Margin      decimal.Decimal `json:"margin"`
	Exposure    decimal.Decimal `json:"exposure"`
	Synthetic   bool            `json:"synthetic"`
}

func inconsistent(pos model.Position, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInconsistentPosition, pos.ID, reason)
}

// Validate checks the fields valuation depends on.
func Validate(pos model.Position) error {
	switch {
	case !pos.Side.Valid():
		return inconsistent(pos, "unknown side "+string(pos.Side))
	case !pos.Volume.GreaterThan(decimal.Zero):
		return inconsistent(pos, "volume must be positive")
	case !pos.EntryPrice.GreaterThan(decimal.Zero):
		return inconsistent(pos, "entry price must be positive")
	case !pos.IsOpen():
		return inconsistent(pos, "status "+string(pos.Status))
	}
	return nil
}

// MarkPrice is the price a position would close at: bid for long, ask for short.
func MarkPrice(side types.Side, q marketdata.Quote) decimal.Decimal {
	if side == types.SideShort {
		return q.Ask
	}
	return q.Bid
}

// EntryPrice is the price a new position opens at: ask for long, bid for short.
func EntryPrice(side types.Side, q marketdata.Quote) decimal.Decimal {
	if side == types.SideShort {
		return q.Bid
	}
	return q.Ask
}

// PnL is (exit - entry) * contractSize * volume, sign-flipped for shorts.
func PnL(side types.Side, entry, exit, volume, contractSize decimal.Decimal) decimal.Decimal {
	return exit.Sub(entry).Mul(contractSize).Mul(volume).Mul(decimal.NewFromInt(side.Sign()))
}

func EffectiveLeverage(leverage decimal.Decimal) decimal.Decimal {
	if !leverage.GreaterThan(decimal.Zero) {
		return decimal.NewFromInt(DefaultLeverage)
	}
	return leverage
}

// Margin is entry * contractSize * volume / leverage.
func Margin(entry, volume, contractSize, leverage decimal.Decimal) decimal.Decimal {
	return entry.Mul(contractSize).Mul(volume).Div(EffectiveLeverage(leverage))
}

// Notional is price * contractSize * volume.
func Notional(price, volume, contractSize decimal.Decimal) decimal.Decimal {
	return price.Mul(contractSize).Mul(volume)
}

// Valuate computes floating figures for an open position against the current quote.
func Valuate(pos model.Position, q marketdata.Quote, spec instruments.Spec, leverage decimal.Decimal) (Valuation, error) {
	if err := Validate(pos); err != nil {
		return Valuation{}, err
	}
	if instruments.Normalize(q.Symbol) != instruments.Normalize(pos.Symbol) {
		return Valuation{}, inconsistent(pos, "quote symbol "+q.Symbol+" does not match "+pos.Symbol)
	}
	mark := MarkPrice(pos.Side, q)
	return Valuation{
		PositionID:  pos.ID,
		AccountID:   pos.AccountID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Volume:      pos.Volume,
		EntryPrice:  pos.EntryPrice,
		MarkPrice:   mark,
		FloatingPnL: PnL(pos.Side, pos.EntryPrice, mark, pos.Volume, spec.ContractSize),
		Margin:      Margin(pos.EntryPrice, pos.Volume, spec.ContractSize, leverage),
		Exposure:    Notional(mark, pos.Volume, spec.ContractSize),
		Synthetic:   q.IsSynthetic(),
	}, nil
}
