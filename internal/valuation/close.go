package valuation

import (
	"fmt"
	"strings"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

// PartialClosePolicy decides what happens to the entry price of the remainder.
type PartialClosePolicy string

const (
	// PolicyRetainEntry keeps the original entry on the residual position.
	PolicyRetainEntry PartialClosePolicy = "retain"
	// PolicyRebaseEntry moves the residual entry to the close price and realizes
	// the residual's accrued P&L along with the closed portion.
	PolicyRebaseEntry PartialClosePolicy = "rebase"
)

func ParsePartialClosePolicy(v string) (PartialClosePolicy, error) {
	switch p := PartialClosePolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", PolicyRetainEntry:
		return PolicyRetainEntry, nil
	case PolicyRebaseEntry:
		return p, nil
	}
	return "", fmt.Errorf("unknown partial close policy %q", v)
}

type PartialCloseResult struct {
	ClosedVolume decimal.Decimal `json:"closed_volume"`
	ClosePrice   decimal.Decimal `json:"close_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Residual     model.Position  `json:"residual"`
	FullyClosed  bool            `json:"fully_closed"`
}

// RealizedPnL is the P&L of closing the whole position at closePrice.
func RealizedPnL(pos model.Position, closePrice decimal.Decimal, spec instruments.Spec) (decimal.Decimal, error) {
	if err := Validate(pos); err != nil {
		return decimal.Zero, err
	}
	if !closePrice.GreaterThan(decimal.Zero) {
		return decimal.Zero, inconsistent(pos, "close price must be positive")
	}
	return PnL(pos.Side, pos.EntryPrice, closePrice, pos.Volume, spec.ContractSize), nil
}

// PartialClose closes volume lots of pos at closePrice. Closing the full volume
// yields a closed residual carrying the realized figures.
func PartialClose(pos model.Position, volume, closePrice decimal.Decimal, spec instruments.Spec, policy PartialClosePolicy, leverage decimal.Decimal) (PartialCloseResult, error) {
	if err := Validate(pos); err != nil {
		return PartialCloseResult{}, err
	}
	if !volume.GreaterThan(decimal.Zero) || volume.GreaterThan(pos.Volume) {
		return PartialCloseResult{}, inconsistent(pos, fmt.Sprintf("close volume %s outside (0, %s]", volume, pos.Volume))
	}
	if !closePrice.GreaterThan(decimal.Zero) {
		return PartialCloseResult{}, inconsistent(pos, "close price must be positive")
	}

	res := PartialCloseResult{
		ClosedVolume: volume,
		ClosePrice:   closePrice,
		RealizedPnL:  PnL(pos.Side, pos.EntryPrice, closePrice, volume, spec.ContractSize),
	}
	residual := pos
	residual.Volume = pos.Volume.Sub(volume)

	if residual.Volume.IsZero() {
		res.FullyClosed = true
		realized := res.RealizedPnL
		price := closePrice
		residual.Status = types.PositionStatusClosed
		residual.ClosePrice = &price
		residual.RealizedPnL = &realized
		residual.Margin = decimal.Zero
		res.Residual = residual
		return res, nil
	}

	if policy == PolicyRebaseEntry {
		accrued := PnL(pos.Side, pos.EntryPrice, closePrice, residual.Volume, spec.ContractSize)
		res.RealizedPnL = res.RealizedPnL.Add(accrued)
		residual.EntryPrice = closePrice
	}
	residual.Status = types.PositionStatusPartiallyClosed
	residual.Margin = Margin(residual.EntryPrice, residual.Volume, spec.ContractSize, leverage)
	res.Residual = residual
	return res, nil
}
