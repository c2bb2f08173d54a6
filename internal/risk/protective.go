package risk

import (
	"fmt"
	"strings"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"
	"lv-riskengine/internal/valuation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TieBreak picks the winning reason when one quote crosses both stop-loss and take-profit.
type TieBreak string

const (
	TieBreakStopLoss   TieBreak = "stop_loss"
	TieBreakTakeProfit TieBreak = "take_profit"
)

func ParseTieBreak(v string) (TieBreak, error) {
	switch tb := TieBreak(strings.ToLower(strings.TrimSpace(v))); tb {
	case "", TieBreakStopLoss:
		return TieBreakStopLoss, nil
	case TieBreakTakeProfit:
		return tb, nil
	}
	return "", fmt.Errorf("unknown tie break %q", v)
}

type ProtectiveEvaluator struct {
	TieBreak TieBreak
}

// Evaluate checks stop-loss and take-profit against the close-side price
// (bid for long, ask for short). Only open or partially closed positions trigger.
func (e ProtectiveEvaluator) Evaluate(pos model.Position, q marketdata.Quote, spec instruments.Spec) (model.CloseInstruction, bool) {
	if !pos.IsOpen() || instruments.Normalize(q.Symbol) != instruments.Normalize(pos.Symbol) {
		return model.CloseInstruction{}, false
	}
	price := valuation.MarkPrice(pos.Side, q)
	if !price.GreaterThan(decimal.Zero) {
		return model.CloseInstruction{}, false
	}
	slHit, tpHit := protectiveHits(pos, price)

	var reason types.CloseReason
	switch {
	case slHit && tpHit:
		reason = types.CloseReasonStopLoss
		if e.TieBreak == TieBreakTakeProfit {
			reason = types.CloseReasonTakeProfit
		}
	case slHit:
		reason = types.CloseReasonStopLoss
	case tpHit:
		reason = types.CloseReasonTakeProfit
	default:
		return model.CloseInstruction{}, false
	}
	return model.CloseInstruction{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		AccountID:   pos.AccountID,
		Symbol:      pos.Symbol,
		Reason:      reason,
		Volume:      pos.Volume,
		ClosePrice:  price,
		RealizedPnL: valuation.PnL(pos.Side, pos.EntryPrice, price, pos.Volume, spec.ContractSize),
		At:          q.ObservedAt,
	}, true
}

func protectiveHits(pos model.Position, price decimal.Decimal) (sl, tp bool) {
	if pos.Side == types.SideShort {
		sl = pos.StopLoss != nil && price.GreaterThanOrEqual(*pos.StopLoss)
		tp = pos.TakeProfit != nil && price.LessThanOrEqual(*pos.TakeProfit)
		return sl, tp
	}
	sl = pos.StopLoss != nil && price.LessThanOrEqual(*pos.StopLoss)
	tp = pos.TakeProfit != nil && price.GreaterThanOrEqual(*pos.TakeProfit)
	return sl, tp
}
