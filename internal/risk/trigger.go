package risk

import (
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"
	"lv-riskengine/internal/valuation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TriggerEvaluator struct{}

// Evaluate fills a pending order once the quote reaches its trigger. Buy orders
// compare and fill on the ask, sell orders on the bid. The fill price is the current
// quote, not the trigger, so a gap through the trigger fills at the gapped price.
func (TriggerEvaluator) Evaluate(o model.PendingOrder, q marketdata.Quote) (model.FillInstruction, bool) {
	if o.Status != types.OrderStatusPending || instruments.Normalize(q.Symbol) != instruments.Normalize(o.Symbol) {
		return model.FillInstruction{}, false
	}
	if !o.TriggerPrice.GreaterThan(decimal.Zero) || !o.Volume.GreaterThan(decimal.Zero) {
		return model.FillInstruction{}, false
	}
	var (
		price decimal.Decimal
		hit   bool
	)
	switch o.Type {
	case types.OrderTypeBuyLimit:
		price, hit = q.Ask, q.Ask.LessThanOrEqual(o.TriggerPrice)
	case types.OrderTypeSellLimit:
		price, hit = q.Bid, q.Bid.GreaterThanOrEqual(o.TriggerPrice)
	case types.OrderTypeBuyStop:
		price, hit = q.Ask, q.Ask.GreaterThanOrEqual(o.TriggerPrice)
	case types.OrderTypeSellStop:
		price, hit = q.Bid, q.Bid.LessThanOrEqual(o.TriggerPrice)
	}
	if !hit || !price.GreaterThan(decimal.Zero) {
		return model.FillInstruction{}, false
	}
	return model.FillInstruction{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		Symbol:     o.Symbol,
		Side:       o.Type.Side(),
		Volume:     o.Volume,
		FillPrice:  price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		At:         q.ObservedAt,
	}, true
}

// OpenedPosition builds the position a fill creates.
func OpenedPosition(f model.FillInstruction, spec instruments.Spec, leverage decimal.Decimal) model.Position {
	return model.Position{
		ID:         uuid.NewString(),
		AccountID:  f.AccountID,
		Symbol:     f.Symbol,
		Side:       f.Side,
		Volume:     f.Volume,
		EntryPrice: f.FillPrice,
		StopLoss:   f.StopLoss,
		TakeProfit: f.TakeProfit,
		Margin:     valuation.Margin(f.FillPrice, f.Volume, spec.ContractSize, leverage),
		Status:     types.PositionStatusOpen,
		OpenedAt:   f.At,
	}
}
