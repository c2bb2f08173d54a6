package model

import (
	"time"

	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

// CloseInstruction asks the store to move a position to closed at ClosePrice.
type CloseInstruction struct {
	ID          string            `json:"id"`
	PositionID  string            `json:"position_id"`
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Reason      types.CloseReason `json:"reason"`
	Volume      decimal.Decimal   `json:"volume"`
	ClosePrice  decimal.Decimal   `json:"close_price"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`
	At          time.Time         `json:"at"`
}

// FillInstruction asks the store to fill a pending order at FillPrice.
type FillInstruction struct {
	ID         string           `json:"id"`
	OrderID    string           `json:"order_id"`
	AccountID  string           `json:"account_id"`
	Symbol     string           `json:"symbol"`
	Side       types.Side       `json:"side"`
	Volume     decimal.Decimal  `json:"volume"`
	FillPrice  decimal.Decimal  `json:"fill_price"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Charge     decimal.Decimal  `json:"charge"`
	At         time.Time        `json:"at"`
}
