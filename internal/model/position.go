package model

import (
	"time"

	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID          string               `json:"id"`
	AccountID   string               `json:"account_id"`
	Symbol      string               `json:"symbol"`
	Side        types.Side           `json:"side"`
	Volume      decimal.Decimal      `json:"volume"`
	EntryPrice  decimal.Decimal      `json:"entry_price"`
	StopLoss    *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal     `json:"take_profit,omitempty"`
	Margin      decimal.Decimal      `json:"margin"`
	Status      types.PositionStatus `json:"status"`
	OpenedAt    time.Time            `json:"opened_at"`
	ClosedAt    *time.Time           `json:"closed_at,omitempty"`
	ClosePrice  *decimal.Decimal     `json:"close_price,omitempty"`
	RealizedPnL *decimal.Decimal     `json:"realized_pnl,omitempty"`
}

func (p Position) IsOpen() bool {
	return p.Status.Active()
}

type PendingOrder struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Symbol       string            `json:"symbol"`
	Type         types.OrderType   `json:"type"`
	Volume       decimal.Decimal   `json:"volume"`
	TriggerPrice decimal.Decimal   `json:"trigger_price"`
	StopLoss     *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal  `json:"take_profit,omitempty"`
	Status       types.OrderStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	FilledAt     *time.Time        `json:"filled_at,omitempty"`
	FillPrice    *decimal.Decimal  `json:"fill_price,omitempty"`
}
