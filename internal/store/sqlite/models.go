package sqlite

import (
	"time"

	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

// Decimals are stored as text so SQLite's numeric affinity never rounds them through REAL.

type accountModel struct {
	ID        string          `gorm:"primaryKey;type:text"`
	Leverage  int64           `gorm:"not null;default:0"`
	Balance   decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountModel) TableName() string { return "trading_accounts" }

type positionModel struct {
	ID          string           `gorm:"primaryKey;type:text"`
	AccountID   string           `gorm:"index;not null"`
	Symbol      string           `gorm:"not null"`
	Side        string           `gorm:"not null"`
	Volume      decimal.Decimal  `gorm:"type:text;not null"`
	EntryPrice  decimal.Decimal  `gorm:"type:text;not null"`
	StopLoss    *decimal.Decimal `gorm:"type:text"`
	TakeProfit  *decimal.Decimal `gorm:"type:text"`
	Margin      decimal.Decimal  `gorm:"type:text;not null"`
	Status      string           `gorm:"index;not null"`
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ClosePrice  *decimal.Decimal `gorm:"type:text"`
	RealizedPnL *decimal.Decimal `gorm:"column:realized_pnl;type:text"`
}

func (positionModel) TableName() string { return "positions" }

func (m positionModel) toPosition() model.Position {
	return model.Position{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Symbol:      m.Symbol,
		Side:        types.Side(m.Side),
		Volume:      m.Volume,
		EntryPrice:  m.EntryPrice,
		StopLoss:    m.StopLoss,
		TakeProfit:  m.TakeProfit,
		Margin:      m.Margin,
		Status:      types.PositionStatus(m.Status),
		OpenedAt:    m.OpenedAt,
		ClosedAt:    m.ClosedAt,
		ClosePrice:  m.ClosePrice,
		RealizedPnL: m.RealizedPnL,
	}
}

func positionRow(p model.Position) positionModel {
	return positionModel{
		ID:          p.ID,
		AccountID:   p.AccountID,
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		Volume:      p.Volume,
		EntryPrice:  p.EntryPrice,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		Margin:      p.Margin,
		Status:      string(p.Status),
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
		ClosePrice:  p.ClosePrice,
		RealizedPnL: p.RealizedPnL,
	}
}

type orderModel struct {
	ID           string           `gorm:"primaryKey;type:text"`
	AccountID    string           `gorm:"index;not null"`
	Symbol       string           `gorm:"not null"`
	Type         string           `gorm:"not null"`
	Volume       decimal.Decimal  `gorm:"type:text;not null"`
	TriggerPrice decimal.Decimal  `gorm:"type:text;not null"`
	StopLoss     *decimal.Decimal `gorm:"type:text"`
	TakeProfit   *decimal.Decimal `gorm:"type:text"`
	Status       string           `gorm:"index;not null"`
	CreatedAt    time.Time
	FilledAt     *time.Time
	FillPrice    *decimal.Decimal `gorm:"type:text"`
}

func (orderModel) TableName() string { return "pending_orders" }

func (m orderModel) toOrder() model.PendingOrder {
	return model.PendingOrder{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Symbol:       m.Symbol,
		Type:         types.OrderType(m.Type),
		Volume:       m.Volume,
		TriggerPrice: m.TriggerPrice,
		StopLoss:     m.StopLoss,
		TakeProfit:   m.TakeProfit,
		Status:       types.OrderStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		FilledAt:     m.FilledAt,
		FillPrice:    m.FillPrice,
	}
}

func orderRow(o model.PendingOrder) orderModel {
	return orderModel{
		ID:           o.ID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Type:         string(o.Type),
		Volume:       o.Volume,
		TriggerPrice: o.TriggerPrice,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		FilledAt:     o.FilledAt,
		FillPrice:    o.FillPrice,
	}
}
