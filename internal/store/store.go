package store

import (
	"context"
	"errors"

	"lv-riskengine/internal/model"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a compare-and-set transition lost: the entity was no longer in
	// the expected state. Callers treat it as already handled.
	ErrConflict = errors.New("state transition conflict")
)

type PositionStore interface {
	ListOpenPositions(ctx context.Context) ([]model.Position, error)
	ListOpenPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error)
	// TransitionPosition closes an open or partially closed position. It fails with
	// ErrConflict when the position is already closed.
	TransitionPosition(ctx context.Context, id string, status types.PositionStatus, closePrice, realizedPnL decimal.Decimal) error
	// ReducePosition persists the residual of a partial close.
	ReducePosition(ctx context.Context, residual model.Position, realizedPnL decimal.Decimal) error
}

type OrderStore interface {
	ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error)
	// FillOrder flips a pending order to filled and inserts the resulting position in
	// one transaction. ErrConflict when the order is no longer pending.
	FillOrder(ctx context.Context, id string, fillPrice decimal.Decimal, opened model.Position) error
}

type WalletStore interface {
	WalletBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

type LeverageStore interface {
	// AccountLeverage returns 0 when the account has no explicit leverage.
	AccountLeverage(ctx context.Context, accountID string) (int64, error)
}

type Store interface {
	PositionStore
	OrderStore
	WalletStore
	LeverageStore
	Ping(ctx context.Context) error
	Close()
}
