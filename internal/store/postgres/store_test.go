package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"lv-riskengine/internal/db"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a disposable database in RISKENGINE_TEST_DSN.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RISKENGINE_TEST_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("RISKENGINE_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	s := New(pool)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedAccount(t *testing.T, s *Store, balance string, leverage int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := s.pool.Exec(context.Background(),
		"insert into trading_accounts (id, leverage, balance) values ($1, $2, $3)",
		id, leverage, decimal.RequireFromString(balance))
	require.NoError(t, err)
	return id
}

func TestTransitionPositionIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, "1000", 200)

	p := model.Position{
		ID:         uuid.NewString(),
		AccountID:  acct,
		Symbol:     "EURUSD",
		Side:       types.SideLong,
		Volume:     decimal.NewFromInt(1),
		EntryPrice: decimal.RequireFromString("1.045"),
		Margin:     decimal.RequireFromString("522.5"),
		Status:     types.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.inTx(ctx, func(tx pgx.Tx) error { return insertPosition(ctx, tx, p) }))

	open, err := s.ListOpenPositionsByAccount(ctx, acct)
	require.NoError(t, err)
	require.Len(t, open, 1)

	pnl := decimal.NewFromInt(-510)
	require.NoError(t, s.TransitionPosition(ctx, p.ID, types.PositionStatusClosed, decimal.RequireFromString("1.0399"), pnl))
	err = s.TransitionPosition(ctx, p.ID, types.PositionStatusClosed, decimal.RequireFromString("1.05"), decimal.NewFromInt(50))
	assert.ErrorIs(t, err, store.ErrConflict)

	balance, err := s.WalletBalance(ctx, acct)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(490).Equal(balance), balance.String())

	lev, err := s.AccountLeverage(ctx, acct)
	require.NoError(t, err)
	assert.EqualValues(t, 200, lev)

	_, err = s.WalletBalance(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFillOrderOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, "1000", 0)

	orderID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `insert into pending_orders (id, account_id, symbol, type, volume, trigger_price)
		values ($1, $2, 'EURUSD', 'buy_stop', 0.5, 1.05)`, orderID, acct)
	require.NoError(t, err)

	fill := decimal.RequireFromString("1.0501")
	opened := model.Position{
		ID: uuid.NewString(), AccountID: acct, Symbol: "EURUSD", Side: types.SideLong,
		Volume: decimal.RequireFromString("0.5"), EntryPrice: fill, Margin: decimal.RequireFromString("525.05"),
		Status: types.PositionStatusOpen, OpenedAt: time.Now().UTC(),
	}
	require.NoError(t, s.FillOrder(ctx, orderID, fill, opened))

	opened.ID = uuid.NewString()
	assert.ErrorIs(t, s.FillOrder(ctx, orderID, fill, opened), store.ErrConflict)

	pending, err := s.ListPendingOrders(ctx)
	require.NoError(t, err)
	for _, o := range pending {
		assert.NotEqual(t, orderID, o.ID)
	}
	open, err := s.ListOpenPositionsByAccount(ctx, acct)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, fill.Equal(open[0].EntryPrice))
}
