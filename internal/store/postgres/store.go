package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"lv-riskengine/internal/model"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const positionColumns = `id, account_id, symbol, side, volume, entry_price, stop_loss, take_profit,
	margin, status, opened_at, closed_at, close_price, realized_pnl`

const orderColumns = `id, account_id, symbol, type, volume, trigger_price, stop_loss, take_profit,
	status, created_at, filled_at, fill_price`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates missing tables. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// inTx runs fn in a serializable transaction. A serialization failure means another
// writer touched the same rows first, which callers see as ErrConflict.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		if isSerializationFailure(err) {
			return store.ErrConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func nullable(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var (
		p                       model.Position
		side, status            string
		sl, tp, closePrice, pnl decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.Symbol, &side, &p.Volume, &p.EntryPrice, &sl, &tp,
		&p.Margin, &status, &p.OpenedAt, &p.ClosedAt, &closePrice, &pnl)
	if err != nil {
		return model.Position{}, err
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	p.StopLoss = nullable(sl)
	p.TakeProfit = nullable(tp)
	p.ClosePrice = nullable(closePrice)
	p.RealizedPnL = nullable(pnl)
	return p, nil
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.queryPositions(ctx, `select `+positionColumns+`
		from positions
		where status in ('open', 'partially_closed')
		order by opened_at, id`)
}

func (s *Store) ListOpenPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.queryPositions(ctx, `select `+positionColumns+`
		from positions
		where account_id = $1 and status in ('open', 'partially_closed')
		order by opened_at, id`, accountID)
}

// lockOpenPosition locks the row and fails with ErrConflict unless it is still open.
func lockOpenPosition(ctx context.Context, tx pgx.Tx, id string) (string, error) {
	var accountID, status string
	err := tx.QueryRow(ctx, "select account_id, status from positions where id = $1 for update", id).Scan(&accountID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !types.PositionStatus(status).Active() {
		return "", store.ErrConflict
	}
	return accountID, nil
}

func creditBalance(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	_, err := tx.Exec(ctx, "update trading_accounts set balance = balance + $1, updated_at = now() where id = $2", amount, accountID)
	return err
}

func (s *Store) TransitionPosition(ctx context.Context, id string, status types.PositionStatus, closePrice, realizedPnL decimal.Decimal) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		accountID, err := lockOpenPosition(ctx, tx, id)
		if err != nil {
			return err
		}
		var closedAt *time.Time
		if status == types.PositionStatusClosed {
			now := time.Now().UTC()
			closedAt = &now
		}
		_, err = tx.Exec(ctx, `update positions
			set status = $1, close_price = $2,
				realized_pnl = coalesce(realized_pnl, 0) + $3, closed_at = $4
			where id = $5`, string(status), closePrice, realizedPnL, closedAt, id)
		if err != nil {
			return err
		}
		return creditBalance(ctx, tx, accountID, realizedPnL)
	})
}

func (s *Store) ReducePosition(ctx context.Context, residual model.Position, realizedPnL decimal.Decimal) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		accountID, err := lockOpenPosition(ctx, tx, residual.ID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `update positions
			set volume = $1, entry_price = $2, margin = $3, status = $4,
				realized_pnl = coalesce(realized_pnl, 0) + $5
			where id = $6`,
			residual.Volume, residual.EntryPrice, residual.Margin, string(types.PositionStatusPartiallyClosed), realizedPnL, residual.ID)
		if err != nil {
			return err
		}
		return creditBalance(ctx, tx, accountID, realizedPnL)
	})
}

func (s *Store) ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	rows, err := s.pool.Query(ctx, `select `+orderColumns+`
		from pending_orders
		where status = 'pending'
		order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PendingOrder
	for rows.Next() {
		var (
			o                 model.PendingOrder
			typ, status       string
			sl, tp, fillPrice decimal.NullDecimal
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &typ, &o.Volume, &o.TriggerPrice, &sl, &tp,
			&status, &o.CreatedAt, &o.FilledAt, &fillPrice); err != nil {
			return nil, err
		}
		o.Type = types.OrderType(typ)
		o.Status = types.OrderStatus(status)
		o.StopLoss = nullable(sl)
		o.TakeProfit = nullable(tp)
		o.FillPrice = nullable(fillPrice)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) FillOrder(ctx context.Context, id string, fillPrice decimal.Decimal, opened model.Position) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, "select status from pending_orders where id = $1 for update", id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if types.OrderStatus(status) != types.OrderStatusPending {
			return store.ErrConflict
		}
		if _, err := tx.Exec(ctx, `update pending_orders
			set status = $1, fill_price = $2, filled_at = $3
			where id = $4`, string(types.OrderStatusFilled), fillPrice, opened.OpenedAt, id); err != nil {
			return err
		}
		return insertPosition(ctx, tx, opened)
	})
}

func insertPosition(ctx context.Context, tx pgx.Tx, p model.Position) error {
	_, err := tx.Exec(ctx, `insert into positions
		(id, account_id, symbol, side, volume, entry_price, stop_loss, take_profit, margin, status, opened_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.AccountID, p.Symbol, string(p.Side), p.Volume, p.EntryPrice, p.StopLoss, p.TakeProfit,
		p.Margin, string(p.Status), p.OpenedAt)
	return err
}

func (s *Store) WalletBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, "select balance from trading_accounts where id = $1", accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, store.ErrNotFound
	}
	return balance, err
}

func (s *Store) AccountLeverage(ctx context.Context, accountID string) (int64, error) {
	var lev int64
	err := s.pool.QueryRow(ctx, "select coalesce(leverage, 0) from trading_accounts where id = $1", accountID).Scan(&lev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	return lev, err
}

var _ store.Store = (*Store)(nil)
