package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lv-riskengine/internal/model"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var openStatuses = []string{string(types.PositionStatusOpen), string(types.PositionStatusPartiallyClosed)}

// Store is the single-node store used in development and tests.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&accountModel{}, &positionModel{}, &orderModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.listPositions(s.db.WithContext(ctx).Where("status IN ?", openStatuses))
}

func (s *Store) ListOpenPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.listPositions(s.db.WithContext(ctx).Where("account_id = ? AND status IN ?", accountID, openStatuses))
}

func (s *Store) listPositions(q *gorm.DB) ([]model.Position, error) {
	var rows []positionModel
	if err := q.Order("opened_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPosition())
	}
	return out, nil
}

// missingOrConflict tells a lost compare-and-set apart from an unknown id.
func missingOrConflict(tx *gorm.DB, m any, id string) error {
	var n int64
	if err := tx.Model(m).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func credit(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	var acct accountModel
	if err := tx.Where("id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return tx.Model(&acct).Updates(map[string]any{
		"balance":    acct.Balance.Add(amount),
		"updated_at": time.Now().UTC(),
	}).Error
}

func (s *Store) TransitionPosition(ctx context.Context, id string, status types.PositionStatus, closePrice, realizedPnL decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur positionModel
		if err := tx.Where("id = ?", id).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		total := realizedPnL
		if cur.RealizedPnL != nil {
			total = total.Add(*cur.RealizedPnL)
		}
		updates := map[string]any{
			"status":       string(status),
			"close_price":  closePrice,
			"realized_pnl": total,
		}
		if status == types.PositionStatusClosed {
			updates["closed_at"] = time.Now().UTC()
		}
		res := tx.Model(&positionModel{}).Where("id = ? AND status IN ?", id, openStatuses).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, &positionModel{}, id)
		}
		return credit(tx, cur.AccountID, realizedPnL)
	})
}

func (s *Store) ReducePosition(ctx context.Context, residual model.Position, realizedPnL decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur positionModel
		if err := tx.Where("id = ?", residual.ID).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		total := realizedPnL
		if cur.RealizedPnL != nil {
			total = total.Add(*cur.RealizedPnL)
		}
		res := tx.Model(&positionModel{}).Where("id = ? AND status IN ?", residual.ID, openStatuses).Updates(map[string]any{
			"volume":       residual.Volume,
			"entry_price":  residual.EntryPrice,
			"margin":       residual.Margin,
			"status":       string(types.PositionStatusPartiallyClosed),
			"realized_pnl": total,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, &positionModel{}, residual.ID)
		}
		return credit(tx, cur.AccountID, realizedPnL)
	})
}

func (s *Store) ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	var rows []orderModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.OrderStatusPending)).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.PendingOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out, nil
}

func (s *Store) FillOrder(ctx context.Context, id string, fillPrice decimal.Decimal, opened model.Position) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderModel{}).
			Where("id = ? AND status = ?", id, string(types.OrderStatusPending)).
			Updates(map[string]any{
				"status":     string(types.OrderStatusFilled),
				"fill_price": fillPrice,
				"filled_at":  opened.OpenedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, &orderModel{}, id)
		}
		row := positionRow(opened)
		return tx.Create(&row).Error
	})
}

func (s *Store) WalletBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var acct accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, store.ErrNotFound
		}
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

func (s *Store) AccountLeverage(ctx context.Context, accountID string) (int64, error) {
	var acct accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return acct.Leverage, nil
}

var _ store.Store = (*Store)(nil)
