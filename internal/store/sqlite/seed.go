package sqlite

import (
	"context"
	"time"

	"lv-riskengine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// UpsertAccount creates or replaces a trading account.
func (s *Store) UpsertAccount(ctx context.Context, id string, balance decimal.Decimal, leverage int64) error {
	now := time.Now().UTC()
	row := accountModel{ID: id, Leverage: leverage, Balance: balance, CreatedAt: now, UpdatedAt: now}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"leverage", "balance", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) InsertPosition(ctx context.Context, p model.Position) error {
	row := positionRow(p)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) InsertPendingOrder(ctx context.Context, o model.PendingOrder) error {
	row := orderRow(o)
	return s.db.WithContext(ctx).Create(&row).Error
}
