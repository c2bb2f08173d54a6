package instruments

import (
	"context"
	"errors"

	"lv-riskengine/internal/types"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore reads instrument overrides from the trading_pairs table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Load(ctx context.Context) ([]Spec, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		select
			symbol, coalesce(asset_class, ''), coalesce(contract_size, 0),
			coalesce(pip_precision, 0), coalesce(price_precision, 0),
			coalesce(reference_mid, 0), coalesce(reference_spread, 0)
		from trading_pairs
		where status = 'active'
		order by symbol
	`)
	if err != nil {
		if isUndefinedTableError(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []Spec
	for rows.Next() {
		var (
			s     Spec
			class string
			cs    decimal.Decimal
			mid   decimal.Decimal
			sprd  decimal.Decimal
		)
		if err := rows.Scan(&s.Symbol, &class, &cs, &s.PipDecimalPlaces, &s.PriceDecimalPlaces, &mid, &sprd); err != nil {
			return nil, err
		}
		if c, ok := types.ParseAssetClass(class); ok {
			s.AssetClass = c
		}
		s.ContractSize = cs
		s.ReferenceMid = mid
		s.ReferenceSpread = sprd
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
