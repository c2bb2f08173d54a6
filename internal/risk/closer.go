package risk

import (
	"context"
	"errors"
	"fmt"

	"lv-riskengine/internal/events"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"
	"lv-riskengine/internal/valuation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPositionNotFound = errors.New("position not found")

type CloserDeps struct {
	Positions store.PositionStore
	Leverage  store.LeverageStore
	Quotes    Quotes
	Table     *instruments.Table
	Publisher events.Publisher
}

// Closer executes manual closes, whole or partial, at the current close-side price.
type Closer struct {
	deps            CloserDeps
	policy          valuation.PartialClosePolicy
	defaultLeverage decimal.Decimal
	log             *zap.Logger
}

func NewCloser(deps CloserDeps, policy valuation.PartialClosePolicy, defaultLeverage decimal.Decimal, log *zap.Logger) *Closer {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if policy == "" {
		policy = valuation.PolicyRetainEntry
	}
	return &Closer{
		deps:            deps,
		policy:          policy,
		defaultLeverage: valuation.EffectiveLeverage(defaultLeverage),
		log:             log.Named("closer"),
	}
}

func (c *Closer) find(ctx context.Context, accountID, positionID string) (model.Position, error) {
	positions, err := c.deps.Positions.ListOpenPositionsByAccount(ctx, accountID)
	if err != nil {
		return model.Position{}, err
	}
	for _, p := range positions {
		if p.ID == positionID {
			return p, nil
		}
	}
	return model.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
}

func (c *Closer) leverage(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if c.deps.Leverage == nil {
		return c.defaultLeverage, nil
	}
	n, err := c.deps.Leverage.AccountLeverage(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if n <= 0 {
		return c.defaultLeverage, nil
	}
	return decimal.NewFromInt(n), nil
}

// Close closes volume lots of the position; a zero volume closes all of it. A
// position closed concurrently surfaces as store.ErrConflict.
func (c *Closer) Close(ctx context.Context, accountID, positionID string, volume decimal.Decimal) (model.CloseInstruction, error) {
	pos, err := c.find(ctx, accountID, positionID)
	if err != nil {
		return model.CloseInstruction{}, err
	}
	spec, ok := c.deps.Table.Lookup(pos.Symbol)
	if !ok {
		return model.CloseInstruction{}, fmt.Errorf("%w: %s", instruments.ErrUnknownSymbol, pos.Symbol)
	}
	q, err := c.deps.Quotes.GetQuote(ctx, pos.Symbol)
	if err != nil {
		return model.CloseInstruction{}, err
	}
	if volume.IsZero() {
		volume = pos.Volume
	}
	lev, err := c.leverage(ctx, accountID)
	if err != nil {
		return model.CloseInstruction{}, err
	}
	res, err := valuation.PartialClose(pos, volume, valuation.MarkPrice(pos.Side, q), spec, c.policy, lev)
	if err != nil {
		return model.CloseInstruction{}, err
	}

	if res.FullyClosed {
		err = c.deps.Positions.TransitionPosition(ctx, pos.ID, types.PositionStatusClosed, res.ClosePrice, res.RealizedPnL)
	} else {
		err = c.deps.Positions.ReducePosition(ctx, res.Residual, res.RealizedPnL)
	}
	if err != nil {
		return model.CloseInstruction{}, err
	}
	instr := model.CloseInstruction{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		AccountID:   pos.AccountID,
		Symbol:      pos.Symbol,
		Reason:      types.CloseReasonManual,
		Volume:      res.ClosedVolume,
		ClosePrice:  res.ClosePrice,
		RealizedPnL: res.RealizedPnL,
		At:          q.ObservedAt,
	}
	// The store has committed; a failed publish is logged, not returned.
	if err := c.deps.Publisher.Publish(ctx, events.New(events.TypePositionClosed, instr.AccountID, instr, instr.At)); err != nil {
		c.log.Warn("publish manual close",
			zap.String("position_id", instr.PositionID),
			zap.String("account_id", instr.AccountID),
			zap.Error(err),
		)
	}
	return instr, nil
}
