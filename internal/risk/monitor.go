package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lv-riskengine/internal/events"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/pricing"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"
	"lv-riskengine/internal/valuation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type MonitorConfig struct {
	TieBreak           TieBreak
	StopOutLevel       decimal.Decimal
	DefaultLeverage    decimal.Decimal
	TriggerOnSynthetic bool
}

// Policies resolves the pricing policy used to stamp fills with their charge.
type Policies interface {
	Policy(ctx context.Context) *pricing.Policy
}

type MonitorDeps struct {
	Positions store.PositionStore
	Orders    store.OrderStore
	Wallets   store.WalletStore
	Leverage  store.LeverageStore
	Quotes    Quotes
	Table     *instruments.Table
	Policies  Policies
	Publisher events.Publisher
}

// Report summarizes one monitor pass.
type Report struct {
	Fills     []model.FillInstruction
	Closes    []model.CloseInstruction
	StopOuts  int
	Conflicts int
	Errors    []error
}

func (r *Report) fail(err error) {
	r.Errors = append(r.Errors, err)
}

func (r Report) Empty() bool {
	return len(r.Fills) == 0 && len(r.Closes) == 0 && r.Conflicts == 0 && len(r.Errors) == 0
}

// Monitor turns quotes into fills, protective closes and stop-outs. Every state change
// goes through the store's compare-and-set, so concurrent monitors or manual closes
// resolve to one winner and the loser counts a conflict.
type Monitor struct {
	deps       MonitorDeps
	cfg        MonitorConfig
	protective ProtectiveEvaluator
	trigger    TriggerEvaluator
	log        *zap.Logger
	running    atomic.Bool
	skipped    atomic.Int64
}

func NewMonitor(deps MonitorDeps, cfg MonitorConfig, log *zap.Logger) *Monitor {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakStopLoss
	}
	cfg.DefaultLeverage = valuation.EffectiveLeverage(cfg.DefaultLeverage)
	return &Monitor{
		deps:       deps,
		cfg:        cfg,
		protective: ProtectiveEvaluator{TieBreak: cfg.TieBreak},
		log:        log.Named("monitor"),
	}
}

// Run ticks every interval until ctx is done. Ticks run off the timer goroutine; one
// that comes due while the previous tick is still running is skipped, not queued.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !m.running.CompareAndSwap(false, true) {
				m.skipped.Add(1)
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer m.running.Store(false)
				m.logReport(m.Tick(ctx))
			}()
		}
	}
}

// Skipped counts ticks dropped because the previous one had not finished.
func (m *Monitor) Skipped() int64 {
	return m.skipped.Load()
}

func (m *Monitor) logReport(rep Report) {
	if rep.Empty() {
		return
	}
	fields := []zap.Field{
		zap.Int("fills", len(rep.Fills)),
		zap.Int("closes", len(rep.Closes)),
		zap.Int("stop_outs", rep.StopOuts),
		zap.Int("conflicts", rep.Conflicts),
	}
	if len(rep.Errors) > 0 {
		m.log.Warn("monitor tick", append(fields, zap.Error(errors.Join(rep.Errors...)))...)
		return
	}
	m.log.Info("monitor tick", fields...)
}

// tick carries per-pass state.
type tick struct {
	rep      Report
	leverage map[string]decimal.Decimal
	policy   *pricing.Policy
}

// Tick runs one full pass: pending orders, then protective levels, then stop-out.
func (m *Monitor) Tick(ctx context.Context) Report {
	t := &tick{leverage: make(map[string]decimal.Decimal)}
	if m.deps.Policies != nil {
		t.policy = m.deps.Policies.Policy(ctx)
	}
	m.fillOrders(ctx, t)
	m.enforceProtection(ctx, t)
	m.enforceStopOut(ctx, t)
	return t.rep
}

func (m *Monitor) usable(q marketdata.Quote) bool {
	return m.cfg.TriggerOnSynthetic || !q.IsSynthetic()
}

func (m *Monitor) accountLeverage(ctx context.Context, t *tick, accountID string) decimal.Decimal {
	if lev, ok := t.leverage[accountID]; ok {
		return lev
	}
	lev := m.cfg.DefaultLeverage
	if m.deps.Leverage != nil {
		n, err := m.deps.Leverage.AccountLeverage(ctx, accountID)
		if err != nil {
			t.rep.fail(fmt.Errorf("leverage %s: %w", accountID, err))
		} else if n > 0 {
			lev = decimal.NewFromInt(n)
		}
	}
	t.leverage[accountID] = lev
	return lev
}

func (m *Monitor) fillOrders(ctx context.Context, t *tick) {
	orders, err := m.deps.Orders.ListPendingOrders(ctx)
	if err != nil {
		t.rep.fail(fmt.Errorf("list pending orders: %w", err))
		return
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		spec, ok := m.deps.Table.Lookup(o.Symbol)
		if !ok {
			t.rep.fail(fmt.Errorf("order %s: %w: %s", o.ID, instruments.ErrUnknownSymbol, o.Symbol))
			continue
		}
		q, err := m.deps.Quotes.GetQuote(ctx, o.Symbol)
		if err != nil {
			t.rep.fail(fmt.Errorf("order %s: %w", o.ID, err))
			continue
		}
		if !m.usable(q) {
			continue
		}
		fill, ok := m.trigger.Evaluate(o, q)
		if !ok {
			continue
		}
		if t.policy != nil {
			fill.Charge = t.policy.ResolveCharge(o.Symbol, fill.Volume, valuation.Notional(fill.FillPrice, fill.Volume, spec.ContractSize))
		}
		opened := OpenedPosition(fill, spec, m.accountLeverage(ctx, t, o.AccountID))
		if err := m.deps.Orders.FillOrder(ctx, o.ID, fill.FillPrice, opened); err != nil {
			if errors.Is(err, store.ErrConflict) {
				t.rep.Conflicts++
				continue
			}
			t.rep.fail(fmt.Errorf("fill order %s: %w", o.ID, err))
			continue
		}
		t.rep.Fills = append(t.rep.Fills, fill)
		m.publish(ctx, t, events.New(events.TypeOrderFilled, fill.AccountID, fill, fill.At))
	}
}

func (m *Monitor) enforceProtection(ctx context.Context, t *tick) {
	positions, err := m.deps.Positions.ListOpenPositions(ctx)
	if err != nil {
		t.rep.fail(fmt.Errorf("list open positions: %w", err))
		return
	}
	for _, p := range positions {
		if ctx.Err() != nil {
			return
		}
		if p.StopLoss == nil && p.TakeProfit == nil {
			continue
		}
		if err := valuation.Validate(p); err != nil {
			t.rep.fail(err)
			continue
		}
		spec, ok := m.deps.Table.Lookup(p.Symbol)
		if !ok {
			t.rep.fail(fmt.Errorf("position %s: %w: %s", p.ID, instruments.ErrUnknownSymbol, p.Symbol))
			continue
		}
		q, err := m.deps.Quotes.GetQuote(ctx, p.Symbol)
		if err != nil {
			t.rep.fail(fmt.Errorf("position %s: %w", p.ID, err))
			continue
		}
		if !m.usable(q) {
			continue
		}
		if instr, ok := m.protective.Evaluate(p, q, spec); ok {
			m.close(ctx, t, instr)
		}
	}
}

// close applies a close instruction. It reports whether this pass won the transition.
func (m *Monitor) close(ctx context.Context, t *tick, instr model.CloseInstruction) bool {
	err := m.deps.Positions.TransitionPosition(ctx, instr.PositionID, types.PositionStatusClosed, instr.ClosePrice, instr.RealizedPnL)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			t.rep.Conflicts++
			return false
		}
		t.rep.fail(fmt.Errorf("close position %s: %w", instr.PositionID, err))
		return false
	}
	t.rep.Closes = append(t.rep.Closes, instr)
	typ := events.TypePositionClosed
	if instr.Reason == types.CloseReasonStopOut {
		typ = events.TypeStopOut
	}
	m.publish(ctx, t, events.New(typ, instr.AccountID, instr, instr.At))
	return true
}

func (m *Monitor) publish(ctx context.Context, t *tick, evt events.Event) {
	if err := m.deps.Publisher.Publish(ctx, evt); err != nil {
		t.rep.fail(fmt.Errorf("publish %s: %w", evt.Type, err))
	}
}

func (m *Monitor) enforceStopOut(ctx context.Context, t *tick) {
	if !m.cfg.StopOutLevel.GreaterThan(decimal.Zero) || m.deps.Wallets == nil {
		return
	}
	positions, err := m.deps.Positions.ListOpenPositions(ctx)
	if err != nil {
		t.rep.fail(fmt.Errorf("list open positions: %w", err))
		return
	}
	byAccount := make(map[string][]model.Position)
	for _, p := range positions {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	for _, id := range accounts {
		if ctx.Err() != nil {
			return
		}
		m.stopOutAccount(ctx, t, id, byAccount[id])
	}
}

func (m *Monitor) breached(r AccountRisk) bool {
	return r.UsedMargin.GreaterThan(decimal.Zero) && r.MarginLevel.LessThanOrEqual(m.cfg.StopOutLevel)
}

// stopOutAccount closes losing positions worst first until the margin level recovers
// above the stop-out level or no margin is used. Realized losses move from floating
// P&L into the balance, so equity stays put while used margin shrinks.
func (m *Monitor) stopOutAccount(ctx context.Context, t *tick, accountID string, positions []model.Position) {
	balance, err := m.deps.Wallets.WalletBalance(ctx, accountID)
	if err != nil {
		t.rep.fail(fmt.Errorf("balance %s: %w", accountID, err))
		return
	}
	pf := ValuePositions(ctx, positions, m.deps.Quotes, m.deps.Table, m.accountLeverage(ctx, t, accountID))
	for _, ex := range pf.Exclusions {
		t.rep.fail(fmt.Errorf("stop-out %s: position %s: %s", accountID, ex.PositionID, ex.Reason))
	}
	acct := Aggregate(accountID, balance, pf.Valuations)
	if !m.breached(acct) {
		return
	}
	m.log.Warn("stop-out",
		zap.String("account_id", accountID),
		zap.String("equity", instruments.FormatMoney(acct.Equity)),
		zap.String("used_margin", instruments.FormatMoney(acct.UsedMargin)),
		zap.String("margin_level", acct.MarginLevel.StringFixed(2)),
	)

	losing := make([]valuation.Valuation, 0, len(pf.Valuations))
	for _, v := range pf.Valuations {
		if v.FloatingPnL.IsNegative() && (m.cfg.TriggerOnSynthetic || !v.Synthetic) {
			losing = append(losing, v)
		}
	}
	sort.SliceStable(losing, func(i, j int) bool {
		if c := losing[i].FloatingPnL.Cmp(losing[j].FloatingPnL); c != 0 {
			return c < 0
		}
		return losing[i].PositionID < losing[j].PositionID
	})

	remaining := pf.Valuations
	at := time.Now().UTC()
	for _, v := range losing {
		instr := model.CloseInstruction{
			ID:          uuid.NewString(),
			PositionID:  v.PositionID,
			AccountID:   accountID,
			Symbol:      v.Symbol,
			Reason:      types.CloseReasonStopOut,
			Volume:      v.Volume,
			ClosePrice:  v.MarkPrice,
			RealizedPnL: v.FloatingPnL,
			At:          at,
		}
		if m.close(ctx, t, instr) {
			t.rep.StopOuts++
			balance = balance.Add(v.FloatingPnL)
		}
		remaining = without(remaining, v.PositionID)
		if !m.breached(Aggregate(accountID, balance, remaining)) {
			return
		}
	}
}

func without(vals []valuation.Valuation, positionID string) []valuation.Valuation {
	out := make([]valuation.Valuation, 0, len(vals))
	for _, v := range vals {
		if v.PositionID != positionID {
			out = append(out, v)
		}
	}
	return out
}
