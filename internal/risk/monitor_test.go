package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lv-riskengine/internal/events"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/pricing"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu        sync.Mutex
	positions map[string]*model.Position
	orders    map[string]*model.PendingOrder
	balances  map[string]decimal.Decimal
	leverage  map[string]int64
	// closedElsewhere positions report a lost compare-and-set.
	closedElsewhere map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		positions:       make(map[string]*model.Position),
		orders:          make(map[string]*model.PendingOrder),
		balances:        make(map[string]decimal.Decimal),
		leverage:        make(map[string]int64),
		closedElsewhere: make(map[string]bool),
	}
}

func (s *memStore) addPosition(p model.Position) {
	s.positions[p.ID] = &p
}

func (s *memStore) ListOpenPositions(context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) ListOpenPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	all, _ := s.ListOpenPositions(ctx)
	var out []model.Position
	for _, p := range all {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) TransitionPosition(_ context.Context, id string, status types.PositionStatus, closePrice, realizedPnL decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return store.ErrNotFound
	}
	if !p.IsOpen() || s.closedElsewhere[id] {
		return store.ErrConflict
	}
	p.Status = status
	p.ClosePrice = &closePrice
	p.RealizedPnL = &realizedPnL
	s.balances[p.AccountID] = s.balances[p.AccountID].Add(realizedPnL)
	return nil
}

func (s *memStore) ReducePosition(_ context.Context, residual model.Position, realizedPnL decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[residual.ID] = &residual
	s.balances[residual.AccountID] = s.balances[residual.AccountID].Add(realizedPnL)
	return nil
}

func (s *memStore) ListPendingOrders(context.Context) ([]model.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingOrder
	for _, o := range s.orders {
		if o.Status == types.OrderStatusPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) FillOrder(_ context.Context, id string, fillPrice decimal.Decimal, opened model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if o.Status != types.OrderStatusPending {
		return store.ErrConflict
	}
	o.Status = types.OrderStatusFilled
	o.FillPrice = &fillPrice
	s.positions[opened.ID] = &opened
	return nil
}

func (s *memStore) WalletBalance(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[accountID], nil
}

func (s *memStore) AccountLeverage(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leverage[accountID], nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type fixedPolicy struct{ p *pricing.Policy }

func (f fixedPolicy) Policy(context.Context) *pricing.Policy { return f.p }

func newTestMonitor(s *memStore, quotes Quotes, pub events.Publisher, cfg MonitorConfig) *Monitor {
	return NewMonitor(MonitorDeps{
		Positions: s,
		Orders:    s,
		Wallets:   s,
		Leverage:  s,
		Quotes:    quotes,
		Table:     instruments.DefaultTable(),
		Publisher: pub,
	}, cfg, zap.NewNop())
}

func TestMonitorClosesOnStopLossOnce(t *testing.T) {
	s := newMemStore()
	s.balances["acc-1"] = d("10000")
	p := openPosition("p1", types.SideLong, "1", "1.0450")
	p.StopLoss = dp("1.0400")
	s.addPosition(p)

	quotes := quoteMap{"EURUSD": liveQuote("EURUSD", "1.0399", "1.0401")}
	pub := &recorder{}
	m := newTestMonitor(s, quotes, pub, MonitorConfig{})

	rep := m.Tick(context.Background())
	require.Empty(t, rep.Errors)
	require.Len(t, rep.Closes, 1)
	assert.Equal(t, types.CloseReasonStopLoss, rep.Closes[0].Reason)

	closed := s.positions["p1"]
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	assert.True(t, d("-510").Equal(*closed.RealizedPnL))
	assert.True(t, d("9490").Equal(s.balances["acc-1"]))

	quotes["EURUSD"] = liveQuote("EURUSD", "1.0500", "1.0502")
	rep = m.Tick(context.Background())
	assert.True(t, rep.Empty())
	assert.True(t, d("-510").Equal(*s.positions["p1"].RealizedPnL))

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypePositionClosed, pub.events[0].Type)
	assert.Equal(t, "acc-1", pub.events[0].AccountID)
}

func TestMonitorCountsLostTransitionsAsConflicts(t *testing.T) {
	s := newMemStore()
	p := openPosition("p1", types.SideLong, "1", "1.0450")
	p.TakeProfit = dp("1.0500")
	s.addPosition(p)
	s.closedElsewhere["p1"] = true

	pub := &recorder{}
	m := newTestMonitor(s, quoteMap{"EURUSD": liveQuote("EURUSD", "1.0510", "1.0512")}, pub, MonitorConfig{})
	rep := m.Tick(context.Background())
	assert.Empty(t, rep.Errors)
	assert.Empty(t, rep.Closes)
	assert.Equal(t, 1, rep.Conflicts)
	assert.Empty(t, pub.events)
}

func TestMonitorSkipsSyntheticQuotes(t *testing.T) {
	p := openPosition("p1", types.SideLong, "1", "1.0450")
	p.StopLoss = dp("1.0400")
	q := liveQuote("EURUSD", "1.0300", "1.0302")
	q.Source = types.QuoteSourceSynthetic

	s := newMemStore()
	s.addPosition(p)
	rep := newTestMonitor(s, quoteMap{"EURUSD": q}, nil, MonitorConfig{}).Tick(context.Background())
	assert.Empty(t, rep.Closes)
	assert.True(t, s.positions["p1"].IsOpen())

	rep = newTestMonitor(s, quoteMap{"EURUSD": q}, nil, MonitorConfig{TriggerOnSynthetic: true}).Tick(context.Background())
	assert.Len(t, rep.Closes, 1)
}

func TestMonitorFillsPendingOrders(t *testing.T) {
	s := newMemStore()
	s.leverage["acc-1"] = 50
	o := pendingOrder(types.OrderTypeBuyStop, "1.05")
	s.orders[o.ID] = &o

	table := instruments.DefaultTable()
	cfg := pricing.Defaults()
	cfg.Global.ChargeAmount = d("7")
	pub := &recorder{}
	m := NewMonitor(MonitorDeps{
		Positions: s,
		Orders:    s,
		Leverage:  s,
		Quotes:    quoteMap{"EURUSD": liveQuote("EURUSD", "1.0499", "1.0501")},
		Table:     table,
		Policies:  fixedPolicy{pricing.NewPolicy(cfg, table)},
		Publisher: pub,
	}, MonitorConfig{}, zap.NewNop())

	rep := m.Tick(context.Background())
	require.Empty(t, rep.Errors)
	require.Len(t, rep.Fills, 1)
	fill := rep.Fills[0]
	assert.True(t, d("1.0501").Equal(fill.FillPrice))
	assert.True(t, d("3.5").Equal(fill.Charge), fill.Charge.String())

	assert.Equal(t, types.OrderStatusFilled, s.orders["o1"].Status)
	open, _ := s.ListOpenPositions(context.Background())
	require.Len(t, open, 1)
	assert.True(t, d("1.0501").Equal(open[0].EntryPrice))
	assert.True(t, d("1050.1").Equal(open[0].Margin), open[0].Margin.String())

	rep = m.Tick(context.Background())
	assert.Empty(t, rep.Fills)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeOrderFilled, pub.events[0].Type)
}

func TestMonitorStopOutClosesWorstLoserFirst(t *testing.T) {
	s := newMemStore()
	s.balances["acc-1"] = d("700")
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.1000"))
	s.addPosition(openPosition("p2", types.SideLong, "0.5", "1.0960"))

	pub := &recorder{}
	m := newTestMonitor(s, quoteMap{"EURUSD": liveQuote("EURUSD", "1.0950", "1.0952")}, pub,
		MonitorConfig{StopOutLevel: d("20")})

	rep := m.Tick(context.Background())
	require.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.StopOuts)
	require.Len(t, rep.Closes, 1)
	assert.Equal(t, "p1", rep.Closes[0].PositionID)
	assert.Equal(t, types.CloseReasonStopOut, rep.Closes[0].Reason)
	assert.True(t, d("-500").Equal(rep.Closes[0].RealizedPnL))

	assert.True(t, s.positions["p2"].IsOpen())
	assert.True(t, d("200").Equal(s.balances["acc-1"]))
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeStopOut, pub.events[0].Type)
}

func TestMonitorStopOutLeavesHealthyAccounts(t *testing.T) {
	s := newMemStore()
	s.balances["acc-1"] = d("1000")
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.1000"))
	s.addPosition(openPosition("p2", types.SideLong, "0.5", "1.0960"))

	rep := newTestMonitor(s, quoteMap{"EURUSD": liveQuote("EURUSD", "1.0950", "1.0952")}, nil,
		MonitorConfig{StopOutLevel: d("20")}).Tick(context.Background())
	assert.Zero(t, rep.StopOuts)
	assert.Empty(t, rep.Closes)
}

func TestMonitorReportsUnvaluedPositions(t *testing.T) {
	s := newMemStore()
	p := openPosition("p1", types.SideLong, "1", "1.0450")
	p.StopLoss = dp("1.0400")
	p.Symbol = "ZZZUSD"
	s.addPosition(p)
	q := openPosition("p2", types.SideLong, "1", "1.0450")
	q.TakeProfit = dp("1.0460")
	s.addPosition(q)

	rep := newTestMonitor(s, quoteMap{"EURUSD": liveQuote("EURUSD", "1.0470", "1.0472")}, nil, MonitorConfig{}).
		Tick(context.Background())
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], instruments.ErrUnknownSymbol)
	require.Len(t, rep.Closes, 1)
	assert.Equal(t, "p2", rep.Closes[0].PositionID)
}

var _ Quotes = quoteMap(nil)

type slowOrders struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (s *slowOrders) ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	return s.memStore.ListPendingOrders(ctx)
}

func TestRunSkipsTicksWhileBusy(t *testing.T) {
	orders := &slowOrders{memStore: newMemStore(), entered: make(chan struct{}), release: make(chan struct{})}
	m := NewMonitor(MonitorDeps{
		Positions: orders.memStore,
		Orders:    orders,
		Wallets:   orders.memStore,
		Leverage:  orders.memStore,
		Quotes:    quoteMap{},
		Table:     instruments.DefaultTable(),
	}, MonitorConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond) }()

	select {
	case <-orders.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never started")
	}
	require.Eventually(t, func() bool { return m.Skipped() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), orders.calls.Load())

	close(orders.release)
	require.Eventually(t, func() bool { return orders.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
