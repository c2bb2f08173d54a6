package risk

import (
	"context"
	"errors"
	"testing"

	"lv-riskengine/internal/events"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/types"
	"lv-riskengine/internal/valuation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCloser(s *memStore, policy valuation.PartialClosePolicy, pub events.Publisher) *Closer {
	return newLoggedCloser(s, policy, pub, zap.NewNop())
}

func newLoggedCloser(s *memStore, policy valuation.PartialClosePolicy, pub events.Publisher, log *zap.Logger) *Closer {
	return NewCloser(CloserDeps{
		Positions: s,
		Leverage:  s,
		Quotes:    quoteMap{"EURUSD": liveQuote("EURUSD", "1.0500", "1.0502")},
		Table:     instruments.DefaultTable(),
		Publisher: pub,
	}, policy, decimal.Zero, log)
}

func TestCloserFullClose(t *testing.T) {
	s := newMemStore()
	s.balances["acc-1"] = d("1000")
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))
	pub := &recorder{}

	instr, err := newTestCloser(s, "", pub).Close(context.Background(), "acc-1", "p1", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, types.CloseReasonManual, instr.Reason)
	assert.True(t, d("1").Equal(instr.Volume))
	assert.True(t, d("1.0500").Equal(instr.ClosePrice))
	assert.True(t, d("500").Equal(instr.RealizedPnL))
	assert.Equal(t, types.PositionStatusClosed, s.positions["p1"].Status)
	assert.True(t, d("1500").Equal(s.balances["acc-1"]))
	require.Len(t, pub.events, 1)

	_, err = newTestCloser(s, "", pub).Close(context.Background(), "acc-1", "p1", decimal.Zero)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestCloserPartialRetain(t *testing.T) {
	s := newMemStore()
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))

	instr, err := newTestCloser(s, valuation.PolicyRetainEntry, nil).Close(context.Background(), "acc-1", "p1", d("0.4"))
	require.NoError(t, err)
	assert.True(t, d("200").Equal(instr.RealizedPnL), instr.RealizedPnL.String())

	p := s.positions["p1"]
	assert.Equal(t, types.PositionStatusPartiallyClosed, p.Status)
	assert.True(t, d("0.6").Equal(p.Volume))
	assert.True(t, d("1.0450").Equal(p.EntryPrice))
	assert.True(t, d("627").Equal(p.Margin), p.Margin.String())
}

func TestCloserPartialRebase(t *testing.T) {
	s := newMemStore()
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))

	instr, err := newTestCloser(s, valuation.PolicyRebaseEntry, nil).Close(context.Background(), "acc-1", "p1", d("0.4"))
	require.NoError(t, err)
	assert.True(t, d("500").Equal(instr.RealizedPnL), instr.RealizedPnL.String())
	assert.True(t, d("1.0500").Equal(s.positions["p1"].EntryPrice))
}

func TestCloserRejectsOversizedVolume(t *testing.T) {
	s := newMemStore()
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))

	_, err := newTestCloser(s, "", nil).Close(context.Background(), "acc-1", "p1", d("2"))
	assert.ErrorIs(t, err, valuation.ErrInconsistentPosition)
	assert.True(t, s.positions["p1"].IsOpen())
}

func TestCloserSurfacesConflicts(t *testing.T) {
	s := newMemStore()
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))
	s.closedElsewhere["p1"] = true

	_, err := newTestCloser(s, "", nil).Close(context.Background(), "acc-1", "p1", decimal.Zero)
	assert.True(t, errors.Is(err, store.ErrConflict))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("broker down")
}

func TestCloserLogsPublishFailure(t *testing.T) {
	s := newMemStore()
	s.addPosition(openPosition("p1", types.SideLong, "1", "1.0450"))
	core, logs := observer.New(zapcore.WarnLevel)

	instr, err := newLoggedCloser(s, "", failingPublisher{}, zap.New(core)).Close(context.Background(), "acc-1", "p1", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "p1", instr.PositionID)
	assert.Equal(t, types.PositionStatusClosed, s.positions["p1"].Status)

	entries := logs.FilterMessage("publish manual close").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].ContextMap()["position_id"])
	assert.Equal(t, "broker down", entries[0].ContextMap()["error"])
}
