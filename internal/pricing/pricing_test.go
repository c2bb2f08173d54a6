package pricing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleConfig() Config {
	return Config{
		Global: Rule{SpreadPips: d("1"), ChargeMode: types.ChargeModePerLot, ChargeAmount: d("7")},
		Segments: []SegmentRule{
			{AssetClass: types.AssetClassCrypto, Rule: Rule{Enabled: true, SpreadPips: d("50"), ChargeMode: types.ChargeModePercentage, ChargeAmount: d("0.1"), MinCharge: d("1"), MaxCharge: d("25")}},
			{AssetClass: types.AssetClassMetal, Rule: Rule{Enabled: false, SpreadPips: d("99")}},
		},
		Instruments: []InstrumentRule{
			{Symbol: "eurusd", Rule: Rule{Enabled: true, SpreadPips: d("2"), ChargeMode: types.ChargeModePerExecution, ChargeAmount: d("3")}},
			{Symbol: "GBPUSD", Rule: Rule{Enabled: false, SpreadPips: d("40")}},
		},
	}
}

func TestResolutionOrder(t *testing.T) {
	p := NewPolicy(sampleConfig(), instruments.DefaultTable())

	assert.True(t, p.ResolveSpread("EURUSD").Equal(d("2")), "instrument override")
	assert.True(t, p.ResolveSpread("GBPUSD").Equal(d("1")), "disabled instrument override falls through")
	assert.True(t, p.ResolveSpread("BTCUSD").Equal(d("50")), "segment override")
	assert.True(t, p.ResolveSpread("XAUUSD").Equal(d("1")), "disabled segment falls through")
	assert.True(t, p.ResolveSpread("UNLISTED").Equal(d("1")), "global default")
}

func TestResolveCharge(t *testing.T) {
	p := NewPolicy(sampleConfig(), instruments.DefaultTable())
	cases := []struct {
		name     string
		symbol   string
		volume   string
		notional string
		want     string
	}{
		{"per lot", "USDJPY", "2.5", "0", "17.5"},
		{"per execution", "EURUSD", "10", "1000000", "3"},
		{"percentage", "BTCUSD", "1", "9500", "9.5"},
		{"percentage clamped to min", "BTCUSD", "0.01", "95", "1"},
		{"percentage clamped to max", "ETHUSD", "100", "340000", "25"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.ResolveCharge(tc.symbol, d(tc.volume), d(tc.notional))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestApplySpreadWidensButNeverNarrows(t *testing.T) {
	p := NewPolicy(sampleConfig(), instruments.DefaultTable())
	at := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	narrow := marketdata.Quote{Symbol: "EURUSD", Bid: d("1.0500"), Ask: d("1.0501"), Spread: d("0.0001"), ObservedAt: at, Source: types.QuoteSourceLive}
	widened := p.ApplySpread(narrow)
	assert.True(t, widened.Spread.Equal(d("0.0002")))
	assert.True(t, widened.Bid.Equal(d("1.04995")))
	assert.True(t, widened.Ask.Equal(d("1.05015")))
	assert.True(t, widened.Mid().Equal(narrow.Mid()))
	assert.Equal(t, at, widened.ObservedAt)
	assert.Equal(t, types.QuoteSourceLive, widened.Source)

	wide := marketdata.Quote{Symbol: "EURUSD", Bid: d("1.0500"), Ask: d("1.0510"), Spread: d("0.0010")}
	assert.Equal(t, wide, p.ApplySpread(wide))

	zero := NewPolicy(Defaults(), instruments.DefaultTable())
	assert.Equal(t, narrow, zero.ApplySpread(narrow))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sampleConfig()))

	bad := sampleConfig()
	bad.Global.ChargeMode = "weekly"
	assert.Error(t, Validate(bad))

	bad = sampleConfig()
	bad.Instruments = append(bad.Instruments, InstrumentRule{Symbol: "EURUSD "})
	assert.Error(t, Validate(bad))

	bad = sampleConfig()
	bad.Segments[0].MinCharge = d("30")
	assert.Error(t, Validate(bad))

	bad = sampleConfig()
	bad.Segments = append(bad.Segments, SegmentRule{AssetClass: "bonds"})
	assert.Error(t, Validate(bad))
}

func TestNormalizeClampsNegatives(t *testing.T) {
	cfg := Normalize(Config{Global: Rule{SpreadPips: d("-3"), MaxCharge: d("-1")}})
	assert.True(t, cfg.Global.Enabled)
	assert.True(t, cfg.Global.SpreadPips.IsZero())
	assert.True(t, cfg.Global.MaxCharge.IsZero())
	assert.Equal(t, types.ChargeModePerLot, cfg.Global.ChargeMode)
}

func TestParseDocument(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"global": {"spread_pips": "1.5", "charge_mode": "per_lot", "charge_amount": 7},
		"segments": [{"asset_class": "crypto", "enabled": true, "spread_pips": 40}],
		"instruments": [{"symbol": "xauusd", "enabled": true, "spread_pips": "30"}]
	}`))
	require.NoError(t, err)
	assert.True(t, cfg.Global.SpreadPips.Equal(d("1.5")))
	assert.True(t, cfg.Global.ChargeAmount.Equal(d("7")))
	require.Len(t, cfg.Segments, 1)
	assert.True(t, cfg.Segments[0].Enabled)
	assert.Equal(t, "XAUUSD", cfg.Instruments[0].Symbol)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	docs := []string{
		`{"global": {"spread_pips": -1}}`,
		`{"global": {"charge_mode": "weekly"}}`,
		`{"instruments": [{"enabled": true}]}`,
		`{"segments": [{"asset_class": "crypto", "spread_pips": "ten"}]}`,
		`not json`,
	}
	for _, doc := range docs {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestFileSourceLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `global:
  spread_pips: 1
  charge_mode: per_lot
  charge_amount: "6.5"
segments:
  - asset_class: index
    enabled: true
    spread_pips: 20
instruments:
  - symbol: usdjpy
    enabled: true
    spread_pips: "2.5"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	src, err := NewFileSource(path, zap.NewNop())
	require.NoError(t, err)
	cfg, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.True(t, cfg.Global.ChargeAmount.Equal(d("6.5")))
	require.Len(t, cfg.Segments, 1)
	assert.Equal(t, types.AssetClassIndex, cfg.Segments[0].AssetClass)
	assert.True(t, cfg.Segments[0].SpreadPips.Equal(d("20")))
	assert.Equal(t, "USDJPY", cfg.Instruments[0].Symbol)
	assert.NoError(t, src.LastError())
}

func TestFileSourceRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  charge_mode: weekly\n"), 0o600))
	_, err := NewFileSource(path, zap.NewNop())
	assert.Error(t, err)
}

func TestFileSourceRejectedReloadMarksProviderStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  charge_mode: per_lot\n  charge_amount: 3\n"), 0o600))
	src, err := openFileSource(path, zap.NewNop())
	require.NoError(t, err)
	prov, err := NewProvider(src, instruments.DefaultTable(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer prov.Close()
	src.OnChange(prov.Invalidate)
	require.False(t, prov.Stale())
	prov.Policy(context.Background())

	require.NoError(t, os.WriteFile(path, []byte("global:\n  charge_mode: weekly\n"), 0o600))
	require.NoError(t, src.v.ReadInConfig())
	src.refresh(path, "WRITE")

	cfg, err := src.Load(context.Background())
	require.ErrorIs(t, err, ErrStaleConfiguration)
	assert.True(t, cfg.Global.ChargeAmount.Equal(d("3")))
	assert.Error(t, src.LastError())

	pol := prov.Policy(context.Background())
	assert.True(t, prov.Stale())
	assert.True(t, pol.Config().Global.ChargeAmount.Equal(d("3")))

	require.NoError(t, os.WriteFile(path, []byte("global:\n  charge_mode: per_lot\n  charge_amount: 4\n"), 0o600))
	require.NoError(t, src.v.ReadInConfig())
	src.refresh(path, "WRITE")

	pol = prov.Policy(context.Background())
	assert.False(t, prov.Stale())
	assert.True(t, pol.Config().Global.ChargeAmount.Equal(d("4")))
}

type countingSource struct {
	calls atomic.Int64
	cfg   Config
	err   error
}

func (s *countingSource) Load(context.Context) (Config, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Config{}, s.err
	}
	return s.cfg, nil
}

func TestProviderCachesSnapshot(t *testing.T) {
	src := &countingSource{cfg: sampleConfig()}
	prov, err := NewProvider(src, instruments.DefaultTable(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer prov.Close()

	for i := 0; i < 5; i++ {
		pol := prov.Policy(context.Background())
		assert.True(t, pol.ResolveSpread("EURUSD").Equal(d("2")))
	}
	assert.Equal(t, int64(1), src.calls.Load())

	prov.Invalidate()
	prov.Policy(context.Background())
	assert.Equal(t, int64(2), src.calls.Load())
	assert.False(t, prov.Stale())
}

func TestProviderFallsBackToDefaults(t *testing.T) {
	src := &countingSource{err: errors.New("connection refused")}
	prov, err := NewProvider(src, instruments.DefaultTable(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer prov.Close()

	pol := prov.Policy(context.Background())
	assert.True(t, prov.Stale())
	assert.True(t, pol.ResolveSpread("EURUSD").IsZero())
	assert.True(t, pol.ResolveCharge("EURUSD", d("1"), d("100000")).IsZero())
}

func TestProviderKeepsLastGoodOnFailure(t *testing.T) {
	src := &countingSource{cfg: sampleConfig()}
	prov, err := NewProvider(src, instruments.DefaultTable(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer prov.Close()

	prov.Policy(context.Background())
	src.err = errors.New("timeout")
	prov.Invalidate()

	pol := prov.Policy(context.Background())
	assert.True(t, prov.Stale())
	assert.True(t, pol.ResolveSpread("EURUSD").Equal(d("2")))
}
