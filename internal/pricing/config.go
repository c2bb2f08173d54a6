package pricing

import (
	"errors"
	"fmt"
	"strings"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

// ErrStaleConfiguration marks a failed configuration load. The engine keeps serving
// with the fallback policy when it occurs.
var ErrStaleConfiguration = errors.New("stale spread/charge configuration")

type Rule struct {
	Enabled      bool             `json:"enabled" mapstructure:"enabled"`
	SpreadPips   decimal.Decimal  `json:"spread_pips" mapstructure:"spread_pips"`
	ChargeMode   types.ChargeMode `json:"charge_mode" mapstructure:"charge_mode"`
	ChargeAmount decimal.Decimal  `json:"charge_amount" mapstructure:"charge_amount"`
	MinCharge    decimal.Decimal  `json:"min_charge" mapstructure:"min_charge"`
	MaxCharge    decimal.Decimal  `json:"max_charge" mapstructure:"max_charge"`
}

type SegmentRule struct {
	AssetClass types.AssetClass `json:"asset_class" mapstructure:"asset_class"`
	Rule       `mapstructure:",squash"`
}

type InstrumentRule struct {
	Symbol string `json:"symbol" mapstructure:"symbol"`
	Rule   `mapstructure:",squash"`
}

// Config is one administrative snapshot of spread and charge settings.
type Config struct {
	Global      Rule             `json:"global" mapstructure:"global"`
	Segments    []SegmentRule    `json:"segments" mapstructure:"segments"`
	Instruments []InstrumentRule `json:"instruments" mapstructure:"instruments"`
}

func Defaults() Config {
	return Config{
		Global: Rule{
			Enabled:    true,
			ChargeMode: types.ChargeModePerLot,
		},
	}
}

func normalizeRule(r Rule) Rule {
	r.ChargeMode = types.ChargeMode(strings.ToLower(strings.TrimSpace(string(r.ChargeMode))))
	if r.ChargeMode == "" {
		r.ChargeMode = types.ChargeModePerLot
	}
	if r.SpreadPips.IsNegative() {
		r.SpreadPips = decimal.Zero
	}
	if r.ChargeAmount.IsNegative() {
		r.ChargeAmount = decimal.Zero
	}
	if r.MinCharge.IsNegative() {
		r.MinCharge = decimal.Zero
	}
	if r.MaxCharge.IsNegative() {
		r.MaxCharge = decimal.Zero
	}
	return r
}

func Normalize(in Config) Config {
	out := Config{Global: normalizeRule(in.Global)}
	out.Global.Enabled = true
	for _, s := range in.Segments {
		s.AssetClass = types.AssetClass(strings.ToLower(strings.TrimSpace(string(s.AssetClass))))
		s.Rule = normalizeRule(s.Rule)
		out.Segments = append(out.Segments, s)
	}
	for _, i := range in.Instruments {
		i.Symbol = instruments.Normalize(i.Symbol)
		i.Rule = normalizeRule(i.Rule)
		out.Instruments = append(out.Instruments, i)
	}
	return out
}

func validateRule(where string, r Rule) error {
	if !r.ChargeMode.Valid() {
		return fmt.Errorf("%s: unknown charge_mode %q", where, r.ChargeMode)
	}
	if r.MaxCharge.GreaterThan(decimal.Zero) && r.MinCharge.GreaterThan(r.MaxCharge) {
		return fmt.Errorf("%s: min_charge exceeds max_charge", where)
	}
	return nil
}

func Validate(in Config) error {
	cfg := Normalize(in)
	if err := validateRule("global", cfg.Global); err != nil {
		return err
	}
	seen := map[types.AssetClass]struct{}{}
	for _, s := range cfg.Segments {
		if _, ok := types.ParseAssetClass(string(s.AssetClass)); !ok {
			return fmt.Errorf("segment: unknown asset_class %q", s.AssetClass)
		}
		if _, dup := seen[s.AssetClass]; dup {
			return fmt.Errorf("segment %s: duplicate entry", s.AssetClass)
		}
		seen[s.AssetClass] = struct{}{}
		if err := validateRule("segment "+string(s.AssetClass), s.Rule); err != nil {
			return err
		}
	}
	symbols := map[string]struct{}{}
	for _, i := range cfg.Instruments {
		if i.Symbol == "" {
			return errors.New("instrument: symbol is required")
		}
		if _, dup := symbols[i.Symbol]; dup {
			return fmt.Errorf("instrument %s: duplicate entry", i.Symbol)
		}
		symbols[i.Symbol] = struct{}{}
		if err := validateRule("instrument "+i.Symbol, i.Rule); err != nil {
			return err
		}
	}
	return nil
}
