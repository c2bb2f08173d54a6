package instruments

import (
	"errors"
	"sort"
	"strings"

	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// Reference values used when a symbol has no usable reference mid or spread.
var (
	FallbackMid    = decimal.NewFromInt(1)
	FallbackSpread = decimal.RequireFromString("0.0001")
)

type Spec struct {
	Symbol             string           `mapstructure:"symbol" json:"symbol"`
	AssetClass         types.AssetClass `mapstructure:"asset_class" json:"asset_class"`
	ContractSize       decimal.Decimal  `mapstructure:"contract_size" json:"contract_size"`
	PipDecimalPlaces   int32            `mapstructure:"pip_decimal_places" json:"pip_decimal_places"`
	PriceDecimalPlaces int32            `mapstructure:"price_decimal_places" json:"price_decimal_places"`
	ReferenceMid       decimal.Decimal  `mapstructure:"reference_mid" json:"reference_mid"`
	ReferenceSpread    decimal.Decimal  `mapstructure:"reference_spread" json:"reference_spread"`
}

// PipSize is 10^-PipDecimalPlaces.
func (s Spec) PipSize() decimal.Decimal {
	return decimal.New(1, -s.PipDecimalPlaces)
}

// Table is an immutable symbol -> Spec index. Safe for concurrent readers.
type Table struct {
	specs   map[string]Spec
	symbols []string
}

func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func NewTable(specs []Spec) *Table {
	t := &Table{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		s.Symbol = Normalize(s.Symbol)
		if s.Symbol == "" {
			continue
		}
		t.specs[s.Symbol] = sanitize(s)
	}
	t.symbols = make([]string, 0, len(t.specs))
	for sym := range t.specs {
		t.symbols = append(t.symbols, sym)
	}
	sort.Strings(t.symbols)
	return t
}

func sanitize(s Spec) Spec {
	if !s.ContractSize.GreaterThan(decimal.Zero) {
		s.ContractSize = decimal.NewFromInt(1)
	}
	if s.PipDecimalPlaces < 0 {
		s.PipDecimalPlaces = 0
	}
	if s.PriceDecimalPlaces < s.PipDecimalPlaces {
		s.PriceDecimalPlaces = s.PipDecimalPlaces
	}
	if !s.ReferenceMid.GreaterThan(decimal.Zero) {
		s.ReferenceMid = FallbackMid
	}
	if s.ReferenceSpread.IsNegative() {
		s.ReferenceSpread = decimal.Zero
	}
	// The synthetic bid is mid - spread/2 and must stay positive.
	if s.ReferenceSpread.GreaterThanOrEqual(s.ReferenceMid) {
		s.ReferenceSpread = s.ReferenceMid.Div(decimal.NewFromInt(2))
	}
	if s.AssetClass == "" {
		s.AssetClass = types.AssetClassForex
	}
	return s
}

func (t *Table) Lookup(symbol string) (Spec, bool) {
	if t == nil {
		return Spec{}, false
	}
	s, ok := t.specs[Normalize(symbol)]
	return s, ok
}

// Symbols returns the sorted catalog. The slice is a copy.
func (t *Table) Symbols() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.symbols))
	copy(out, t.symbols)
	return out
}

func (t *Table) ByClass(classes ...types.AssetClass) []string {
	if t == nil || len(classes) == 0 {
		return nil
	}
	want := make(map[types.AssetClass]struct{}, len(classes))
	for _, c := range classes {
		want[c] = struct{}{}
	}
	var out []string
	for _, sym := range t.symbols {
		if _, ok := want[t.specs[sym].AssetClass]; ok {
			out = append(out, sym)
		}
	}
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.specs)
}

// Merge layers overrides on top of base. Zero-valued override fields inherit from the base entry;
// symbols absent from base are added as-is.
func Merge(base *Table, overrides ...[]Spec) *Table {
	merged := make(map[string]Spec, base.Len())
	if base != nil {
		for sym, s := range base.specs {
			merged[sym] = s
		}
	}
	for _, layer := range overrides {
		for _, o := range layer {
			sym := Normalize(o.Symbol)
			if sym == "" {
				continue
			}
			cur, ok := merged[sym]
			if !ok {
				o.Symbol = sym
				merged[sym] = o
				continue
			}
			merged[sym] = overlay(cur, o)
		}
	}
	out := make([]Spec, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	return NewTable(out)
}

func overlay(cur, o Spec) Spec {
	if o.AssetClass != "" {
		cur.AssetClass = o.AssetClass
	}
	if o.ContractSize.GreaterThan(decimal.Zero) {
		cur.ContractSize = o.ContractSize
	}
	if o.PipDecimalPlaces > 0 {
		cur.PipDecimalPlaces = o.PipDecimalPlaces
	}
	if o.PriceDecimalPlaces > 0 {
		cur.PriceDecimalPlaces = o.PriceDecimalPlaces
	}
	if o.ReferenceMid.GreaterThan(decimal.Zero) {
		cur.ReferenceMid = o.ReferenceMid
	}
	if o.ReferenceSpread.GreaterThan(decimal.Zero) {
		cur.ReferenceSpread = o.ReferenceSpread
	}
	return cur
}

// FormatPrice renders a price with the instrument's display precision.
func FormatPrice(spec Spec, price decimal.Decimal) string {
	return price.StringFixed(spec.PriceDecimalPlaces)
}

// FormatMoney renders an account-currency amount.
func FormatMoney(v decimal.Decimal) string {
	return v.StringFixed(2)
}
