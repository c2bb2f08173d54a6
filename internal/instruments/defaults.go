package instruments

import (
	"lv-riskengine/internal/types"

	"github.com/shopspring/decimal"
)

type defaultRow struct {
	symbol       string
	class        types.AssetClass
	contractSize int64
	pip          int32
	price        int32
	mid          string
	spread       string
}

var defaultRows = []defaultRow{
	{"EURUSD", types.AssetClassForex, 100000, 4, 5, "1.0427", "0.00015"},
	{"GBPUSD", types.AssetClassForex, 100000, 4, 5, "1.2480", "0.0002"},
	{"AUDUSD", types.AssetClassForex, 100000, 4, 5, "0.6520", "0.00018"},
	{"NZDUSD", types.AssetClassForex, 100000, 4, 5, "0.5950", "0.00025"},
	{"USDCHF", types.AssetClassForex, 100000, 4, 5, "0.9050", "0.0002"},
	{"USDCAD", types.AssetClassForex, 100000, 4, 5, "1.3850", "0.0002"},
	{"USDJPY", types.AssetClassForex, 100000, 2, 3, "151.20", "0.015"},
	{"EURJPY", types.AssetClassForex, 100000, 2, 3, "157.65", "0.025"},
	{"XAUUSD", types.AssetClassMetal, 100, 2, 2, "2650.00", "0.35"},
	{"XAGUSD", types.AssetClassMetal, 5000, 3, 3, "30.500", "0.03"},
	{"US30", types.AssetClassIndex, 1, 0, 1, "43500.0", "3.0"},
	{"NAS100", types.AssetClassIndex, 1, 0, 1, "21000.0", "2.0"},
	{"USOIL", types.AssetClassEnergy, 1000, 2, 2, "70.50", "0.04"},
	{"BTCUSD", types.AssetClassCrypto, 1, 0, 2, "95000.00", "25.00"},
	{"ETHUSD", types.AssetClassCrypto, 1, 1, 2, "3400.00", "2.50"},
}

// Defaults is the built-in instrument catalog.
func Defaults() []Spec {
	out := make([]Spec, 0, len(defaultRows))
	for _, r := range defaultRows {
		out = append(out, Spec{
			Symbol:             r.symbol,
			AssetClass:         r.class,
			ContractSize:       decimal.NewFromInt(r.contractSize),
			PipDecimalPlaces:   r.pip,
			PriceDecimalPlaces: r.price,
			ReferenceMid:       decimal.RequireFromString(r.mid),
			ReferenceSpread:    decimal.RequireFromString(r.spread),
		})
	}
	return out
}

func DefaultTable() *Table {
	return NewTable(Defaults())
}
