package marketdata

import (
	"time"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/types"
)

// Reference values for a symbol missing from the instrument table.
var (
	UnknownMid    = instruments.FallbackMid
	UnknownSpread = instruments.FallbackSpread
)

// Synthesizer derives a quote from the instrument table's reference mid and spread.
// It is a pure function of the table and the clock.
type Synthesizer struct {
	table *instruments.Table
	now   func() time.Time
}

func NewSynthesizer(table *instruments.Table) *Synthesizer {
	return &Synthesizer{table: table, now: time.Now}
}

func (s *Synthesizer) Synthesize(symbol string) Quote {
	symbol = instruments.Normalize(symbol)
	mid, spread := UnknownMid, UnknownSpread
	if spec, ok := s.table.Lookup(symbol); ok {
		mid, spread = spec.ReferenceMid, spec.ReferenceSpread
	}
	return Around(symbol, mid, spread, types.QuoteSourceSynthetic, s.now().UTC())
}
