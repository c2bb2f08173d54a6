package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"lv-riskengine/internal/engine"
	"lv-riskengine/internal/httputil"
	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/marketdata"
	"lv-riskengine/internal/model"
	"lv-riskengine/internal/pricing"
	"lv-riskengine/internal/risk"
	"lv-riskengine/internal/store"
	"lv-riskengine/internal/valuation"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine interface {
	GetQuote(ctx context.Context, symbol string) (marketdata.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) ([]marketdata.Quote, error)
	ListAvailableSymbols() []string
	Table() *instruments.Table
	GetAccountRisk(ctx context.Context, accountID string) (engine.AccountView, error)
	ValuePositions(ctx context.Context, accountID string) (risk.Portfolio, error)
}

// PolicyAdmin reads and replaces the persisted pricing policy.
type PolicyAdmin interface {
	Policy(ctx context.Context) *pricing.Policy
	Invalidate()
}

type PolicyWriter interface {
	Save(ctx context.Context, cfg pricing.Config) (pricing.Config, error)
}

type Closer interface {
	Close(ctx context.Context, accountID, positionID string, volume decimal.Decimal) (model.CloseInstruction, error)
}

type Handler struct {
	engine   Engine
	policies PolicyAdmin
	writer   PolicyWriter
	closer   Closer
	log      *zap.Logger
}

func NewHandler(e Engine, policies PolicyAdmin, writer PolicyWriter, closer Closer, log *zap.Logger) *Handler {
	return &Handler{engine: e, policies: policies, writer: writer, closer: closer, log: log.Named("http")}
}

type symbolDTO struct {
	Symbol         string `json:"symbol"`
	AssetClass     string `json:"asset_class"`
	ContractSize   string `json:"contract_size"`
	PipPrecision   int32  `json:"pip_precision"`
	PricePrecision int32  `json:"price_precision"`
}

type quoteDTO struct {
	Symbol     string `json:"symbol"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	Mid        string `json:"mid"`
	Spread     string `json:"spread"`
	Source     string `json:"source"`
	ObservedAt int64  `json:"observed_at"`
}

func (h *Handler) quoteDTO(q marketdata.Quote) quoteDTO {
	spec, _ := h.engine.Table().Lookup(q.Symbol)
	return quoteDTO{
		Symbol:     q.Symbol,
		Bid:        instruments.FormatPrice(spec, q.Bid),
		Ask:        instruments.FormatPrice(spec, q.Ask),
		Mid:        q.Mid().String(),
		Spread:     q.Spread.String(),
		Source:     string(q.Source),
		ObservedAt: q.ObservedAt.UnixMilli(),
	}
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, instruments.ErrUnknownSymbol), errors.Is(err, store.ErrNotFound), errors.Is(err, risk.ErrPositionNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}

func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	table := h.engine.Table()
	out := make([]symbolDTO, 0, table.Len())
	for _, sym := range h.engine.ListAvailableSymbols() {
		spec, ok := table.Lookup(sym)
		if !ok {
			continue
		}
		out = append(out, symbolDTO{
			Symbol:         spec.Symbol,
			AssetClass:     string(spec.AssetClass),
			ContractSize:   spec.ContractSize.String(),
			PipPrecision:   spec.PipDecimalPlaces,
			PricePrecision: spec.PriceDecimalPlaces,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	symbols := marketdata.ParseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		symbols = h.engine.ListAvailableSymbols()
	}
	quotes, err := h.engine.GetQuotes(r.Context(), symbols)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	out := make([]quoteDTO, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, h.quoteDTO(q))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.engine.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.quoteDTO(q))
}

func (h *Handler) AccountRisk(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	view, err := h.engine.GetAccountRisk(r.Context(), accountID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("account risk", zap.String("account_id", accountID), zap.Error(err))
		}
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	pf, err := h.engine.ValuePositions(r.Context(), accountID)
	if err != nil {
		h.log.Error("value positions", zap.String("account_id", accountID), zap.Error(err))
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pf)
}

func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "pricing policy unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.policies.Policy(r.Context()).Config())
}

// PutPricing replaces the persisted policy. The body is validated against the
// policy schema before anything is written.
func (h *Handler) PutPricing(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil || h.policies == nil {
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "pricing policy is read-only"})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid body"})
		return
	}
	cfg, err := pricing.Parse(raw)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	saved, err := h.writer.Save(ctx, cfg)
	if err != nil {
		h.log.Error("save pricing policy", zap.Error(err))
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "save failed"})
		return
	}
	h.policies.Invalidate()
	h.log.Info("pricing policy updated",
		zap.Int("segments", len(saved.Segments)),
		zap.Int("instruments", len(saved.Instruments)))
	httputil.WriteJSON(w, http.StatusOK, saved)
}

type closeRequest struct {
	Volume decimal.Decimal `json:"volume"`
}

// ClosePosition closes a position on behalf of an operator. An empty body or zero
// volume closes it entirely.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "manual close unavailable"})
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid body"})
			return
		}
	}
	accountID, positionID := chi.URLParam(r, "accountID"), chi.URLParam(r, "positionID")
	instr, err := h.closer.Close(r.Context(), accountID, positionID, req.Volume)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, instr)
	case errors.Is(err, store.ErrConflict):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: "position already closed"})
	case errors.Is(err, valuation.ErrInconsistentPosition):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	default:
		if !errors.Is(err, risk.ErrPositionNotFound) {
			h.log.Error("close position", zap.String("position_id", positionID), zap.Error(err))
		}
		writeLookupError(w, err)
	}
}
