package marketdata

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const quoteStreamInterval = 250 * time.Millisecond

// QuoteReader is the client-facing quote view (policy spread already applied).
type QuoteReader interface {
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)
	ListAvailableSymbols() []string
}

type quoteMessage struct {
	Type   string  `json:"type"`
	Quotes []Quote `json:"quotes"`
	TS     int64   `json:"ts"`
}

// QuoteWS streams quotes for the symbols named in ?symbols=A,B (all symbols when omitted).
// Snapshots go out on a fixed interval; with an update bus attached, a live quote for a
// watched symbol triggers an immediate snapshot as well.
type QuoteWS struct {
	quotes   QuoteReader
	updates  *Bus
	log      *zap.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewQuoteWS(quotes QuoteReader, origin string, log *zap.Logger) *QuoteWS {
	return &QuoteWS{
		quotes:   quotes,
		log:      log.Named("quote_ws"),
		interval: quoteStreamInterval,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return AllowOrigin(r, origin) }},
	}
}

// WithUpdates attaches the bus carrying EventQuote events.
func (h *QuoteWS) WithUpdates(bus *Bus) *QuoteWS {
	h.updates = bus
	return h
}

func (h *QuoteWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbols := ParseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		symbols = h.quotes.ListAvailableSymbols()
	}
	if _, err := h.quotes.GetQuotes(r.Context(), symbols); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var updates chan Event
	if h.updates != nil {
		updates = h.updates.Subscribe()
		defer h.updates.Unsubscribe(updates)
	}
	watched := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		watched[s] = struct{}{}
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		quotes, err := h.quotes.GetQuotes(ctx, symbols)
		if err != nil {
			h.log.Debug("quote stream read failed", zap.Error(err))
			return
		}
		msg := quoteMessage{Type: "quotes", Quotes: quotes, TS: time.Now().UnixMilli()}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		if !h.wait(ctx, ticker.C, updates, watched) {
			return
		}
	}
}

// wait blocks until the next snapshot is due and reports false when the stream should end.
func (h *QuoteWS) wait(ctx context.Context, tick <-chan time.Time, updates <-chan Event, watched map[string]struct{}) bool {
	for {
		select {
		case <-tick:
			return true
		case evt, ok := <-updates:
			if !ok {
				return false
			}
			if q, isQuote := evt.Data.(Quote); isQuote {
				if _, ok := watched[q.Symbol]; ok {
					return true
				}
			}
		case <-ctx.Done():
			return false
		}
	}
}

// ParseSymbols splits a comma separated list, upper-casing and dropping blanks and duplicates.
func ParseSymbols(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		s := strings.ToUpper(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func AllowOrigin(r *http.Request, origin string) bool {
	if origin == "" || origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" {
		return true
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}
