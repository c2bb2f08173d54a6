package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

type BinanceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BinanceSource reads the futures book ticker. Used by the secondary loop for crypto symbols.
type BinanceSource struct {
	client *futures.Client
	now    func() time.Time
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client, now: time.Now}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Fetch(ctx context.Context, symbol string) (Observation, error) {
	venue := BinanceSymbol(symbol)
	tickers, err := s.client.NewListBookTickersService().Symbol(venue).Do(ctx)
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	for _, t := range tickers {
		if t == nil || !strings.EqualFold(t.Symbol, venue) {
			continue
		}
		bid, err := decimal.NewFromString(t.BidPrice)
		if err != nil {
			return Observation{}, unavailable(s.Name(), symbol, err)
		}
		ask, err := decimal.NewFromString(t.AskPrice)
		if err != nil {
			return Observation{}, unavailable(s.Name(), symbol, err)
		}
		at := s.now().UTC()
		if t.Time > 0 {
			at = time.UnixMilli(t.Time).UTC()
		}
		return Observation{Symbol: symbol, Bid: bid, Ask: ask, ObservedAt: at}, nil
	}
	return Observation{}, unavailable(s.Name(), symbol, errors.New("symbol not in response"))
}

// BinanceSymbol maps an internal USD crypto symbol to the USDT-margined contract.
func BinanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "USD") {
		return s + "T"
	}
	return s
}
