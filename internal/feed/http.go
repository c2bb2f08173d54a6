package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

type HTTPConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// gjson paths into the response body; TimePath is unix milliseconds.
	BidPath  string
	AskPath  string
	TimePath string
}

// HTTPSource polls a JSON quote endpoint: GET {BaseURL}?symbol=SYM.
type HTTPSource struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("feed: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.BidPath == "" {
		cfg.BidPath = "bid"
	}
	if cfg.AskPath == "" {
		cfg.AskPath = "ask"
	}
	if cfg.TimePath == "" {
		cfg.TimePath = "ts"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
		if cfg.RequestsPerSecond > 1 {
			cfg.Burst = int(cfg.RequestsPerSecond)
		}
	}
	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     time.Now,
	}, nil
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, symbol string) (Observation, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	u, _ := url.Parse(s.cfg.BaseURL)
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Observation{}, unavailable(s.Name(), symbol, fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, err)
	}
	return s.parse(symbol, body)
}

func (s *HTTPSource) parse(symbol string, body []byte) (Observation, error) {
	if !gjson.ValidBytes(body) {
		return Observation{}, unavailable(s.Name(), symbol, errors.New("malformed json"))
	}
	res := gjson.GetManyBytes(body, s.cfg.BidPath, s.cfg.AskPath, s.cfg.TimePath)
	bid, err := decimalField(res[0])
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, fmt.Errorf("bid: %w", err))
	}
	ask, err := decimalField(res[1])
	if err != nil {
		return Observation{}, unavailable(s.Name(), symbol, fmt.Errorf("ask: %w", err))
	}
	at := s.now().UTC()
	if res[2].Exists() && res[2].Int() > 0 {
		at = time.UnixMilli(res[2].Int()).UTC()
	}
	return Observation{Symbol: symbol, Bid: bid, Ask: ask, ObservedAt: at}, nil
}

func decimalField(r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() {
		return decimal.Zero, errors.New("missing")
	}
	switch r.Type {
	case gjson.Number, gjson.String:
		return decimal.NewFromString(strings.TrimSpace(r.String()))
	}
	return decimal.Zero, fmt.Errorf("unexpected %s", r.Type)
}
