package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lv-riskengine/internal/instruments"
	"lv-riskengine/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cacheReader struct{ c *Cache }

func (r cacheReader) GetQuotes(_ context.Context, symbols []string) ([]Quote, error) {
	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := r.c.Get(s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r cacheReader) ListAvailableSymbols() []string { return r.c.Table().Symbols() }

func TestQuoteWSStreamsRequestedSymbols(t *testing.T) {
	cache := NewCache(instruments.DefaultTable(), time.Second)
	srv := httptest.NewServer(NewQuoteWS(cacheReader{cache}, "*", zap.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?symbols=eurusd,XAUUSD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg quoteMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "quotes", msg.Type)
	require.Len(t, msg.Quotes, 2)
	assert.Equal(t, "EURUSD", msg.Quotes[0].Symbol)
	assert.Equal(t, "XAUUSD", msg.Quotes[1].Symbol)
}

func TestQuoteWSRejectsUnknownSymbol(t *testing.T) {
	cache := NewCache(instruments.DefaultTable(), time.Second)
	srv := httptest.NewServer(NewQuoteWS(cacheReader{cache}, "*", zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?symbols=NOPE")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuoteWSPushesOnLiveUpdate(t *testing.T) {
	cache := NewCache(instruments.DefaultTable(), time.Minute)
	bus := NewBus()
	cache.OnApply(PublishQuotes(bus))
	ws := NewQuoteWS(cacheReader{cache}, "*", zap.NewNop()).WithUpdates(bus)
	ws.interval = time.Hour
	srv := httptest.NewServer(ws)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?symbols=EURUSD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg quoteMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Quotes, 1)
	assert.Equal(t, types.QuoteSourceSynthetic, msg.Quotes[0].Source)

	require.True(t, cache.Put("EURUSD", d("1.1000"), d("1.1002"), types.QuoteSourceLive, time.Now()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Quotes, 1)
	assert.Equal(t, types.QuoteSourceLive, msg.Quotes[0].Source)
	assert.True(t, msg.Quotes[0].Bid.Equal(d("1.1")))
}
