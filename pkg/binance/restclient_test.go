package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klinesBody = `[
  [1735700400000, "96165.29", "96200.00", "95400.10", "95469.28", "1234.5", 1735700459999, "118000000.5", 5120, "600.25", "57500000.75", "0"],
  [1735700460000, "95469.28", "95500.00", "95300.00", "95310.00", "10.0", 1735700519999, "953100.0", 12, "5.0", "476550.0", "0"]
]`

// go test -v --run TestFetch
func TestFetch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = map[string]string{
			"symbol":    r.URL.Query().Get("symbol"),
			"interval":  r.URL.Query().Get("interval"),
			"startTime": r.URL.Query().Get("startTime"),
			"limit":     r.URL.Query().Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)
	rows, err := client.Fetch(context.Background(), "btcusdt", timing.Res1m, 1735700400000, 5000)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"symbol": "BTCUSDT", "interval": "1m", "startTime": "1735700400000", "limit": "1000",
	}, gotQuery)

	recs, err := kline.NormalizeBatch(rows)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "BTCUSDT", recs[0].Ticker)
	assert.Equal(t, 95469.28, recs[0].Close)
	assert.Equal(t, int64(5120), recs[0].NumberOfTrades)
	assert.Equal(t, 57500000.75, recs[0].TakerBuyQuoteAssetVolume)
	assert.True(t, recs[1].IsClosed)
}

func TestFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL, 5*time.Second).Fetch(context.Background(), "NOPE", timing.Res1m, 0, 10)
	assert.Error(t, err)
}

func TestTradingSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT"},
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}
		]}`))
	}))
	defer srv.Close()

	symbols, err := NewRESTClient(srv.URL, 5*time.Second).TradingSymbols(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}
