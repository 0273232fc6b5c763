package binance

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"github.com/adshao/go-binance/v2"
)

// MaxKlinesPerRequest is the spot klines endpoint's page limit.
const MaxKlinesPerRequest = 1000

type RESTClient struct {
	client *binance.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &RESTClient{client: client}
}

// Fetch returns up to limit klines of ticker opening at or after startMs, oldest first.
// Rows keep the endpoint's positional layout for the normalizer.
func (c *RESTClient) Fetch(ctx context.Context, ticker string, res timing.Resolution, startMs int64, limit int) ([]kline.RestRow, error) {
	if limit <= 0 || limit > MaxKlinesPerRequest {
		limit = MaxKlinesPerRequest
	}
	ticker = kline.CanonicalTicker(ticker)

	kls, err := c.client.NewKlinesService().
		Symbol(ticker).
		Interval(string(res)).
		StartTime(startMs).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s klines from %d: %w", ticker, res, startMs, err)
	}

	rows := make([]kline.RestRow, 0, len(kls))
	for _, k := range kls {
		if k == nil {
			continue
		}
		rows = append(rows, kline.RestRow{
			Ticker:     ticker,
			Resolution: res,
			Values: []any{
				k.OpenTime,
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				k.CloseTime,
				k.QuoteAssetVolume,
				k.TradeNum,
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			},
		})
	}
	return rows, nil
}

// TradingSymbols lists symbols currently trading against quote (e.g. "USDT"), sorted.
func (c *RESTClient) TradingSymbols(ctx context.Context, quote string) ([]string, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	quote = strings.ToUpper(quote)
	var symbols []string
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if quote != "" && s.QuoteAsset != quote {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}
