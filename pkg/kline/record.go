package kline

import (
	"strings"

	"klinecollector/pkg/timing"
)

// Record is the canonical kline every source is normalized into.
type Record struct {
	Ticker     string            `json:"ticker"`
	Resolution timing.Resolution `json:"resolution"`

	OpenTime  int64 `json:"open_time"`  // ms since epoch, aligned to Resolution
	CloseTime int64 `json:"close_time"` // OpenTime + duration - 1

	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`

	BaseAssetVolume          float64 `json:"base_asset_volume"`
	QuoteAssetVolume         float64 `json:"quote_asset_volume"`
	NumberOfTrades           int64   `json:"number_of_trades"`
	TakerBuyBaseAssetVolume  float64 `json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteAssetVolume float64 `json:"taker_buy_quote_asset_volume"`

	IsClosed bool `json:"is_closed"`
}

// CanonicalTicker returns the uppercase form used for storage and lookups.
func CanonicalTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
