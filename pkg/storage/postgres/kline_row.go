package postgres

import (
	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"
)

// KlineRow is a closed kline in one of the per-resolution tables.
type KlineRow struct {
	Ticker   string `gorm:"type:varchar(32);primaryKey"`
	OpenTime int64  `gorm:"primaryKey;autoIncrement:false"`

	Open  float64 `gorm:"type:real;not null"`
	High  float64 `gorm:"type:real;not null"`
	Low   float64 `gorm:"type:real;not null"`
	Close float64 `gorm:"type:real;not null"`

	BaseAssetVolume  float64 `gorm:"type:double precision;not null"`
	QuoteAssetVolume float64 `gorm:"type:double precision;not null"`

	CloseTime      int64 `gorm:"not null"`
	NumberOfTrades int64 `gorm:"not null"`

	TakerBuyBaseAssetVolume  float64 `gorm:"type:double precision;not null"`
	TakerBuyQuoteAssetVolume float64 `gorm:"type:double precision;not null"`
}

// TableName returns the table holding res klines, e.g. "klines_1h".
func TableName(res timing.Resolution) string {
	return "klines_" + string(res)
}

// ToRow maps a record onto a row for ticker.
func ToRow(ticker string, r kline.Record) KlineRow {
	return KlineRow{
		Ticker:                   kline.CanonicalTicker(ticker),
		OpenTime:                 r.OpenTime,
		Open:                     r.Open,
		High:                     r.High,
		Low:                      r.Low,
		Close:                    r.Close,
		BaseAssetVolume:          r.BaseAssetVolume,
		QuoteAssetVolume:         r.QuoteAssetVolume,
		CloseTime:                r.CloseTime,
		NumberOfTrades:           r.NumberOfTrades,
		TakerBuyBaseAssetVolume:  r.TakerBuyBaseAssetVolume,
		TakerBuyQuoteAssetVolume: r.TakerBuyQuoteAssetVolume,
	}
}
