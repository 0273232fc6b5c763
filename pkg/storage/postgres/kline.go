package postgres

import (
	"context"
	"fmt"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// TimeRange bounds open_time in milliseconds, both ends inclusive.
type TimeRange struct {
	Start int64
	End   int64
}

func (tr *TimeRange) scope(db *gorm.DB) *gorm.DB {
	if tr == nil {
		return db
	}
	return db.Where("open_time BETWEEN ? AND ?", tr.Start, tr.End)
}

// InsertKlines stores recs in one transaction. Rows whose (ticker, open_time) already exist
// are skipped, never overwritten. It returns the number of new rows.
func (p *Client) InsertKlines(ctx context.Context, ticker string, res timing.Resolution, recs []kline.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows := make([]KlineRow, len(recs))
	for i, r := range recs {
		rows[i] = ToRow(ticker, r)
	}

	var inserted int64
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Table(TableName(res)).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticker"}, {Name: "open_time"}},
			DoNothing: true,
		}).CreateInBatches(rows, insertBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert %d klines into %s: %w", len(recs), TableName(res), err)
	}
	return inserted, nil
}

// SelectKlines reads rows for ticker ordered by open_time. With no columns every column is read.
func (p *Client) SelectKlines(ctx context.Context, ticker string, res timing.Resolution, tr *TimeRange, columns ...string) ([]kline.PersistedRow, error) {
	ticker = kline.CanonicalTicker(ticker)

	q := p.DB.WithContext(ctx).Table(TableName(res)).Where("ticker = ?", ticker)
	if len(columns) > 0 {
		q = q.Select(columns)
	}

	var found []map[string]any
	if err := tr.scope(q).Order("open_time ASC").Find(&found).Error; err != nil {
		return nil, fmt.Errorf("select %s from %s: %w", ticker, TableName(res), err)
	}

	rows := make([]kline.PersistedRow, len(found))
	for i, m := range found {
		rows[i] = kline.PersistedRow{Ticker: ticker, Resolution: res, Fields: m}
	}
	return rows, nil
}

// SelectOpenTimes reads only the open_time column, ascending.
func (p *Client) SelectOpenTimes(ctx context.Context, ticker string, res timing.Resolution, tr *TimeRange) ([]int64, error) {
	ticker = kline.CanonicalTicker(ticker)

	var times []int64
	q := p.DB.WithContext(ctx).Table(TableName(res)).Where("ticker = ?", ticker)
	if err := tr.scope(q).Order("open_time ASC").Pluck("open_time", &times).Error; err != nil {
		return nil, fmt.Errorf("select open_time of %s from %s: %w", ticker, TableName(res), err)
	}
	return times, nil
}

// CountKlines counts stored rows for ticker.
func (p *Client) CountKlines(ctx context.Context, ticker string, res timing.Resolution) (int64, error) {
	var n int64
	err := p.DB.WithContext(ctx).Table(TableName(res)).
		Where("ticker = ?", kline.CanonicalTicker(ticker)).
		Count(&n).Error
	return n, err
}

// CleanTables deletes every row of the given resolution tables, all of them when none are given.
func (p *Client) CleanTables(ctx context.Context, resolutions ...timing.Resolution) error {
	if len(resolutions) == 0 {
		resolutions = timing.Resolutions
	}
	for _, res := range resolutions {
		err := p.DB.WithContext(ctx).Table(TableName(res)).
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&KlineRow{}).Error
		if err != nil {
			return fmt.Errorf("clean %s: %w", TableName(res), err)
		}
	}
	return nil
}
