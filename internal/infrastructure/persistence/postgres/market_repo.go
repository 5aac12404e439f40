package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	dm "infodigest/internal/domain/monitoring"
)

// MarketRepo 提供價格與技術指標的存取。
type MarketRepo struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewMarketRepo 建立 MarketRepo。
func NewMarketRepo(db *sql.DB) *MarketRepo {
	return &MarketRepo{db: db, nowFunc: time.Now}
}

// GetSnapshot 組合標的最新價格、前收與技術指標。價格或指標缺漏時
// 對應欄位為 nil，不視為錯誤。
func (r *MarketRepo) GetSnapshot(ctx context.Context, symbol string) (dm.MarketSnapshot, error) {
	snap := dm.MarketSnapshot{Symbol: symbol, FetchedAt: r.nowFunc()}

	const priceQ = `
SELECT symbol, open, high, low, close, volume, change_percent, ts
FROM prices
WHERE symbol = $1
ORDER BY ts DESC
LIMIT 1;
`
	var bar dm.PriceBar
	err := r.db.QueryRowContext(ctx, priceQ, symbol).Scan(&bar.Symbol, &bar.Open, &bar.High,
		&bar.Low, &bar.Close, &bar.Volume, &bar.ChangePercent, &bar.Timestamp)
	switch {
	case err == nil:
		snap.Price = &bar
	case errors.Is(err, sql.ErrNoRows):
		// 無價格資料
	default:
		return dm.MarketSnapshot{}, err
	}

	if snap.Price != nil {
		const prevQ = `
SELECT close FROM prices
WHERE symbol = $1
ORDER BY ts DESC
OFFSET 1 LIMIT 1;
`
		var prev float64
		err := r.db.QueryRowContext(ctx, prevQ, symbol).Scan(&prev)
		switch {
		case err == nil:
			snap.PrevClose = &prev
		case errors.Is(err, sql.ErrNoRows):
		default:
			return dm.MarketSnapshot{}, err
		}
	}

	const techQ = `
SELECT sma20, sma50, rsi, macd_histogram, bollinger_upper, bollinger_lower, atr, volume_avg20, calculated_at
FROM technical_indicators
WHERE symbol = $1
ORDER BY calculated_at DESC
LIMIT 1;
`
	var sma20, sma50, rsi, macd, bbUpper, bbLower, atr, volAvg sql.NullFloat64
	var calculatedAt time.Time
	err = r.db.QueryRowContext(ctx, techQ, symbol).Scan(&sma20, &sma50, &rsi, &macd,
		&bbUpper, &bbLower, &atr, &volAvg, &calculatedAt)
	switch {
	case err == nil:
		snap.Technical = &dm.Technicals{
			SMA20:          nullable(sma20),
			SMA50:          nullable(sma50),
			RSI:            nullable(rsi),
			MACDHistogram:  nullable(macd),
			BollingerUpper: nullable(bbUpper),
			BollingerLower: nullable(bbLower),
			ATR:            nullable(atr),
			VolumeAvg20:    nullable(volAvg),
			CalculatedAt:   calculatedAt,
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return dm.MarketSnapshot{}, err
	}

	return snap, nil
}

// RecentBars 回傳標的最近 limit 筆 K 線，由舊到新排列。
func (r *MarketRepo) RecentBars(ctx context.Context, symbol string, limit int) ([]dm.PriceBar, error) {
	const q = `
SELECT symbol, open, high, low, close, volume, change_percent, ts
FROM prices
WHERE symbol = $1
ORDER BY ts DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []dm.PriceBar
	for rows.Next() {
		var bar dm.PriceBar
		if err := rows.Scan(&bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.Volume, &bar.ChangePercent, &bar.Timestamp); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 由舊到新
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// SaveTechnicals 寫入（覆蓋）標的的最新技術指標。
func (r *MarketRepo) SaveTechnicals(ctx context.Context, symbol string, tech dm.Technicals) error {
	const q = `
INSERT INTO technical_indicators (symbol, sma20, sma50, rsi, macd_histogram, bollinger_upper, bollinger_lower, atr, volume_avg20, calculated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (symbol) DO UPDATE SET
	sma20 = EXCLUDED.sma20,
	sma50 = EXCLUDED.sma50,
	rsi = EXCLUDED.rsi,
	macd_histogram = EXCLUDED.macd_histogram,
	bollinger_upper = EXCLUDED.bollinger_upper,
	bollinger_lower = EXCLUDED.bollinger_lower,
	atr = EXCLUDED.atr,
	volume_avg20 = EXCLUDED.volume_avg20,
	calculated_at = EXCLUDED.calculated_at;
`
	_, err := r.db.ExecContext(ctx, q, symbol,
		floatArg(tech.SMA20), floatArg(tech.SMA50), floatArg(tech.RSI), floatArg(tech.MACDHistogram),
		floatArg(tech.BollingerUpper), floatArg(tech.BollingerLower), floatArg(tech.ATR),
		floatArg(tech.VolumeAvg20), tech.CalculatedAt)
	return err
}

// ListSymbols 回傳有價格資料的全部標的。
func (r *MarketRepo) ListSymbols(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT symbol FROM prices ORDER BY symbol;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
