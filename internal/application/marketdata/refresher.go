package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	dm "infodigest/internal/domain/monitoring"
)

// 計算指標時回溯的 K 線筆數，足以暖身最慢的 MACD(12,26,9)。
const barLookback = 120

// BarSource 提供歷史 K 線。
type BarSource interface {
	ListSymbols(ctx context.Context) ([]string, error)
	RecentBars(ctx context.Context, symbol string, limit int) ([]dm.PriceBar, error)
}

// TechnicalsSink 寫入計算後的技術指標。
type TechnicalsSink interface {
	SaveTechnicals(ctx context.Context, symbol string, tech dm.Technicals) error
}

// Refresher 重算各標的的技術指標並寫回儲存層。
type Refresher struct {
	bars    BarSource
	sink    TechnicalsSink
	nowFunc func() time.Time
}

// NewRefresher 建立 Refresher。
func NewRefresher(bars BarSource, sink TechnicalsSink) *Refresher {
	return &Refresher{bars: bars, sink: sink, nowFunc: time.Now}
}

// RefreshSymbol 重算單一標的的技術指標。
func (r *Refresher) RefreshSymbol(ctx context.Context, symbol string) error {
	bars, err := r.bars.RecentBars(ctx, symbol, barLookback)
	if err != nil {
		return fmt.Errorf("load bars for %s: %w", symbol, err)
	}
	tech := Compute(bars, r.nowFunc())
	if err := r.sink.SaveTechnicals(ctx, symbol, tech); err != nil {
		return fmt.Errorf("save technicals for %s: %w", symbol, err)
	}
	return nil
}

// RefreshAll 重算全部標的；單一標的失敗只記錄，回傳成功筆數。
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	symbols, err := r.bars.ListSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("list symbols: %w", err)
	}
	refreshed := 0
	for _, symbol := range symbols {
		if err := r.RefreshSymbol(ctx, symbol); err != nil {
			log.Printf("[Indicators] refresh failed symbol=%s err=%v", symbol, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
