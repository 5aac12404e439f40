package monitoring

import "time"

// PriceBar 為單一標的最新一筆價格資料。
type PriceBar struct {
	Symbol        string
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	ChangePercent float64
	Timestamp     time.Time
}

// Technicals 為最新技術指標集合；nil 欄位代表資料不足，而非零值。
type Technicals struct {
	SMA20          *float64
	SMA50          *float64
	RSI            *float64
	MACDHistogram  *float64
	BollingerUpper *float64
	BollingerLower *float64
	ATR            *float64
	VolumeAvg20    *float64
	CalculatedAt   time.Time
}

// MarketSnapshot 為單一標的當下市場狀態；Price / Technical 各自可缺。
type MarketSnapshot struct {
	Symbol    string
	Price     *PriceBar
	PrevClose *float64
	Technical *Technicals
	FetchedAt time.Time
}

// NewsItem 為一則新聞事件。
type NewsItem struct {
	ID              string
	Title           string
	Symbols         []string
	Sectors         []string
	Category        string
	ImportanceScore float64
	URL             string
	PublishedAt     time.Time
	Processed       bool
}

// TriggerEvent 為規則命中時產生的暫態事件，核心不負責持久化。
type TriggerEvent struct {
	RuleID   string
	UserID   string
	Symbol   string
	Reason   string
	Snapshot MarketSnapshot
	At       time.Time
}
