package notification

import (
	"strings"
	"time"
)

// Type 表示通知來源類型，亦為去重鍵的一部分。
type Type string

const (
	TypeStrategyTrigger Type = "strategy_trigger"
	TypeMarketEvent     Type = "market_event"
	TypeFocusAlert      Type = "focus_alert"
)

// Notification 為佇列中的一筆待推播通知，僅存在於記憶體，
// 送達成功或重試耗盡後即移除。
type Notification struct {
	ID        string
	UserID    string
	Type      Type
	Title     string
	Message   string
	Priority  float64 // 0-100，越高越先送
	DedupeKey string
	Payload   map[string]any
	CreatedAt time.Time
	Attempts  int
}

// DedupeKey 由 (userID, type, symbol, ruleID) 組成，空欄位略過。
// 相同鍵在去重時間窗內只會送出一次。
func DedupeKey(userID string, typ Type, symbol, ruleID string) string {
	parts := []string{userID, string(typ)}
	if symbol != "" {
		parts = append(parts, symbol)
	}
	if ruleID != "" {
		parts = append(parts, ruleID)
	}
	return strings.Join(parts, ":")
}
