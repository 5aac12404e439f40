package monitoring

import (
	"fmt"
	"time"
)

// Status 表示規則的生命週期狀態。
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// ConditionKind 表示條件類型。
type ConditionKind string

const (
	KindPrice     ConditionKind = "price"
	KindTechnical ConditionKind = "technical"
	KindNews      ConditionKind = "news"
	KindTime      ConditionKind = "time"
)

// Rule 為使用者定義的監控策略，命中時產生通知。
type Rule struct {
	ID              string
	UserID          string
	Name            string
	Symbol          string
	Kind            ConditionKind
	Conditions      Conditions
	Priority        int // 0-100，使用者指定的靜態權重，預設 50
	Status          Status
	LastTriggeredAt *time.Time
	TriggerCount    int
	CreatedAt       time.Time
}

// Conditions 為各條件類型的參數集合，僅填入對應類型的欄位。
type Conditions struct {
	PriceAbove    *float64 `json:"priceAbove,omitempty"`
	PriceBelow    *float64 `json:"priceBelow,omitempty"`
	PercentChange *float64 `json:"percentChange,omitempty"`

	RSI       *RSICondition       `json:"rsi,omitempty"`
	MACD      *MACDCondition      `json:"macd,omitempty"`
	Bollinger *BollingerCondition `json:"bollinger,omitempty"`

	MinImportance *float64 `json:"minImportance,omitempty"`
	Categories    []string `json:"categories,omitempty"`

	TimeRange *TimeRange `json:"timeRange,omitempty"`
	DayOfWeek *int       `json:"dayOfWeek,omitempty"`
}

// RSICondition 以嚴格比較（> / <）判斷 RSI 穿越門檻。
type RSICondition struct {
	Above *float64 `json:"above,omitempty"`
	Below *float64 `json:"below,omitempty"`
}

// MACDCondition 以柱狀圖正負號判斷交叉訊號。
type MACDCondition struct {
	CrossoverAbove bool `json:"crossoverAbove,omitempty"`
	CrossoverBelow bool `json:"crossoverBelow,omitempty"`
}

// BollingerCondition 判斷價格觸及布林通道（含 1% 容忍區間）。
type BollingerCondition struct {
	TouchUpper bool `json:"touchUpper,omitempty"`
	TouchLower bool `json:"touchLower,omitempty"`
}

// TimeRange 為每日時間窗，格式 HH:MM，邊界含端點。
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Validate 檢查規則欄位與條件參數是否齊全。
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user id required")
	}
	if r.Symbol == "" && r.Kind != KindTime {
		return fmt.Errorf("symbol required")
	}
	switch r.Kind {
	case KindPrice:
		if r.Conditions.PriceAbove == nil && r.Conditions.PriceBelow == nil && r.Conditions.PercentChange == nil {
			return fmt.Errorf("price rule needs priceAbove, priceBelow or percentChange")
		}
	case KindTechnical:
		if r.Conditions.RSI == nil && r.Conditions.MACD == nil && r.Conditions.Bollinger == nil {
			return fmt.Errorf("technical rule needs rsi, macd or bollinger")
		}
	case KindNews:
		if r.Conditions.MinImportance == nil && len(r.Conditions.Categories) == 0 {
			return fmt.Errorf("news rule needs minImportance or categories")
		}
	case KindTime:
		if r.Conditions.TimeRange == nil && r.Conditions.DayOfWeek == nil {
			return fmt.Errorf("time rule needs timeRange or dayOfWeek")
		}
	default:
		return fmt.Errorf("unknown condition kind: %s", r.Kind)
	}
	return nil
}

// EffectivePriority 回傳通知基礎優先度，未設定時採預設 50。
func (r Rule) EffectivePriority() float64 {
	if r.Priority <= 0 {
		return 50
	}
	if r.Priority > 100 {
		return 100
	}
	return float64(r.Priority)
}

// FocusStatus 表示臨時關注項目的狀態。
type FocusStatus string

const (
	FocusMonitoring FocusStatus = "monitoring"
	FocusCompleted  FocusStatus = "completed"
	FocusExpired    FocusStatus = "expired"
)

// FocusPointType 表示關注點類型。
type FocusPointType string

const (
	FocusPointPriceLevel  FocusPointType = "price_level"
	FocusPointCorrelation FocusPointType = "correlation"
)

// FocusPoint 為臨時關注的單一關注點。
type FocusPoint struct {
	Type      FocusPointType `json:"type"`
	Price     *float64       `json:"price,omitempty"`
	Threshold *float64       `json:"threshold,omitempty"` // 接近目標價的比例門檻，預設 0.02
	Note      string         `json:"note,omitempty"`
}

// FocusItem 為有期限的臨時關注，到期後轉為 expired，不再重新啟用。
type FocusItem struct {
	ID          string
	UserID      string
	Title       string
	Targets     []string
	FocusPoints []FocusPoint
	Status      FocusStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired 回傳項目是否已過期。
func (f FocusItem) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && f.ExpiresAt.Before(now)
}

// Validate 檢查臨時關注欄位。
func (f FocusItem) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("focus id required")
	}
	if f.UserID == "" {
		return fmt.Errorf("user id required")
	}
	if len(f.Targets) == 0 {
		return fmt.Errorf("at least one target symbol required")
	}
	if f.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at required")
	}
	return nil
}
