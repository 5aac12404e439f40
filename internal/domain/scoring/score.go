package scoring

// Level 為重要性分數的粗分級。
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor 依固定門檻換算分級：<20 minimal、<40 low、<60 medium、<80 high、其餘 critical。
func LevelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Component 為單一子分數與其加權結果。
type Component struct {
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// Breakdown 為五個子分數的明細。
type Breakdown struct {
	Price     Component `json:"price"`
	Volume    Component `json:"volume"`
	Technical Component `json:"technical"`
	News      Component `json:"news"`
	Relevance Component `json:"userRelevance"`
}

// Result 為一次評分的輸出；Total 已裁剪至 [0,100] 並四捨五入到小數兩位。
type Result struct {
	Total     float64   `json:"totalScore"`
	Level     Level     `json:"level"`
	Breakdown Breakdown `json:"breakdown"`
}

// UserContext 描述標的與使用者的關聯，供使用者相關度子分數使用。
type UserContext struct {
	InPortfolio      bool
	InWatchlist      bool
	InTemporaryFocus bool
	// PositionWeight 為持倉佔投資組合比重（0-1），0 代表無持倉或未知。
	PositionWeight float64
}
