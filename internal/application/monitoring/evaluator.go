package monitoring

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	dm "infodigest/internal/domain/monitoring"
)

// ConditionEvaluator 判斷單一規則在當前市場快照下是否命中。
// 必要資料缺漏時一律視為未命中，不回傳錯誤。
type ConditionEvaluator interface {
	Evaluate(in EvalInput) (matched bool, reason string)
}

// EvalInput 為一次條件評估的輸入。
type EvalInput struct {
	Rule     dm.Rule
	Snapshot dm.MarketSnapshot
	// News 為該標的近期新聞，僅 news 類型規則使用。
	News []dm.NewsItem
	Now  time.Time
}

// EvaluatorSet 依條件類型分派到對應評估器。
type EvaluatorSet struct {
	evaluators map[dm.ConditionKind]ConditionEvaluator
}

// NewEvaluatorSet 建立含全部內建評估器的集合。
func NewEvaluatorSet() *EvaluatorSet {
	return &EvaluatorSet{
		evaluators: map[dm.ConditionKind]ConditionEvaluator{
			dm.KindPrice:     PriceEvaluator{},
			dm.KindTechnical: TechnicalEvaluator{},
			dm.KindNews:      NewsEvaluator{},
			dm.KindTime:      TimeEvaluator{},
		},
	}
}

// Register 註冊或覆寫某條件類型的評估器。
func (s *EvaluatorSet) Register(kind dm.ConditionKind, ev ConditionEvaluator) {
	s.evaluators[kind] = ev
}

// Evaluate 分派到對應評估器；未知類型記錄後視為未命中。
func (s *EvaluatorSet) Evaluate(in EvalInput) (bool, string) {
	ev, ok := s.evaluators[in.Rule.Kind]
	if !ok {
		log.Printf("[Monitor] unknown condition kind rule_id=%s kind=%s", in.Rule.ID, in.Rule.Kind)
		return false, ""
	}
	return ev.Evaluate(in)
}

// PriceEvaluator 評估價格條件：突破上緣、跌破下緣或漲跌幅達標，任一成立即命中。
type PriceEvaluator struct{}

func (PriceEvaluator) Evaluate(in EvalInput) (bool, string) {
	price := in.Snapshot.Price
	if price == nil {
		return false, ""
	}
	c := in.Rule.Conditions
	var reasons []string

	if c.PriceAbove != nil && price.Close > *c.PriceAbove {
		reasons = append(reasons, fmt.Sprintf("價格突破 $%s，當前價格 $%s",
			trimFloat(*c.PriceAbove), trimFloat(price.Close)))
	}
	if c.PriceBelow != nil && price.Close < *c.PriceBelow {
		reasons = append(reasons, fmt.Sprintf("價格跌破 $%s，當前價格 $%s",
			trimFloat(*c.PriceBelow), trimFloat(price.Close)))
	}
	if c.PercentChange != nil && in.Snapshot.PrevClose != nil && *in.Snapshot.PrevClose != 0 {
		change := (price.Close - *in.Snapshot.PrevClose) / *in.Snapshot.PrevClose * 100
		if math.Abs(change) >= *c.PercentChange {
			reasons = append(reasons, fmt.Sprintf("漲跌幅達 %.2f%%", change))
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "；")
}

// TechnicalEvaluator 評估技術指標條件：RSI 門檻、MACD 柱狀圖正負號、布林通道觸碰。
type TechnicalEvaluator struct{}

func (TechnicalEvaluator) Evaluate(in EvalInput) (bool, string) {
	tech := in.Snapshot.Technical
	if tech == nil {
		return false, ""
	}
	c := in.Rule.Conditions
	var reasons []string

	if c.RSI != nil && tech.RSI != nil {
		if c.RSI.Above != nil && *tech.RSI > *c.RSI.Above {
			reasons = append(reasons, fmt.Sprintf("RSI %.1f 高於 %s", *tech.RSI, trimFloat(*c.RSI.Above)))
		}
		if c.RSI.Below != nil && *tech.RSI < *c.RSI.Below {
			reasons = append(reasons, fmt.Sprintf("RSI %.1f 低於 %s", *tech.RSI, trimFloat(*c.RSI.Below)))
		}
	}
	if c.MACD != nil && tech.MACDHistogram != nil {
		if c.MACD.CrossoverAbove && *tech.MACDHistogram > 0 {
			reasons = append(reasons, "MACD 黃金交叉")
		}
		if c.MACD.CrossoverBelow && *tech.MACDHistogram < 0 {
			reasons = append(reasons, "MACD 死亡交叉")
		}
	}
	if c.Bollinger != nil && in.Snapshot.Price != nil {
		close := in.Snapshot.Price.Close
		if c.Bollinger.TouchUpper && tech.BollingerUpper != nil && close >= *tech.BollingerUpper*0.99 {
			reasons = append(reasons, "價格觸及布林通道上緣")
		}
		if c.Bollinger.TouchLower && tech.BollingerLower != nil && close <= *tech.BollingerLower*1.01 {
			reasons = append(reasons, "價格觸及布林通道下緣")
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "；")
}

// newsWindow 為 news 條件回溯的新聞時間窗。
const newsWindow = 24 * time.Hour

// NewsEvaluator 評估新聞條件：24 小時內重要性達標或分類相符的新聞。
type NewsEvaluator struct{}

func (NewsEvaluator) Evaluate(in EvalInput) (bool, string) {
	c := in.Rule.Conditions
	cutoff := in.Now.Add(-newsWindow)
	for _, item := range in.News {
		if item.PublishedAt.Before(cutoff) {
			continue
		}
		if c.MinImportance != nil && item.ImportanceScore >= *c.MinImportance {
			return true, fmt.Sprintf("重要新聞：%s", item.Title)
		}
		for _, cat := range c.Categories {
			if item.Category == cat {
				return true, fmt.Sprintf("相關新聞：%s", item.Title)
			}
		}
	}
	return false, ""
}

// TimeEvaluator 評估時間條件：每日時間窗（含端點）或星期幾。
type TimeEvaluator struct{}

func (TimeEvaluator) Evaluate(in EvalInput) (bool, string) {
	c := in.Rule.Conditions
	now := in.Now

	if c.TimeRange != nil {
		start, okS := parseMinuteOfDay(c.TimeRange.Start)
		end, okE := parseMinuteOfDay(c.TimeRange.End)
		if !okS || !okE {
			return false, ""
		}
		cur := now.Hour()*60 + now.Minute()
		if cur >= start && cur <= end {
			return true, fmt.Sprintf("進入監控時段 %s-%s", c.TimeRange.Start, c.TimeRange.End)
		}
		return false, ""
	}
	if c.DayOfWeek != nil {
		if int(now.Weekday()) == *c.DayOfWeek {
			return true, fmt.Sprintf("符合指定星期 %d", *c.DayOfWeek)
		}
	}
	return false, ""
}

// parseMinuteOfDay 解析 HH:MM 為當日分鐘數。
func parseMinuteOfDay(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// trimFloat 去除小數尾端多餘的零，輸出較貼近使用者輸入的數字。
func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
