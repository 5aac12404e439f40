package scoring

import (
	"fmt"
	"log"
	"math"

	dm "infodigest/internal/domain/monitoring"
	ds "infodigest/internal/domain/scoring"
)

// 各子分數權重，總和必須為 1.0。
const (
	weightPrice     = 0.30
	weightVolume    = 0.20
	weightTechnical = 0.20
	weightNews      = 0.20
	weightRelevance = 0.10
)

// Input 為一次評分的輸入；News 為該標的近期新聞。
type Input struct {
	Snapshot dm.MarketSnapshot
	News     []dm.NewsItem
	User     ds.UserContext
}

// Scorer 將市場快照、新聞與使用者關聯換算為 0-100 的重要性分數。
type Scorer struct{}

// NewScorer 建立評分器並驗證權重設定。
func NewScorer() *Scorer {
	sum := weightPrice + weightVolume + weightTechnical + weightNews + weightRelevance
	if math.Abs(sum-1.0) > 1e-9 {
		panic(fmt.Sprintf("scoring weights must sum to 1.0, got %v", sum))
	}
	return &Scorer{}
}

// Score 計算總分與五個子分數明細。任何子分數計算異常（panic、NaN、Inf）
// 時退回中性結果 {50, medium}，不讓單筆評分失敗中斷監控循環。
func (s *Scorer) Score(in Input) (result ds.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scorer] score panic symbol=%s err=%v", in.Snapshot.Symbol, r)
			result = fallbackResult()
		}
	}()

	price := s.priceScore(in.Snapshot)
	volume := s.volumeScore(in.Snapshot)
	technical := s.technicalScore(in.Snapshot)
	news := s.newsScore(in.News)
	relevance := s.relevanceScore(in.User)

	breakdown := ds.Breakdown{
		Price:     component(price, weightPrice),
		Volume:    component(volume, weightVolume),
		Technical: component(technical, weightTechnical),
		News:      component(news, weightNews),
		Relevance: component(relevance, weightRelevance),
	}
	total := breakdown.Price.Weighted + breakdown.Volume.Weighted +
		breakdown.Technical.Weighted + breakdown.News.Weighted + breakdown.Relevance.Weighted

	if math.IsNaN(total) || math.IsInf(total, 0) {
		log.Printf("[Scorer] non-finite total symbol=%s", in.Snapshot.Symbol)
		return fallbackResult()
	}
	total = clamp(math.Round(total*100) / 100)

	return ds.Result{Total: total, Level: ds.LevelFor(total), Breakdown: breakdown}
}

// priceScore 依漲跌幅與日內振幅評分：|漲跌幅|每 1% 計 20 分，
// 振幅（(高-低)/收盤）每 1% 計 2 分、上限 20 分。
func (s *Scorer) priceScore(snap dm.MarketSnapshot) float64 {
	p := snap.Price
	if p == nil {
		return 0
	}
	score := math.Min(100, math.Abs(p.ChangePercent)*20)
	if p.Close > 0 {
		amplitude := (p.High - p.Low) / p.Close * 100
		score += math.Min(20, amplitude*2)
	}
	return clamp(score)
}

// volumeScore 依成交量相對 20 日均量的倍數評分。
func (s *Scorer) volumeScore(snap dm.MarketSnapshot) float64 {
	if snap.Price == nil || snap.Technical == nil ||
		snap.Technical.VolumeAvg20 == nil || *snap.Technical.VolumeAvg20 <= 0 {
		return 0
	}
	ratio := snap.Price.Volume / *snap.Technical.VolumeAvg20
	switch {
	case ratio >= 3:
		return 100
	case ratio >= 2:
		return 80
	case ratio >= 1.5:
		return 60
	case ratio >= 1.2:
		return 40
	default:
		return 10
	}
}

// technicalScore 依 RSI 極值、MACD 柱狀圖強度與布林通道位置累加。
func (s *Scorer) technicalScore(snap dm.MarketSnapshot) float64 {
	tech := snap.Technical
	if tech == nil {
		return 0
	}
	var score float64

	if tech.RSI != nil {
		rsi := *tech.RSI
		// 超買與超賣同分；接近極值區減半，分支互斥。
		if rsi <= 30 {
			score += 30
		} else if rsi >= 70 {
			score += 30
		} else if rsi <= 40 || rsi >= 60 {
			score += 15
		}
	}
	if tech.MACDHistogram != nil {
		score += math.Min(30, math.Abs(*tech.MACDHistogram)*100)
	}
	if snap.Price != nil {
		close := snap.Price.Close
		if tech.BollingerUpper != nil && close >= *tech.BollingerUpper*0.99 {
			score += 30
		} else if tech.BollingerLower != nil && close <= *tech.BollingerLower*1.01 {
			score += 30
		}
	}
	return clamp(score)
}

// newsScore 取近期新聞的最高重要性，多則高重要性新聞再加成。
func (s *Scorer) newsScore(news []dm.NewsItem) float64 {
	if len(news) == 0 {
		return 0
	}
	var maxImportance float64
	highCount := 0
	for _, item := range news {
		if item.ImportanceScore > maxImportance {
			maxImportance = item.ImportanceScore
		}
		if item.ImportanceScore >= 70 {
			highCount++
		}
	}
	score := maxImportance
	if highCount > 1 {
		score += math.Min(20, float64(highCount)*5)
	}
	return clamp(score)
}

// relevanceScore 依使用者與標的的關聯累加：持倉 60、自選 30、臨時關注 100，
// 持倉比重逾 10% 再加 20、逾 5% 加 10。
func (s *Scorer) relevanceScore(u ds.UserContext) float64 {
	var score float64
	if u.InPortfolio {
		score += 60
	}
	if u.InWatchlist {
		score += 30
	}
	if u.InTemporaryFocus {
		score += 100
	}
	if u.PositionWeight > 0.1 {
		score += 20
	} else if u.PositionWeight > 0.05 {
		score += 10
	}
	return clamp(score)
}

func component(score, weight float64) ds.Component {
	return ds.Component{Score: score, Weight: weight, Weighted: score * weight}
}

func fallbackResult() ds.Result {
	return ds.Result{Total: 50, Level: ds.LevelMedium}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
