package marketdata

import (
	"time"

	"github.com/montanaflynn/stats"

	dm "infodigest/internal/domain/monitoring"
)

// 指標預設週期，與常見看盤軟體一致。
const (
	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerStdDev = 2.0
	atrPeriod       = 14
	volumeAvgPeriod = 20
)

// Compute 由歷史 K 線（由舊到新）計算技術指標集合。
// 資料不足以計算的指標欄位維持 nil。
func Compute(bars []dm.PriceBar, now time.Time) dm.Technicals {
	tech := dm.Technicals{CalculatedAt: now}
	if len(bars) == 0 {
		return tech
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	tech.SMA20 = SMA(closes, 20)
	tech.SMA50 = SMA(closes, 50)
	tech.RSI = RSI(closes, rsiPeriod)
	tech.MACDHistogram = MACDHistogram(closes, macdFast, macdSlow, macdSignal)
	tech.BollingerUpper, tech.BollingerLower = Bollinger(closes, bollingerPeriod, bollingerStdDev)
	tech.ATR = ATR(bars, atrPeriod)
	tech.VolumeAvg20 = SMA(volumes, volumeAvgPeriod)
	return tech
}

// SMA 計算最近 period 筆的簡單移動平均。
func SMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	mean, err := stats.Mean(stats.Float64Data(values[len(values)-period:]))
	if err != nil {
		return nil
	}
	return &mean
}

// RSI 以 Wilder 平滑法計算相對強弱指標。
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		v := 100.0
		return &v
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return &v
}

// MACDHistogram 計算 MACD 柱狀圖（DIF 與訊號線的差值）。
func MACDHistogram(closes []float64, fast, slow, signal int) *float64 {
	if len(closes) < slow+signal {
		return nil
	}
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)

	// DIF 序列自慢線可算起的位置對齊。
	dif := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		dif = append(dif, fastEMA[i]-slowEMA[i])
	}
	signalEMA := emaSeries(dif, signal)

	last := len(dif) - 1
	v := dif[last] - signalEMA[last]
	return &v
}

// Bollinger 計算布林通道上下緣（均線 ± n 倍標準差）。
func Bollinger(closes []float64, period int, nStdDev float64) (upper, lower *float64) {
	if period <= 0 || len(closes) < period {
		return nil, nil
	}
	window := stats.Float64Data(closes[len(closes)-period:])
	mean, err := stats.Mean(window)
	if err != nil {
		return nil, nil
	}
	sd, err := stats.StandardDeviationPopulation(window)
	if err != nil {
		return nil, nil
	}
	u := mean + nStdDev*sd
	l := mean - nStdDev*sd
	return &u, &l
}

// ATR 以 Wilder 平滑法計算平均真實波幅。
func ATR(bars []dm.PriceBar, period int) *float64 {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		if d := abs(bars[i].High - bars[i-1].Close); d > tr {
			tr = d
		}
		if d := abs(bars[i].Low - bars[i-1].Close); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}

	var atr float64
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return &atr
}

// emaSeries 回傳與輸入等長的 EMA 序列，前 period-1 筆以累積均值暖身。
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	var sum float64
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = v*k + out[i-1]*(1-k)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
