// Package indicators is the Indicator Aggregator (C2): computes RSI, MACD,
// EMA, ATR, ADX and Bollinger Bands from OHLCV windows and caches the result
// per (symbol, timeframe, bar close) so repeated ticks within a bar are free.
package indicators

import (
	"math"
	"sync"

	"okx-scalper/internal/domain"
)

// WarmupBars is the minimum number of closed bars required before a
// snapshot is emitted; before that the pipeline short-circuits to no-signal.
const WarmupBars = 30

const (
	rsiPeriod    = 14
	emaFast      = 12
	emaSlow      = 26
	macdSignal   = 9
	atrPeriod    = 14
	adxPeriod    = 14
	bbPeriod     = 20
	bbStdDev     = 2.0

	// volumeAvgPeriod is the trailing window CalculateVolumeRatio averages
	// against, matching the teacher's default VolumeAnalyzer period.
	volumeAvgPeriod = 20
)

// CalculateSMA returns the simple moving average of the last `period` closes.
func CalculateSMA(candles []domain.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// CalculateEMA seeds with an SMA over the first `period` bars, then iterates
// the standard smoothing recurrence over the remainder.
func CalculateEMA(candles []domain.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1)
	ema := CalculateSMA(candles[:period], period)
	for _, c := range candles[period:] {
		ema = c.Close*k + ema*(1-k)
	}
	return ema
}

// emaSeries returns the full EMA series aligned to candles[period-1:], used
// internally to build a true MACD signal line instead of approximating it.
func emaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1)
	var sum float64
	for _, c := range closes[:period] {
		sum += c
	}
	ema := sum / float64(period)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, ema)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// CalculateRSI returns RSI(period) from simple averages of the gains and
// losses over the last `period` closes (no Wilder smoothing). Returns 50 (neutral) when
// there is insufficient data rather than a misleadingly precise number.
func CalculateRSI(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0
	}
	var gainSum, lossSum float64
	window := candles[len(candles)-period-1:]
	for i := 1; i < len(window); i++ {
		diff := window[i].Close - window[i-1].Close
		if diff > 0 {
			gainSum += diff
		} else {
			lossSum += -diff
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1 + rs))
}

// MACDResult holds the MACD line, its signal line, and their difference.
type MACDResult struct {
	MACDLine   float64
	SignalLine float64
	Histogram  float64
}

// CalculateMACD computes a true MACD(fast,slow,signal): the signal line is a
// real `signal`-period EMA of the MACD line series, not a fixed multiple of
// the instantaneous MACD value, so histogram sign flips are genuine
// crossovers rather than an artifact of the approximation.
func CalculateMACD(candles []domain.Candle, fast, slow, signal int) MACDResult {
	if len(candles) < slow+signal {
		return MACDResult{}
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)
	// fastSeries is longer (starts earlier); align both to slow's start index.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdSeries, signal)
	if len(signalSeries) == 0 {
		return MACDResult{}
	}

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]
	return MACDResult{
		MACDLine:   macdLine,
		SignalLine: signalLine,
		Histogram:  macdLine - signalLine,
	}
}

// CalculateATR computes ATR(period) as the simple average of the last
// `period` true ranges (no Wilder smoothing).
func CalculateATR(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	window := candles[len(candles)-period-1:]
	var sum float64
	for i := 1; i < len(window); i++ {
		tr := trueRange(window[i], window[i-1])
		sum += tr
	}
	return sum / float64(period)
}

func trueRange(cur, prev domain.Candle) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ADXResult holds ADX and its directional components.
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADX computes a real Wilder ADX via +DM/-DM directional movement
// smoothed over `period`, rather than approximating it from the ATR-to-range
// ratio. Returns zero values until enough bars have accumulated.
func CalculateADX(candles []domain.Candle, period int) ADXResult {
	if len(candles) < period*2+1 {
		return ADXResult{}
	}

	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	smooth := func(series []float64, period int) []float64 {
		out := make([]float64, len(series))
		var sum float64
		for i := 1; i <= period; i++ {
			sum += series[i]
		}
		out[period] = sum
		for i := period + 1; i < len(series); i++ {
			out[i] = out[i-1] - out[i-1]/float64(period) + series[i]
		}
		return out
	}

	smTR := smooth(tr, period)
	smPlusDM := smooth(plusDM, period)
	smMinusDM := smooth(minusDM, period)

	dxSeries := make([]float64, 0, n)
	var lastPlusDI, lastMinusDI float64
	for i := period; i < n; i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlusDM[i] / smTR[i]
		minusDI := 100 * smMinusDM[i] / smTR[i]
		lastPlusDI, lastMinusDI = plusDI, minusDI
		sumDI := plusDI + minusDI
		if sumDI == 0 {
			dxSeries = append(dxSeries, 0)
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / sumDI
		dxSeries = append(dxSeries, dx)
	}

	if len(dxSeries) < period {
		return ADXResult{PlusDI: lastPlusDI, MinusDI: lastMinusDI}
	}

	var adxSum float64
	for _, dx := range dxSeries[:period] {
		adxSum += dx
	}
	adx := adxSum / float64(period)
	for _, dx := range dxSeries[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}

	return ADXResult{ADX: adx, PlusDI: lastPlusDI, MinusDI: lastMinusDI}
}

// BollingerBandsResult holds the three band levels.
type BollingerBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands computes a `period`-bar SMA with `stdDevMult`
// standard-deviation bands.
func CalculateBollingerBands(candles []domain.Candle, period int, stdDevMult float64) BollingerBandsResult {
	if len(candles) < period {
		return BollingerBandsResult{}
	}
	window := candles[len(candles)-period:]
	mean := CalculateSMA(candles, period)
	var variance float64
	for _, c := range window {
		d := c.Close - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))
	return BollingerBandsResult{
		Upper:  mean + stdDevMult*stdDev,
		Middle: mean,
		Lower:  mean - stdDevMult*stdDev,
	}
}

// CalculateStandardPivotPoints derives the floor-trader pivot ladder from
// the last closed candle in the window (the prior completed period).
func CalculateStandardPivotPoints(candles []domain.Candle) domain.PivotLevels {
	if len(candles) == 0 {
		return domain.PivotLevels{}
	}
	prior := candles[len(candles)-1]
	high, low, close := prior.High, prior.Low, prior.Close

	pp := (high + low + close) / 3
	return domain.PivotLevels{
		PP: pp,
		R1: (2 * pp) - low,
		S1: (2 * pp) - high,
		R2: pp + (high - low),
		S2: pp - (high - low),
		R3: high + 2*(pp-low),
		S3: low - 2*(high-pp),
	}
}

// CalculateVolumeRatio returns the last candle's volume over its trailing
// volumeAvgPeriod-bar average; 0 if the average is undefined.
func CalculateVolumeRatio(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	period := volumeAvgPeriod
	if len(candles) < period {
		period = len(candles)
	}
	window := candles[len(candles)-period:]
	var sum float64
	for _, c := range window {
		sum += c.Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 0
	}
	return candles[len(candles)-1].Volume / avg
}

// DetermineVolumeType classifies the last candle's volume as buying or
// selling pressure by body size versus the wick on the side that would
// contradict the close direction.
func DetermineVolumeType(candle domain.Candle) domain.VolumeType {
	body := math.Abs(candle.Close - candle.Open)
	upperWick := candle.High - math.Max(candle.Open, candle.Close)
	lowerWick := math.Min(candle.Open, candle.Close) - candle.Low

	switch {
	case candle.Close > candle.Open:
		if upperWick < body*0.2 {
			return domain.VolumeTypeBuying
		}
	case candle.Close < candle.Open:
		if lowerWick < body*0.2 {
			return domain.VolumeTypeSelling
		}
	}
	return domain.VolumeTypeNeutral
}

// CalculateOBV accumulates On-Balance Volume across the whole window.
func CalculateOBV(candles []domain.Candle) float64 {
	var obv float64
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
	}
	return obv
}

// cacheKey identifies one computed snapshot so repeated calls within the
// same bar don't recompute it.
type cacheKey struct {
	symbol string
	tf     string
	barTs  int64
}

// Aggregator computes and caches indicator snapshots per (symbol, tf, bar).
type Aggregator struct {
	mu    sync.Mutex
	cache map[cacheKey]domain.IndicatorSnapshot
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{cache: make(map[cacheKey]domain.IndicatorSnapshot)}
}

// Compute returns the indicator snapshot for candles' last closed bar,
// using the cache if this exact bar was already computed. WarmedUp is false
// (and every field left zero) until at least WarmupBars bars are present.
func (a *Aggregator) Compute(symbol, tf string, candles []domain.Candle) domain.IndicatorSnapshot {
	if len(candles) == 0 {
		return domain.IndicatorSnapshot{Symbol: symbol}
	}
	last := candles[len(candles)-1]
	key := cacheKey{symbol: symbol, tf: tf, barTs: last.OpenTime.UnixNano()}

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	snap := domain.IndicatorSnapshot{Symbol: symbol}
	if len(candles) < WarmupBars {
		return snap
	}

	snap.RSI = CalculateRSI(candles, rsiPeriod)
	snap.EMAFast = CalculateEMA(candles, emaFast)
	snap.EMASlow = CalculateEMA(candles, emaSlow)
	macd := CalculateMACD(candles, emaFast, emaSlow, macdSignal)
	snap.MACDLine, snap.MACDSignal, snap.MACDHist = macd.MACDLine, macd.SignalLine, macd.Histogram
	snap.ATR = CalculateATR(candles, atrPeriod)
	adx := CalculateADX(candles, adxPeriod)
	snap.ADX, snap.PlusDI, snap.MinusDI = adx.ADX, adx.PlusDI, adx.MinusDI
	bb := CalculateBollingerBands(candles, bbPeriod, bbStdDev)
	snap.BBUpper, snap.BBMiddle, snap.BBLower = bb.Upper, bb.Middle, bb.Lower
	snap.Pivot = CalculateStandardPivotPoints(candles)
	snap.VolumeRatio = CalculateVolumeRatio(candles)
	snap.VolumeType = DetermineVolumeType(candles[len(candles)-1])
	snap.OBV = CalculateOBV(candles)
	snap.WarmedUp = true

	a.mu.Lock()
	a.cache[key] = snap
	a.mu.Unlock()
	return snap
}
