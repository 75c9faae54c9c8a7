package indicators

import (
	"math"
	"testing"
	"time"

	"okx-scalper/internal/domain"
)

func syntheticCandles(n int, start, step float64, tf time.Duration) []domain.Candle {
	candles := make([]domain.Candle, n)
	price := start
	base := time.Now().Add(-time.Duration(n) * tf)
	for i := 0; i < n; i++ {
		open := price
		price += step
		close := price
		hi := math.Max(open, close) + 0.1
		lo := math.Min(open, close) - 0.1
		candles[i] = domain.Candle{
			OpenTime:  base.Add(time.Duration(i) * tf),
			CloseTime: base.Add(time.Duration(i+1) * tf),
			Open:      open, High: hi, Low: lo, Close: close,
			Volume: 100, Closed: true,
		}
	}
	return candles
}

func TestCalculateEMATracksUptrend(t *testing.T) {
	candles := syntheticCandles(50, 100, 1, time.Minute)
	ema := CalculateEMA(candles, 12)
	if ema <= 100 {
		t.Fatalf("EMA should track rising prices, got %v", ema)
	}
}

func TestCalculateRSIInsufficientDataReturnsNeutral(t *testing.T) {
	candles := syntheticCandles(5, 100, 1, time.Minute)
	rsi := CalculateRSI(candles, 14)
	if rsi != 50.0 {
		t.Fatalf("expected neutral 50 RSI on insufficient data, got %v", rsi)
	}
}

func TestCalculateRSIAllGainsIsHundred(t *testing.T) {
	candles := syntheticCandles(30, 100, 1, time.Minute)
	rsi := CalculateRSI(candles, 14)
	if rsi != 100.0 {
		t.Fatalf("expected RSI 100 on a pure uptrend, got %v", rsi)
	}
}

func TestCalculateMACDSignalIsRealEMANotFixedMultiple(t *testing.T) {
	candles := syntheticCandles(120, 100, 0.5, time.Minute)
	macd := CalculateMACD(candles, 12, 26, 9)
	if macd.SignalLine == macd.MACDLine*0.8 {
		t.Fatal("signal line must not be a fixed 0.8x multiple of the MACD line")
	}
	if macd.Histogram != macd.MACDLine-macd.SignalLine {
		t.Fatal("histogram must equal macd line minus signal line")
	}
}

func TestCalculateATRNonNegative(t *testing.T) {
	candles := syntheticCandles(30, 100, -0.3, time.Minute)
	atr := CalculateATR(candles, 14)
	if atr < 0 {
		t.Fatalf("ATR must be non-negative, got %v", atr)
	}
}

func TestAggregatorWarmupGating(t *testing.T) {
	agg := NewAggregator()
	shortWindow := syntheticCandles(10, 100, 1, time.Minute)
	snap := agg.Compute("BTC-USDT-SWAP", "1m", shortWindow)
	if snap.WarmedUp {
		t.Fatal("snapshot should not be warmed up below WarmupBars")
	}

	fullWindow := syntheticCandles(WarmupBars+20, 100, 1, time.Minute)
	snap = agg.Compute("BTC-USDT-SWAP", "1m", fullWindow)
	if !snap.WarmedUp {
		t.Fatal("snapshot should be warmed up at/above WarmupBars")
	}
}

func TestAggregatorCachesPerBar(t *testing.T) {
	agg := NewAggregator()
	window := syntheticCandles(WarmupBars+20, 100, 1, time.Minute)
	first := agg.Compute("ETH-USDT-SWAP", "1m", window)
	second := agg.Compute("ETH-USDT-SWAP", "1m", window)
	if first != second {
		t.Fatal("recomputation on the same closed bar should hit the cache and be identical")
	}
}

func TestCalculateStandardPivotPointsFromPriorCandle(t *testing.T) {
	candles := []domain.Candle{
		{High: 110, Low: 90, Close: 100},
	}
	pivot := CalculateStandardPivotPoints(candles)
	wantPP := (110.0 + 90.0 + 100.0) / 3
	if pivot.PP != wantPP {
		t.Fatalf("PP = %v, want %v", pivot.PP, wantPP)
	}
	if pivot.R1 != (2*wantPP)-90 {
		t.Fatalf("R1 = %v, want %v", pivot.R1, (2*wantPP)-90)
	}
	if pivot.S1 != (2*wantPP)-110 {
		t.Fatalf("S1 = %v, want %v", pivot.S1, (2*wantPP)-110)
	}
}

func TestCalculateVolumeRatioAboveAverageOnSpike(t *testing.T) {
	candles := syntheticCandles(21, 100, 1, time.Minute)
	candles[len(candles)-1].Volume = 500 // 5x the synthetic 100 baseline
	ratio := CalculateVolumeRatio(candles)
	if ratio <= 1.0 {
		t.Fatalf("expected volume ratio above average, got %v", ratio)
	}
}

func TestDetermineVolumeTypeBuyingOnStrongGreenCandle(t *testing.T) {
	candle := domain.Candle{Open: 100, Close: 105, High: 105.2, Low: 99.9}
	if got := DetermineVolumeType(candle); got != domain.VolumeTypeBuying {
		t.Fatalf("expected buying, got %v", got)
	}
}

func TestDetermineVolumeTypeSellingOnStrongRedCandle(t *testing.T) {
	candle := domain.Candle{Open: 105, Close: 100, High: 105.1, Low: 99.8}
	if got := DetermineVolumeType(candle); got != domain.VolumeTypeSelling {
		t.Fatalf("expected selling, got %v", got)
	}
}

func TestDetermineVolumeTypeNeutralOnLongWick(t *testing.T) {
	candle := domain.Candle{Open: 100, Close: 101, High: 110, Low: 99.9}
	if got := DetermineVolumeType(candle); got != domain.VolumeTypeNeutral {
		t.Fatalf("expected neutral on a long upper wick, got %v", got)
	}
}

func TestCalculateOBVAccumulatesWithDirection(t *testing.T) {
	candles := []domain.Candle{
		{Close: 100, Volume: 10},
		{Close: 101, Volume: 20}, // up: +20
		{Close: 99, Volume: 30},  // down: -30
		{Close: 99, Volume: 40},  // unchanged: no effect
	}
	obv := CalculateOBV(candles)
	if obv != -10 {
		t.Fatalf("OBV = %v, want -10", obv)
	}
}
