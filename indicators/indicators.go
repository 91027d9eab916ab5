// Package indicators computes the EMA/ATR pair the strategy trades on and
// derives crossover signals, trend direction and ATR based stop levels.
package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/evdnx/smartbot/types"
)

// Point is the indicator state for one candle. ATR is NaN during warm-up.
type Point struct {
	Timestamp time.Time
	Close     float64
	EMAFast   float64
	EMASlow   float64
	ATR       float64
}

// Set is the per-candle indicator output aligned with the input series.
type Set struct {
	Points []Point
}

// Len returns the number of points.
func (s Set) Len() int { return len(s.Points) }

// Last returns the most recent point; ok is false for an empty set.
func (s Set) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Fast returns the fast EMA column.
func (s Set) Fast() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.EMAFast
	}
	return out
}

// Slow returns the slow EMA column.
func (s Set) Slow() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.EMASlow
	}
	return out
}

// EMA returns the exponential moving average of values with
// alpha = 2/(period+1). The first output equals the first input.
func EMA(values []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: ema period %d", types.ErrInvalidArgument, period)
	}
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out, nil
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per
// candle. The first candle has no predecessor and yields high-low.
func TrueRange(series types.Series) []float64 {
	out := make([]float64, len(series))
	for i, c := range series {
		prevClose := c.Close
		if i > 0 {
			prevClose = series[i-1].Close
		}
		hl := c.High - c.Low
		hc := math.Abs(c.High - prevClose)
		lc := math.Abs(c.Low - prevClose)
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR is the simple rolling mean of the true range over period candles. The
// first period-1 outputs are NaN.
func ATR(series types.Series, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: atr period %d", types.ErrInvalidArgument, period)
	}
	tr := TrueRange(series)
	out := make([]float64, len(tr))
	var sum float64
	for i, v := range tr {
		sum += v
		if i >= period {
			sum -= tr[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out, nil
}

// Compute builds the indicator set for every candle of series.
func Compute(series types.Series, fastPeriod, slowPeriod, atrPeriod int) (Set, error) {
	closes := series.Closes()
	fast, err := EMA(closes, fastPeriod)
	if err != nil {
		return Set{}, err
	}
	slow, err := EMA(closes, slowPeriod)
	if err != nil {
		return Set{}, err
	}
	atr, err := ATR(series, atrPeriod)
	if err != nil {
		return Set{}, err
	}
	pts := make([]Point, len(series))
	for i, c := range series {
		pts[i] = Point{
			Timestamp: c.Timestamp,
			Close:     c.Close,
			EMAFast:   fast[i],
			EMASlow:   slow[i],
			ATR:       atr[i],
		}
	}
	return Set{Points: pts}, nil
}

// Crossover reports a cross between the last two points.
type Crossover struct {
	Bullish bool
	Bearish bool
}

// Signal maps the crossover to an entry signal.
func (c Crossover) Signal() types.Signal {
	switch {
	case c.Bullish:
		return types.SignalBuy
	case c.Bearish:
		return types.SignalSell
	}
	return types.SignalNone
}

// DetectCrossover looks only at the last two points of fast and slow. With
// fewer than two points both flags are false.
func DetectCrossover(fast, slow []float64) Crossover {
	n := len(fast)
	if len(slow) < n {
		n = len(slow)
	}
	if n < 2 {
		return Crossover{}
	}
	f0, f1 := fast[len(fast)-2], fast[len(fast)-1]
	s0, s1 := slow[len(slow)-2], slow[len(slow)-1]
	return Crossover{
		Bullish: f0 <= s0 && f1 > s1,
		Bearish: f0 >= s0 && f1 < s1,
	}
}

// TrendAlignment compares the last fast and slow values.
func TrendAlignment(fast, slow []float64) types.Trend {
	if len(fast) == 0 || len(slow) == 0 {
		return types.TrendNeutral
	}
	f, s := fast[len(fast)-1], slow[len(slow)-1]
	switch {
	case f > s:
		return types.TrendBullish
	case f < s:
		return types.TrendBearish
	}
	return types.TrendNeutral
}

// DynamicStops derives stop loss and take profit from the ATR.
func DynamicStops(atr, slMult, tpMult, entry float64, side types.Side) (stop, target float64, err error) {
	switch side {
	case types.Buy:
		return entry - atr*slMult, entry + atr*tpMult, nil
	case types.Sell:
		return entry + atr*slMult, entry - atr*tpMult, nil
	}
	return 0, 0, fmt.Errorf("%w: side %q", types.ErrInvalidArgument, string(side))
}
