package types

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is an ordered candle sequence, oldest first.
type Series []Candle

// Validate checks that timestamps are strictly increasing.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("%w: candle %d at %s not after %s", ErrInvalidArgument,
				i, s[i].Timestamp.Format(time.RFC3339), s[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe converts an exchange interval string ("1h", "4h", ...) to a
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.ToLower(strings.TrimSpace(tf))]
	if !ok {
		return 0, fmt.Errorf("%w: timeframe %q", ErrInvalidArgument, tf)
	}
	return d, nil
}
