package strategy

import (
	"math"

	"github.com/evdnx/smartbot/types"
)

// IsTradingHours reports whether hour (UTC) lies in [start, end). A window
// with start > end wraps past midnight; start == end admits no hour.
func IsTradingHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// CheckSpread passes when the bid/ask spread is at most max.
func CheckSpread(q types.Quote, max float64) bool {
	return q.Spread() <= max
}

// CheckVolatility passes when atr is defined and at least min.
func CheckVolatility(atr, min float64) bool {
	return !math.IsNaN(atr) && atr >= min
}
