package risk

import "math"

// RR is reward distance over risk distance; zero when there is no risk.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// KellyFraction is f = (winRate*rr - (1-winRate)) / rr clamped to [0, cap].
func KellyFraction(winRate, rr, cap float64) float64 {
	if rr <= 0 {
		return 0
	}
	f := (winRate*rr - (1 - winRate)) / rr
	if f < 0 {
		return 0
	}
	if cap > 0 && f > cap {
		return cap
	}
	return f
}

// antiMartingaleMultiplier grows risk 25% per consecutive win (max 4) and
// halves it per consecutive loss (max 2).
func antiMartingaleMultiplier(wins, losses int) float64 {
	if losses > 0 {
		return math.Pow(0.5, float64(min(losses, 2)))
	}
	return 1 + 0.25*float64(min(wins, 4))
}
