package indicator

import (
	"math"
	"time"
)

// Builtins returns the built-in indicator definitions discovered at startup.
//
// Numeric semantics: *_pct variants publish percent values (a 15 % move is
// 15.0) so condition thresholds read naturally; ratio variants are
// non-negative; velocity variants are signed and derived from the window's
// edge timestamps, not a constant tick count, because ticks are irregular.
func Builtins() []Definition {
	return []Definition{
		pumpMagnitudePct(),
		volumeSurgeRatio(),
		priceVelocity(),
		priceDropPct(),
		bidAskSpreadPct(),
		volatility(),
		vwapDeviationPct(),
	}
}

func seconds(params Params, name string) time.Duration {
	return time.Duration(params.Get(name) * float64(time.Second))
}

// pumpMagnitudePct measures the signed price move across the lookback window:
// (last - first) / first, published as percent.
func pumpMagnitudePct() Definition {
	return Definition{
		Name: "pump_magnitude_pct",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 30, Min: 1, Max: 3600},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			ticks := w.Slice(seconds(params, "window_sec"))
			if len(ticks) < 2 {
				return 0, false
			}
			first := ticks[0].Price
			last := ticks[len(ticks)-1].Price
			if first == 0 {
				return 0, false
			}
			return (last - first) / first * 100, true
		},
	}
}

// volumeSurgeRatio compares traded volume in the current window against the
// per-equal-duration average of the preceding baseline window.
func volumeSurgeRatio() Definition {
	return Definition{
		Name: "volume_surge_ratio",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 30, Min: 1, Max: 3600},
			{Name: "baseline_sec", Default: 300, Min: 2, Max: 86400},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			window := seconds(params, "window_sec")
			baseline := seconds(params, "baseline_sec")
			if baseline <= window {
				return 0, false
			}
			current := w.Slice(window)
			past := w.Between(baseline, window)
			if len(current) == 0 || len(past) == 0 {
				return 0, false
			}
			var curVol, pastVol float64
			for _, t := range current {
				curVol += t.Volume
			}
			for _, t := range past {
				pastVol += t.Volume
			}
			// Normalize the baseline to the current window's duration.
			scale := float64(baseline-window) / float64(window)
			if scale <= 0 || pastVol == 0 {
				return 0, false
			}
			normalized := pastVol / scale
			return curVol / normalized, true
		},
	}
}

// priceVelocity is the signed rate of change per second, measured between the
// window's edge ticks.
func priceVelocity() Definition {
	return Definition{
		Name: "price_velocity",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 30, Min: 1, Max: 3600},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			ticks := w.Slice(seconds(params, "window_sec"))
			if len(ticks) < 2 {
				return 0, false
			}
			first, last := ticks[0], ticks[len(ticks)-1]
			dt := last.Timestamp.Sub(first.Timestamp).Seconds()
			if dt <= 0 {
				return 0, false
			}
			return (last.Price - first.Price) / dt, true
		},
	}
}

// priceDropPct measures the decline from the window high to the last price,
// published as a non-negative percent (0 when the last price is the high).
func priceDropPct() Definition {
	return Definition{
		Name: "price_drop_pct",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 60, Min: 1, Max: 3600},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			ticks := w.Slice(seconds(params, "window_sec"))
			if len(ticks) < 2 {
				return 0, false
			}
			high := ticks[0].Price
			for _, t := range ticks {
				if t.Price > high {
					high = t.Price
				}
			}
			if high == 0 {
				return 0, false
			}
			last := ticks[len(ticks)-1].Price
			drop := (high - last) / high * 100
			if drop < 0 {
				drop = 0
			}
			return drop, true
		},
	}
}

// bidAskSpreadPct is the relative spread of the newest tick against its mid
// price, published as percent.
func bidAskSpreadPct() Definition {
	return Definition{
		Name:       "bid_ask_spread_pct",
		Specs:      nil,
		MinSamples: 1,
		Calc: func(w *Window, params Params) (float64, bool) {
			last, ok := w.Last()
			if !ok || last.Bid <= 0 || last.Ask <= 0 || last.Ask < last.Bid {
				return 0, false
			}
			mid := (last.Bid + last.Ask) / 2
			return (last.Ask - last.Bid) / mid * 100, true
		},
	}
}

// volatility is the population standard deviation of prices in the window.
func volatility() Definition {
	return Definition{
		Name: "volatility",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 60, Min: 1, Max: 3600},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			ticks := w.Slice(seconds(params, "window_sec"))
			if len(ticks) < 2 {
				return 0, false
			}
			var sum float64
			for _, t := range ticks {
				sum += t.Price
			}
			mean := sum / float64(len(ticks))
			var variance float64
			for _, t := range ticks {
				d := t.Price - mean
				variance += d * d
			}
			variance /= float64(len(ticks))
			return math.Sqrt(variance), true
		},
	}
}

// vwapDeviationPct is the signed deviation of the last price from the
// volume-weighted average price of the window, published as percent.
func vwapDeviationPct() Definition {
	return Definition{
		Name: "vwap_deviation_pct",
		Specs: []ParamSpec{
			{Name: "window_sec", Default: 60, Min: 1, Max: 3600},
		},
		MinSamples: 2,
		Calc: func(w *Window, params Params) (float64, bool) {
			ticks := w.Slice(seconds(params, "window_sec"))
			if len(ticks) < 2 {
				return 0, false
			}
			var pv, vol float64
			for _, t := range ticks {
				pv += t.Price * t.Volume
				vol += t.Volume
			}
			if vol == 0 {
				return 0, false
			}
			vwap := pv / vol
			if vwap == 0 {
				return 0, false
			}
			last := ticks[len(ticks)-1].Price
			return (last - vwap) / vwap * 100, true
		},
	}
}
