package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// intervalZ is the standard normal quantile of a central 90% interval.
const intervalZ = 1.645

// IntervalSuffix names the list field carrying a target's prediction
// interval: target "load" gets "load_interval" as [lower, upper].
const IntervalSuffix = "_interval"

// AROracle fits an autoregressive model of the given order to each target
// after differencing it diff times (an ARIMA(p,d,0) model).
//
// Coefficients come from the Yule-Walker equations solved with
// Levinson-Durbin. Forecasts are produced recursively on the differenced
// series and integrated back. Each step also carries a 90% interval whose
// width grows with the square root of the horizon.
//
// Missing window values are dropped before fitting. A target with too few
// valid values repeats its last observation without an interval; one with
// none forecasts NaN.
type AROracle struct {
	order int
	diff  int
}

// NewAROracle creates an autoregressive oracle. order must be >= 1 and diff
// in [0, 2].
func NewAROracle(order, diff int) (*AROracle, error) {
	if order < 1 {
		return nil, fmt.Errorf("ar order must be >= 1, got %d", order)
	}
	if diff < 0 || diff > 2 {
		return nil, fmt.Errorf("ar differencing must be in [0, 2], got %d", diff)
	}
	return &AROracle{order: order, diff: diff}, nil
}

// Name returns the oracle identifier.
func (a *AROracle) Name() string { return "ar" }

// Load is a no-op; the model is fitted per request.
func (a *AROracle) Load(ctx context.Context) error {
	return ctx.Err()
}

// minPoints is the shortest series the model is fitted on.
func (a *AROracle) minPoints() int {
	return max(a.order+a.diff+2, 10)
}

// Forecast produces PredictionLength unstamped records.
func (a *AROracle) Forecast(ctx context.Context, in Input) ([]Output, error) {
	if in.PredictionLength <= 0 {
		return nil, fmt.Errorf("prediction length must be positive, got %d", in.PredictionLength)
	}

	taken := make(map[string]bool, len(in.Window.TargetCols)+1)
	taken[in.Window.TimestampCol] = true
	for _, col := range in.Window.TargetCols {
		taken[col] = true
	}

	out := make([]Output, in.PredictionLength)
	for i := range out {
		out[i].Values = make(map[string]float64, len(in.Window.TargetCols))
	}

	for _, col := range in.Window.TargetCols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values := make([]float64, 0, in.Window.Len())
		for _, rec := range in.Window.Records {
			if v := rec.Values[col]; v.Valid {
				values = append(values, v.Float)
			}
		}

		preds, sigma := a.fit(values, in.PredictionLength)
		name := col + IntervalSuffix
		withInterval := sigma > 0 && !math.IsInf(sigma, 0) && !taken[name]

		for h, p := range preds {
			out[h].Values[col] = p
			if withInterval {
				half := intervalZ * sigma * math.Sqrt(float64(h+1))
				if out[h].Lists == nil {
					out[h].Lists = make(map[string][]Item, 1)
				}
				out[h].Lists[name] = Floats(p-half, p+half)
			}
		}
	}

	return out, nil
}

// fit forecasts steps values past the end of values. sigma is the residual
// standard deviation of the fitted model, zero when none was fitted.
func (a *AROracle) fit(values []float64, steps int) (preds []float64, sigma float64) {
	preds = make([]float64, steps)
	switch {
	case len(values) == 0:
		for i := range preds {
			preds[i] = math.NaN()
		}
		return preds, 0
	case len(values) < a.minPoints():
		for i := range preds {
			preds[i] = values[len(values)-1]
		}
		return preds, 0
	}

	// lasts[k] is the final value of the series differenced k times.
	lasts := make([]float64, a.diff)
	series := values
	for k := 0; k < a.diff; k++ {
		lasts[k] = series[len(series)-1]
		series = difference(series)
	}

	mean := stat.Mean(series, nil)
	centered := make([]float64, len(series))
	for i, v := range series {
		centered[i] = v - mean
	}

	coeffs := yuleWalker(centered, a.order)
	residuals := residualsOf(centered, coeffs)
	if len(residuals) > 1 {
		sigma = stat.StdDev(residuals, nil)
	}

	hist := append([]float64(nil), centered[len(centered)-a.order:]...)
	for h := range preds {
		next := 0.0
		for i, c := range coeffs {
			next += c * hist[len(hist)-1-i]
		}
		hist = append(hist, next)

		x := next + mean
		for k := a.diff - 1; k >= 0; k-- {
			lasts[k] += x
			x = lasts[k]
		}
		preds[h] = x
	}
	return preds, sigma
}

func difference(series []float64) []float64 {
	out := make([]float64, len(series)-1)
	for i := range out {
		out[i] = series[i+1] - series[i]
	}
	return out
}

// yuleWalker estimates AR coefficients from the sample autocorrelations. A
// constant or numerically unstable series yields all-zero coefficients.
func yuleWalker(centered []float64, p int) []float64 {
	if stat.Variance(centered, nil) < 1e-10 {
		return make([]float64, p)
	}

	acf := make([]float64, p+1)
	for k := range acf {
		acf[k] = autocorr(centered, k)
	}

	coeffs, err := levinsonDurbin(acf, p)
	if err != nil {
		return make([]float64, p)
	}
	return coeffs
}

// autocorr returns the autocorrelation of a zero-mean series at lag.
func autocorr(series []float64, lag int) float64 {
	if lag >= len(series) {
		return 0
	}
	var c0, ck float64
	for i, v := range series {
		c0 += v * v
		if i+lag < len(series) {
			ck += v * series[i+lag]
		}
	}
	if c0 == 0 {
		return 0
	}
	return ck / c0
}

func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	phi := make([]float64, p+1)
	prev := make([]float64, p+1)
	v := acf[0]

	for k := 1; k <= p; k++ {
		if v <= 0 {
			return nil, errors.New("levinson-durbin: non-positive prediction error")
		}
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= prev[j] * acf[k-j]
		}
		phi[k] = num / v
		for j := 1; j < k; j++ {
			phi[j] = prev[j] - phi[k]*prev[k-j]
		}
		v *= 1 - phi[k]*phi[k]
		copy(prev, phi)
	}
	if v < 0 {
		return nil, errors.New("levinson-durbin: negative prediction error")
	}
	return phi[1:], nil
}

// residualsOf returns the one-step-ahead errors of coeffs over series.
func residualsOf(series, coeffs []float64) []float64 {
	p := len(coeffs)
	if len(series) <= p {
		return nil
	}
	out := make([]float64, len(series)-p)
	for t := p; t < len(series); t++ {
		pred := 0.0
		for i, c := range coeffs {
			pred += c * series[t-1-i]
		}
		out[t-p] = series[t] - pred
	}
	return out
}
