package oracle

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// BaselineOracle is an in-process forecaster for development and tests. It
// combines:
//   - Linear trend fitted by least squares over the window
//   - Seasonal-naive adjustment: the mean detrended residual at the same phase
//     of a fixed season length (e.g. 24 for hourly data with a daily cycle)
//
// Missing window values are ignored. A target with no valid values forecasts
// NaN at every step, which surfaces as the missing marker.
type BaselineOracle struct {
	season int
}

// NewBaselineOracle creates a baseline oracle. season <= 1 disables the
// seasonal component.
func NewBaselineOracle(season int) *BaselineOracle {
	if season < 1 {
		season = 1
	}
	return &BaselineOracle{season: season}
}

// Name returns the oracle identifier.
func (b *BaselineOracle) Name() string { return "baseline" }

// Load is a no-op; the baseline has no weights to fetch.
func (b *BaselineOracle) Load(ctx context.Context) error {
	return ctx.Err()
}

// Forecast produces PredictionLength unstamped records.
func (b *BaselineOracle) Forecast(ctx context.Context, in Input) ([]Output, error) {
	if in.PredictionLength <= 0 {
		return nil, fmt.Errorf("prediction length must be positive, got %d", in.PredictionLength)
	}

	out := make([]Output, in.PredictionLength)
	for i := range out {
		out[i].Values = make(map[string]float64, len(in.Window.TargetCols))
	}

	n := in.Window.Len()
	for _, col := range in.Window.TargetCols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		xs := make([]float64, 0, n)
		ys := make([]float64, 0, n)
		for i, rec := range in.Window.Records {
			if v := rec.Values[col]; v.Valid {
				xs = append(xs, float64(i))
				ys = append(ys, v.Float)
			}
		}

		fit := b.fit(xs, ys)
		for h := range out {
			out[h].Values[col] = fit(n + h)
		}
	}

	return out, nil
}

// fit returns a function from step index to forecast value.
func (b *BaselineOracle) fit(xs, ys []float64) func(int) float64 {
	switch len(ys) {
	case 0:
		return func(int) float64 { return math.NaN() }
	case 1:
		return func(int) float64 { return ys[0] }
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	phases := make([][]float64, b.season)
	for i, x := range xs {
		p := int(x) % b.season
		phases[p] = append(phases[p], ys[i]-(alpha+beta*x))
	}

	seasonal := make([]float64, b.season)
	for p, residuals := range phases {
		// Require two cycles before trusting a phase.
		if b.season > 1 && len(residuals) >= 2 {
			seasonal[p] = stat.Mean(residuals, nil)
		}
	}

	return func(i int) float64 {
		return alpha + beta*float64(i) + seasonal[i%b.season]
	}
}
