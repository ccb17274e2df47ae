// Package oracle defines the boundary to the external forecasting model and
// enforces its input/output contract.
//
// An Oracle receives a context window with column identity metadata and must
// return exactly PredictionLength records covering every target column, with
// timestamps continuing contiguously from the window's last instant.
//
// Available oracles:
//   - HTTPOracle: delegates to a remote pretrained-model server
//   - BaselineOracle: in-process trend + seasonal-naive model for development
//   - AROracle: in-process ARIMA(p,d,0) with prediction intervals
package oracle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/foresight/pkg/forecast"
	"github.com/HatiCode/foresight/pkg/timeseries"
)

// Input is everything an oracle needs for one forecast.
type Input struct {
	Window           timeseries.Window
	PredictionLength int
	Freq             timeseries.Freq
}

// Output is one forecasted step as produced by an oracle. Values may be
// non-finite; sanitizing happens later. A zero Time asks the invoker to stamp
// the record from the window and frequency.
type Output struct {
	Time   time.Time
	Values map[string]float64
	// Lists carries optional list-valued fields such as quantile fans, keyed
	// by field name. Items may themselves be lists.
	Lists map[string][]Item
}

// Item is one element of a list-valued field: a number, or a nested list
// when IsList is set.
type Item struct {
	Value  float64
	List   []Item
	IsList bool
}

// Floats builds a flat list of number items.
func Floats(fs ...float64) []Item {
	items := make([]Item, len(fs))
	for i, f := range fs {
		items[i] = Item{Value: f}
	}
	return items
}

// Nested wraps items as a single list-valued item.
func Nested(items []Item) Item {
	return Item{List: items, IsList: true}
}

// Oracle is a loaded, immutable forecasting component. Implementations must
// be safe for concurrent use by multiple requests.
type Oracle interface {
	// Name returns a short identifier such as "http" or "baseline".
	Name() string
	// Forecast performs one synchronous, possibly long-running prediction.
	Forecast(ctx context.Context, in Input) ([]Output, error)
}

// Loader is implemented by oracles that need a startup step before serving.
type Loader interface {
	Load(ctx context.Context) error
}

// Result is a forecast that satisfied the oracle contract.
type Result struct {
	TimestampCol string
	TargetCols   []string
	Records      []Output
}

// Invoke calls o exactly once and checks its output against the contract.
// Any failure, including a contract violation, is a PredictionError. There is
// no retry.
func Invoke(ctx context.Context, o Oracle, in Input) (Result, error) {
	if in.Window.Len() == 0 {
		return Result{}, forecast.Errorf(forecast.KindPrediction, "empty context window")
	}
	if in.Freq.Interval <= 0 {
		return Result{}, forecast.Errorf(forecast.KindPrediction, "frequency must be positive, got %v", in.Freq.Interval)
	}

	out, err := o.Forecast(ctx, in)
	if err != nil {
		return Result{}, forecast.Errorf(forecast.KindPrediction, "%s oracle: %w", o.Name(), err)
	}

	if len(out) != in.PredictionLength {
		return Result{}, forecast.Errorf(forecast.KindPrediction,
			"%s oracle returned %d records, expected %d", o.Name(), len(out), in.PredictionLength)
	}

	if err := stamp(out, in.Window.Last().Time, in.Freq.Interval); err != nil {
		return Result{}, forecast.Errorf(forecast.KindPrediction, "%s oracle: %w", o.Name(), err)
	}

	targets := in.Window.TargetCols
	for i, rec := range out {
		if err := checkColumns(rec, targets, in.Window.TimestampCol); err != nil {
			return Result{}, forecast.Errorf(forecast.KindPrediction, "%s oracle: record %d: %w", o.Name(), i, err)
		}
	}

	return Result{
		TimestampCol: in.Window.TimestampCol,
		TargetCols:   targets,
		Records:      out,
	}, nil
}

// stamp fills absent timestamps and verifies present ones continue from last
// at exactly one interval per step.
func stamp(out []Output, last time.Time, interval time.Duration) error {
	stamped := 0
	for _, rec := range out {
		if !rec.Time.IsZero() {
			stamped++
		}
	}
	if stamped != 0 && stamped != len(out) {
		return fmt.Errorf("%d of %d records carry timestamps", stamped, len(out))
	}

	if n := int64(len(out)); n > 0 && n > math.MaxInt64/int64(interval) {
		return fmt.Errorf("horizon of %d steps at %v overflows", n, interval)
	}
	for i := range out {
		want := last.Add(time.Duration(i+1) * interval)
		if stamped == 0 {
			out[i].Time = want
			continue
		}
		got := out[i].Time.UTC()
		if !got.Equal(want) {
			return fmt.Errorf("record %d timestamp %s, expected %s", i, got.Format(time.RFC3339), want.Format(time.RFC3339))
		}
		out[i].Time = got
	}
	return nil
}

func checkColumns(rec Output, targets []string, tsCol string) error {
	for _, col := range targets {
		if _, ok := rec.Values[col]; !ok {
			return fmt.Errorf("missing target column %q", col)
		}
	}
	if len(rec.Values) != len(targets) {
		return fmt.Errorf("undeclared columns %v", undeclared(rec.Values, targets))
	}
	for name := range rec.Lists {
		if name == tsCol {
			return fmt.Errorf("list field %q collides with the timestamp column", name)
		}
		if _, ok := rec.Values[name]; ok {
			return fmt.Errorf("list field %q collides with a target column", name)
		}
	}
	return nil
}

func undeclared(values map[string]float64, targets []string) []string {
	declared := make(map[string]bool, len(targets))
	for _, t := range targets {
		declared[t] = true
	}
	var extra []string
	for name := range values {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}
