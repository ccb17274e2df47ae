package timeseries

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/foresight/pkg/forecast"
)

// FillPolicy selects how missing target values are treated on the aligned series.
type FillPolicy string

const (
	// FillNone passes values through; missing cells stay missing.
	FillNone FillPolicy = "none"
	// FillForward propagates the last valid value of each target over gaps.
	FillForward FillPolicy = "ffill"
)

// DuplicatePolicy selects how records sharing one instant are treated.
type DuplicatePolicy string

const (
	// DuplicateKeep keeps every record; ties retain their original order.
	DuplicateKeep DuplicatePolicy = "keep"
	// DuplicateLast keeps only the last occurrence of each instant.
	DuplicateLast DuplicatePolicy = "last"
	// DuplicateReject fails the request on any repeated instant.
	DuplicateReject DuplicatePolicy = "reject"
)

// Options configure alignment. The zero value means FillNone and DuplicateKeep.
type Options struct {
	Fill       FillPolicy
	Duplicates DuplicatePolicy
}

// ParseFillPolicy validates a fill policy name.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch p := FillPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", FillNone:
		return FillNone, nil
	case FillForward:
		return p, nil
	default:
		return "", fmt.Errorf("invalid fill policy %q (must be none or ffill)", s)
	}
}

// ParseDuplicatePolicy validates a duplicate policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", DuplicateKeep:
		return DuplicateKeep, nil
	case DuplicateLast, DuplicateReject:
		return p, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy %q (must be keep, last, or reject)", s)
	}
}

// Align parses the timestamp column of a validated request, zips the target
// and id columns into records, and stable-sorts them by instant. All instants
// are normalized to UTC so mixed-offset inputs compare correctly.
func Align(req *forecast.Request, opts Options) (*Series, error) {
	n := req.Len()
	tsCol := req.Data[req.TimestampCol]

	records := make([]Record, n)
	for i := 0; i < n; i++ {
		ts, err := ParseTimestamp(tsCol[i])
		if err != nil {
			return nil, forecast.Errorf(forecast.KindTimeParse, "%s[%d]: %w", req.TimestampCol, i, err)
		}

		values := make(map[string]Value, len(req.TargetCols))
		for _, col := range req.TargetCols {
			v, err := parseValue(req.Data[col][i])
			if err != nil {
				return nil, forecast.Errorf(forecast.KindValidation, "%s[%d]: %w", col, i, err)
			}
			values[col] = v
		}

		var ids map[string]string
		if len(req.IDCols) > 0 {
			ids = make(map[string]string, len(req.IDCols))
			for _, col := range req.IDCols {
				if raw := req.Data[col][i]; raw != nil {
					ids[col] = fmt.Sprint(raw)
				}
			}
		}

		records[i] = Record{Time: ts, Values: values, IDs: ids, Row: i}
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		return a.Time.Compare(b.Time)
	})

	records, err := applyDuplicates(records, opts.Duplicates)
	if err != nil {
		return nil, err
	}

	if opts.Fill == FillForward {
		forwardFill(records, req.TargetCols)
	}

	return &Series{
		TimestampCol: req.TimestampCol,
		TargetCols:   slices.Clone(req.TargetCols),
		IDCols:       slices.Clone(req.IDCols),
		Records:      records,
	}, nil
}

func applyDuplicates(records []Record, policy DuplicatePolicy) ([]Record, error) {
	switch policy {
	case DuplicateReject:
		for i := 1; i < len(records); i++ {
			if records[i].Time.Equal(records[i-1].Time) {
				return nil, forecast.Errorf(forecast.KindValidation,
					"duplicate timestamp %s at rows %d and %d",
					records[i].Time.Format(time.RFC3339), records[i-1].Row, records[i].Row)
			}
		}
		return records, nil

	case DuplicateLast:
		out := records[:0]
		for i := range records {
			if i+1 < len(records) && records[i+1].Time.Equal(records[i].Time) {
				continue
			}
			out = append(out, records[i])
		}
		return out, nil

	default:
		return records, nil
	}
}

// forwardFill runs on the time-ordered series; leading gaps stay missing.
func forwardFill(records []Record, targets []string) {
	for _, col := range targets {
		last := Missing
		for i := range records {
			v := records[i].Values[col]
			if v.Valid {
				last = v
				continue
			}
			records[i].Values[col] = last
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Numeric timestamps are Unix seconds limited to the years 1 through 9999,
// the range the textual layouts can express.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

func unixSeconds(v int64) (time.Time, error) {
	if v < minUnixSeconds || v > maxUnixSeconds {
		return time.Time{}, fmt.Errorf("timestamp %d out of range", v)
	}
	return time.Unix(v, 0).UTC(), nil
}

// ParseTimestamp converts a decoded JSON value into a UTC instant. Strings are
// tried against ISO-8601 style layouts; values without an offset are taken as
// UTC. Numbers are Unix seconds.
func ParseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("non-finite timestamp %v", v)
		}
		if v < minUnixSeconds || v > maxUnixSeconds {
			return time.Time{}, fmt.Errorf("timestamp %v out of range", v)
		}
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil

	case int:
		return unixSeconds(int64(v))

	case int64:
		return unixSeconds(v)

	case time.Time:
		return v.UTC(), nil

	case nil:
		return time.Time{}, fmt.Errorf("timestamp is null")

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func parseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Missing, nil
	case float64:
		return Some(v), nil
	case float32:
		return Some(float64(v)), nil
	case int:
		return Some(float64(v)), nil
	case int64:
		return Some(float64(v)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return Missing, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing, fmt.Errorf("non-numeric value %q", v)
		}
		return Some(f), nil
	default:
		return Missing, fmt.Errorf("non-numeric value of type %T", raw)
	}
}
