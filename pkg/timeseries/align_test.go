package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/foresight/pkg/forecast"
)

func request(ts []any, load []any) *forecast.Request {
	return &forecast.Request{
		Data:             map[string][]any{"time": ts, "load": load},
		TimestampCol:     "time",
		TargetCols:       []string{"load"},
		ContextLength:    1,
		PredictionLength: 1,
	}
}

func times(s *Series) []time.Time {
	out := make([]time.Time, s.Len())
	for i, r := range s.Records {
		out[i] = r.Time
	}
	return out
}

func loads(s *Series) []Value {
	out := make([]Value, s.Len())
	for i, r := range s.Records {
		out[i] = r.Values["load"]
	}
	return out
}

func TestAlign_SortsChronologically(t *testing.T) {
	req := request(
		[]any{"2024-01-01T02:00:00", "2024-01-01T00:00:00", "2024-01-01T01:00:00"},
		[]any{3.0, 1.0, 2.0},
	)

	s, err := Align(req, Options{})
	require.NoError(t, err)

	assert.Equal(t, []Value{Some(1), Some(2), Some(3)}, loads(s))
	assert.Equal(t, []int{1, 2, 0}, []int{s.Records[0].Row, s.Records[1].Row, s.Records[2].Row})
	assert.Equal(t, "time", s.TimestampCol)
	assert.Equal(t, []string{"load"}, s.TargetCols)
}

func TestAlign_MixedOffsetsNormalizeToUTC(t *testing.T) {
	// 01:30+02:00 is 23:30Z the previous day, so it sorts first.
	req := request(
		[]any{"2024-01-01T00:00:00Z", "2024-01-01T01:30:00+02:00", "2024-01-01T00:30:00-01:00"},
		[]any{1.0, 2.0, 3.0},
	)

	s, err := Align(req, Options{})
	require.NoError(t, err)

	want := []time.Time{
		time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 1, 30, 0, 0, time.UTC),
	}
	assert.Equal(t, want, times(s))
	assert.Equal(t, []Value{Some(2), Some(1), Some(3)}, loads(s))
	for _, ts := range times(s) {
		assert.Equal(t, time.UTC, ts.Location())
	}
}

func TestAlign_DuplicatesKeepIsStable(t *testing.T) {
	req := request(
		[]any{"2024-01-01T01:00:00", "2024-01-01T00:00:00", "2024-01-01T01:00:00"},
		[]any{10.0, 5.0, 20.0},
	)

	s, err := Align(req, Options{Duplicates: DuplicateKeep})
	require.NoError(t, err)
	assert.Equal(t, []Value{Some(5), Some(10), Some(20)}, loads(s))
}

func TestAlign_DuplicatesLast(t *testing.T) {
	req := request(
		[]any{"2024-01-01T01:00:00", "2024-01-01T00:00:00", "2024-01-01T01:00:00"},
		[]any{10.0, 5.0, 20.0},
	)

	s, err := Align(req, Options{Duplicates: DuplicateLast})
	require.NoError(t, err)
	assert.Equal(t, []Value{Some(5), Some(20)}, loads(s))
}

func TestAlign_DuplicatesReject(t *testing.T) {
	req := request(
		[]any{"2024-01-01T01:00:00", "2024-01-01T01:00:00"},
		[]any{1.0, 2.0},
	)

	_, err := Align(req, Options{Duplicates: DuplicateReject})
	require.Error(t, err)
	kind, _ := forecast.KindOf(err)
	assert.Equal(t, forecast.KindValidation, kind)
	assert.Contains(t, forecast.Reason(err), "duplicate timestamp")
}

func TestAlign_MissingValues(t *testing.T) {
	req := request(
		[]any{"2024-01-01T00:00:00", "2024-01-01T01:00:00", "2024-01-01T02:00:00", "2024-01-01T03:00:00", "2024-01-01T04:00:00"},
		[]any{nil, 1.0, "", "NaN", "2.5"},
	)

	t.Run("none keeps gaps", func(t *testing.T) {
		s, err := Align(req, Options{Fill: FillNone})
		require.NoError(t, err)
		assert.Equal(t, []Value{Missing, Some(1), Missing, Missing, Some(2.5)}, loads(s))
	})

	t.Run("ffill propagates forward only", func(t *testing.T) {
		s, err := Align(req, Options{Fill: FillForward})
		require.NoError(t, err)
		assert.Equal(t, []Value{Missing, Some(1), Some(1), Some(1), Some(2.5)}, loads(s))
	})
}

func TestAlign_ForwardFillFollowsTimeOrder(t *testing.T) {
	// The gap at 02:00 is listed first but must be filled from 01:00.
	req := request(
		[]any{"2024-01-01T02:00:00", "2024-01-01T00:00:00", "2024-01-01T01:00:00"},
		[]any{nil, 1.0, 7.0},
	)

	s, err := Align(req, Options{Fill: FillForward})
	require.NoError(t, err)
	assert.Equal(t, []Value{Some(1), Some(7), Some(7)}, loads(s))
}

func TestAlign_IDColumns(t *testing.T) {
	req := request([]any{"2024-01-01", "2024-01-02"}, []any{1.0, 2.0})
	req.Data["site"] = []any{"a", 7.0}
	req.IDCols = []string{"site"}

	s, err := Align(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "a", s.Records[0].IDs["site"])
	assert.Equal(t, "7", s.Records[1].IDs["site"])
	assert.Equal(t, []string{"site"}, s.IDCols)
}

func TestAlign_Errors(t *testing.T) {
	tests := []struct {
		name       string
		ts         []any
		load       []any
		wantKind   forecast.Kind
		wantReason string
	}{
		{
			name:       "unparseable timestamp",
			ts:         []any{"2024-01-01", "yesterday"},
			load:       []any{1.0, 2.0},
			wantKind:   forecast.KindTimeParse,
			wantReason: "time[1]",
		},
		{
			name:       "null timestamp",
			ts:         []any{nil},
			load:       []any{1.0},
			wantKind:   forecast.KindTimeParse,
			wantReason: "time[0]",
		},
		{
			name:       "non-numeric target",
			ts:         []any{"2024-01-01"},
			load:       []any{"high"},
			wantKind:   forecast.KindValidation,
			wantReason: "load[0]",
		},
		{
			name:       "boolean target",
			ts:         []any{"2024-01-01"},
			load:       []any{true},
			wantKind:   forecast.KindValidation,
			wantReason: "load[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Align(request(tt.ts, tt.load), Options{})
			require.Error(t, err)

			kind, ok := forecast.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			assert.Contains(t, forecast.Reason(err), tt.wantReason)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	utc := func(y int, mo time.Month, d, h, mi, s, ns int) time.Time {
		return time.Date(y, mo, d, h, mi, s, ns, time.UTC)
	}

	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339 zulu", "2024-03-01T12:00:00Z", utc(2024, 3, 1, 12, 0, 0, 0)},
		{"rfc3339 offset", "2024-03-01T12:00:00+02:00", utc(2024, 3, 1, 10, 0, 0, 0)},
		{"compact offset", "2024-03-01T12:00:00-0130", utc(2024, 3, 1, 13, 30, 0, 0)},
		{"naive", "2024-03-01T12:00:00", utc(2024, 3, 1, 12, 0, 0, 0)},
		{"naive fractional", "2024-03-01T12:00:00.250", utc(2024, 3, 1, 12, 0, 0, 250_000_000)},
		{"space separated", "2024-03-01 12:00:00", utc(2024, 3, 1, 12, 0, 0, 0)},
		{"space with offset", "2024-03-01 12:00:00+01:00", utc(2024, 3, 1, 11, 0, 0, 0)},
		{"minutes", "2024-03-01T12:30", utc(2024, 3, 1, 12, 30, 0, 0)},
		{"date only", "2024-03-01", utc(2024, 3, 1, 0, 0, 0, 0)},
		{"padded", "  2024-03-01  ", utc(2024, 3, 1, 0, 0, 0, 0)},
		{"unix seconds", float64(1704067200), utc(2024, 1, 1, 0, 0, 0, 0)},
		{"unix fractional", 1704067200.5, utc(2024, 1, 1, 0, 0, 0, 500_000_000)},
		{"int", 1704067200, utc(2024, 1, 1, 0, 0, 0, 0)},
		{"last representable second", 253402300799.0, utc(9999, 12, 31, 23, 59, 59, 0)},
		{"first representable second", int64(-62135596800), utc(1, 1, 1, 0, 0, 0, 0)},
		{"time", time.Date(2024, 1, 1, 1, 0, 0, 0, time.FixedZone("x", 3600)), utc(2024, 1, 1, 0, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, in := range []any{nil, "", "01/02/2024", math.NaN(), math.Inf(1), true, []any{},
		1e20, -1e20, 253402300800.0, -62135596801.0, int64(math.MaxInt64), math.MinInt} {
		_, err := ParseTimestamp(in)
		assert.Error(t, err, "input %v", in)
	}
}

func TestParsePolicies(t *testing.T) {
	fill, err := ParseFillPolicy("FFILL")
	require.NoError(t, err)
	assert.Equal(t, FillForward, fill)

	fill, err = ParseFillPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FillNone, fill)

	_, err = ParseFillPolicy("bfill")
	assert.Error(t, err)

	dup, err := ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, DuplicateReject, dup)

	_, err = ParseDuplicatePolicy("first")
	assert.Error(t, err)
}

func TestSome(t *testing.T) {
	assert.Equal(t, Value{Float: 1.5, Valid: true}, Some(1.5))
	assert.Equal(t, Missing, Some(math.NaN()))
	assert.Equal(t, Missing, Some(math.Inf(-1)))
}
