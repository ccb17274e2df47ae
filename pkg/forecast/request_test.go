package forecast

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *Request {
	return &Request{
		Data: map[string][]any{
			"time": {"2024-01-01T00:00:00", "2024-01-01T01:00:00", "2024-01-01T02:00:00"},
			"load": {1.0, 2.0, 3.0},
			"site": {"a", "a", "a"},
		},
		TimestampCol:     "time",
		TargetCols:       []string{"load"},
		ContextLength:    2,
		PredictionLength: 4,
	}
}

func TestDecode_Defaults(t *testing.T) {
	body := `{"data":{"t":["2024-01-01"],"y":[1]},"timestamp_col":"t","target_cols":["y"]}`

	req, err := Decode(strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, DefaultContextLength, req.ContextLength)
	assert.Equal(t, DefaultPredictionLength, req.PredictionLength)
	assert.Equal(t, "t", req.TimestampCol)
	assert.Equal(t, []string{"y"}, req.TargetCols)
	assert.Equal(t, []any{float64(1)}, req.Data["y"])
}

func TestDecode_ExplicitValues(t *testing.T) {
	body := `{"data":{"t":[1]},"timestamp_col":"t","target_cols":["y"],
		"id_cols":["site"],"context_length":0,"prediction_length":12,"freq":" 15min "}`

	req, err := Decode(strings.NewReader(body))
	require.NoError(t, err)

	// An explicit zero is kept so validation can reject it.
	assert.Equal(t, 0, req.ContextLength)
	assert.Equal(t, 12, req.PredictionLength)
	assert.Equal(t, []string{"site"}, req.IDCols)
	assert.Equal(t, "15min", req.Freq)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "hello"},
		{"truncated", `{"data":`},
		{"wrong type", `{"data":[1,2,3]}`},
		{"context length string", `{"context_length":"ten"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body))
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindValidation, kind)
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	req := validRequest()
	req.IDCols = []string{"site"}
	require.NoError(t, Validate(req))
	assert.Equal(t, 3, req.Len())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Request)
		wantReason string
	}{
		{
			name:       "nil data",
			mutate:     func(r *Request) { r.Data = nil },
			wantReason: "data is required",
		},
		{
			name:       "empty data",
			mutate:     func(r *Request) { r.Data = map[string][]any{} },
			wantReason: "data must not be empty",
		},
		{
			name:       "missing timestamp col",
			mutate:     func(r *Request) { r.TimestampCol = "" },
			wantReason: "timestamp_col is required",
		},
		{
			name:       "no targets",
			mutate:     func(r *Request) { r.TargetCols = nil },
			wantReason: "target_cols is required",
		},
		{
			name:       "empty target name",
			mutate:     func(r *Request) { r.TargetCols = []string{""} },
			wantReason: "is required",
		},
		{
			name:       "timestamp col absent",
			mutate:     func(r *Request) { r.TimestampCol = "when" },
			wantReason: `timestamp_col "when" is not a column of data`,
		},
		{
			name:       "target absent",
			mutate:     func(r *Request) { r.TargetCols = []string{"load", "temp"} },
			wantReason: `target column "temp" is not a column of data`,
		},
		{
			name:       "target is timestamp",
			mutate:     func(r *Request) { r.TargetCols = []string{"time"} },
			wantReason: "is the timestamp column",
		},
		{
			name:       "duplicate target",
			mutate:     func(r *Request) { r.TargetCols = []string{"load", "load"} },
			wantReason: "listed more than once",
		},
		{
			name:       "id col absent",
			mutate:     func(r *Request) { r.IDCols = []string{"region"} },
			wantReason: `id column "region" is not a column of data`,
		},
		{
			name:       "id col overlaps target",
			mutate:     func(r *Request) { r.IDCols = []string{"load"} },
			wantReason: "also the timestamp or a target column",
		},
		{
			name:       "ragged columns",
			mutate:     func(r *Request) { r.Data["load"] = []any{1.0} },
			wantReason: `column "load" has 1 values`,
		},
		{
			name: "no rows",
			mutate: func(r *Request) {
				r.Data = map[string][]any{"time": {}, "load": {}}
			},
			wantReason: "has no values",
		},
		{
			name:       "zero context length",
			mutate:     func(r *Request) { r.ContextLength = 0 },
			wantReason: "context_length must be a positive integer",
		},
		{
			name:       "negative prediction length",
			mutate:     func(r *Request) { r.PredictionLength = -1 },
			wantReason: "prediction_length must be a positive integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := Validate(req)
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindValidation, kind)
			assert.Contains(t, Reason(err), tt.wantReason)
		})
	}
}

func TestValidate_MissingTargetBeforeLengths(t *testing.T) {
	// An absent target is reported even when the columns are also ragged.
	req := validRequest()
	req.TargetCols = []string{"missing"}
	req.Data["load"] = []any{1.0}

	err := Validate(req)
	require.Error(t, err)
	assert.Contains(t, Reason(err), `target column "missing"`)
}

func TestValidate_NilRequest(t *testing.T) {
	err := Validate(nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, kind)
}

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		client bool
	}{
		{KindValidation, http.StatusBadRequest, true},
		{KindTimeParse, http.StatusBadRequest, true},
		{KindInsufficientData, http.StatusUnprocessableEntity, true},
		{KindPrediction, http.StatusBadGateway, false},
		{KindEncoding, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.Equal(t, tt.client, tt.kind.ClientFault())
		})
	}
}

func TestErrorf_Wraps(t *testing.T) {
	err := Errorf(KindPrediction, "remote oracle: %w", io.ErrUnexpectedEOF)

	assert.Equal(t, "PredictionError: remote oracle: unexpected EOF", err.Error())
	assert.Equal(t, "remote oracle: unexpected EOF", Reason(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	wrapped := errors.Join(errors.New("outer"), err)
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindPrediction, kind)
}

func TestKindOf_Plain(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, "plain", Reason(errors.New("plain")))
}
