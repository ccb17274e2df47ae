// Package forecast defines the inbound forecast request, its validation rules
// and the error taxonomy shared by every pipeline stage.
package forecast

import (
	"errors"
	"io"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	DefaultContextLength    = 512
	DefaultPredictionLength = 96
)

// Request is a validated-or-not forecast request as decoded from the wire.
type Request struct {
	// Data maps a column name to its values. All columns share one length.
	Data map[string][]any `json:"data" validate:"required,min=1"`

	// TimestampCol names the column holding timestamps.
	TimestampCol string `json:"timestamp_col" validate:"required"`

	// TargetCols lists the columns to forecast, in output order.
	TargetCols []string `json:"target_cols" validate:"required,min=1,dive,required"`

	// IDCols optionally names grouping columns forwarded to the oracle.
	IDCols []string `json:"id_cols,omitempty" validate:"omitempty,dive,required"`

	ContextLength    int `json:"context_length" validate:"gt=0"`
	PredictionLength int `json:"prediction_length" validate:"gt=0"`

	// Freq is an optional sampling-interval hint such as "h" or "15min".
	Freq string `json:"freq,omitempty"`
}

// wireRequest distinguishes absent window sizes from explicit zeros.
type wireRequest struct {
	Data             map[string][]any `json:"data"`
	TimestampCol     string           `json:"timestamp_col"`
	TargetCols       []string         `json:"target_cols"`
	IDCols           []string         `json:"id_cols"`
	ContextLength    *int             `json:"context_length"`
	PredictionLength *int             `json:"prediction_length"`
	Freq             string           `json:"freq"`
}

// Decode reads one JSON request from r and applies defaults for absent window
// sizes. Malformed JSON is reported as a ValidationError.
func Decode(r io.Reader) (*Request, error) {
	var w wireRequest
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Errorf(KindValidation, "request body is empty")
		}
		return nil, Errorf(KindValidation, "decode request: %w", err)
	}

	req := &Request{
		Data:             w.Data,
		TimestampCol:     w.TimestampCol,
		TargetCols:       w.TargetCols,
		IDCols:           w.IDCols,
		ContextLength:    DefaultContextLength,
		PredictionLength: DefaultPredictionLength,
		Freq:             strings.TrimSpace(w.Freq),
	}
	if w.ContextLength != nil {
		req.ContextLength = *w.ContextLength
	}
	if w.PredictionLength != nil {
		req.PredictionLength = *w.PredictionLength
	}
	return req, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks req and returns a ValidationError naming the first violated
// constraint. Checks run in a fixed order: required fields, timestamp column
// membership, target and id column membership, column lengths, window sizes.
func Validate(req *Request) error {
	if req == nil {
		return Errorf(KindValidation, "request is missing")
	}

	if err := validate.StructPartial(req, "Data", "TimestampCol", "TargetCols", "IDCols"); err != nil {
		return tagError(err)
	}

	if _, ok := req.Data[req.TimestampCol]; !ok {
		return Errorf(KindValidation, "timestamp_col %q is not a column of data", req.TimestampCol)
	}

	for _, col := range req.TargetCols {
		if _, ok := req.Data[col]; !ok {
			return Errorf(KindValidation, "target column %q is not a column of data", col)
		}
		if col == req.TimestampCol {
			return Errorf(KindValidation, "target column %q is the timestamp column", col)
		}
	}
	for i, col := range req.TargetCols {
		if slices.Contains(req.TargetCols[:i], col) {
			return Errorf(KindValidation, "target column %q is listed more than once", col)
		}
	}

	for _, col := range req.IDCols {
		if _, ok := req.Data[col]; !ok {
			return Errorf(KindValidation, "id column %q is not a column of data", col)
		}
		if col == req.TimestampCol || slices.Contains(req.TargetCols, col) {
			return Errorf(KindValidation, "id column %q is also the timestamp or a target column", col)
		}
	}

	names := make([]string, 0, len(req.Data))
	for name := range req.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	want := len(req.Data[req.TimestampCol])
	if want == 0 {
		return Errorf(KindValidation, "column %q has no values", req.TimestampCol)
	}
	for _, name := range names {
		if got := len(req.Data[name]); got != want {
			return Errorf(KindValidation, "column %q has %d values, timestamp column %q has %d", name, got, req.TimestampCol, want)
		}
	}

	if err := validate.StructPartial(req, "ContextLength", "PredictionLength"); err != nil {
		return tagError(err)
	}

	return nil
}

// Len returns the number of rows in the request's data.
func (r *Request) Len() int {
	return len(r.Data[r.TimestampCol])
}

func tagError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return Errorf(KindValidation, "invalid request: %w", err)
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return Errorf(KindValidation, "%s is required", field)
	case "min":
		return Errorf(KindValidation, "%s must not be empty", field)
	case "gt":
		return Errorf(KindValidation, "%s must be a positive integer, got %v", field, fe.Value())
	default:
		return Errorf(KindValidation, "%s failed %q check", field, fe.Tag())
	}
}
