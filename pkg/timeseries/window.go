package timeseries

import (
	"github.com/HatiCode/foresight/pkg/forecast"
)

// Window is the trailing slice of a series handed to the oracle.
type Window struct {
	TimestampCol string
	TargetCols   []string
	IDCols       []string
	Records      []Record
}

// Len returns the number of records in the window.
func (w Window) Len() int { return len(w.Records) }

// Last returns the final record of the window. It panics on an empty window.
func (w Window) Last() Record { return w.Records[len(w.Records)-1] }

// Select takes the last contextLength records of s. A shorter series is an
// InsufficientDataError; it is never padded. Leading history beyond the window
// is discarded.
func Select(s *Series, contextLength int) (Window, error) {
	if contextLength <= 0 {
		return Window{}, forecast.Errorf(forecast.KindValidation, "context_length must be a positive integer, got %d", contextLength)
	}
	if s.Len() < contextLength {
		return Window{}, forecast.Errorf(forecast.KindInsufficientData,
			"series has %d records, context_length requires %d", s.Len(), contextLength)
	}

	tail := s.Records[s.Len()-contextLength:]
	records := make([]Record, len(tail))
	copy(records, tail)

	return Window{
		TimestampCol: s.TimestampCol,
		TargetCols:   s.TargetCols,
		IDCols:       s.IDCols,
		Records:      records,
	}, nil
}
