// Package timeseries turns a raw columnar forecast request into a canonically
// time-ordered series and selects the context window handed to the oracle.
package timeseries

import (
	"math"
	"time"
)

// Value is an optional observation. Valid is false for missing cells.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a valid Value for finite f and a missing one otherwise.
func Some(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Valid: true}
}

// Missing is the explicit missing marker.
var Missing = Value{}

// Record is one aligned row.
type Record struct {
	Time time.Time
	// Values holds one entry per target column.
	Values map[string]Value
	// IDs holds the grouping column values as strings.
	IDs map[string]string
	// Row is the index of the record in the request before sorting.
	Row int
}

// Series is a set of records ordered by non-decreasing Time.
type Series struct {
	TimestampCol string
	TargetCols   []string
	IDCols       []string
	Records      []Record
}

// Len returns the number of records.
func (s *Series) Len() int { return len(s.Records) }

// Last returns the timestamp of the final record.
func (s *Series) Last() time.Time {
	if len(s.Records) == 0 {
		return time.Time{}
	}
	return s.Records[len(s.Records)-1].Time
}
