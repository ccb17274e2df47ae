// Package encode converts oracle output into JSON-safe prediction records.
//
// Numeric cells are carried as Optional values, so the missing-marker
// conversion is a property of the type: an Optional is either a finite number
// or null, never NaN or an infinity.
package encode

import (
	"bytes"
	"math"

	"github.com/goccy/go-json"
)

var null = []byte("null")

// Optional is a finite float or the missing marker.
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a valid Optional for finite f and the missing marker otherwise.
func Some(f float64) Optional {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Optional{}
	}
	return Optional{Value: f, Valid: true}
}

// Null is the missing marker.
func Null() Optional { return Optional{} }

// Float returns the value, or NaN for the missing marker.
func (o Optional) Float() float64 {
	if !o.Valid {
		return math.NaN()
	}
	return o.Value
}

// sanitize re-checks finiteness so hand-built values cannot leak NaN.
func (o Optional) sanitize() Optional {
	if !o.Valid {
		return Optional{}
	}
	return Some(o.Value)
}

func (o Optional) MarshalJSON() ([]byte, error) {
	o = o.sanitize()
	if !o.Valid {
		return null, nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), null) {
		*o = Optional{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*o = Some(f)
	return nil
}

// Cell is a scalar Optional or, when IsList is set, a list of cells.
type Cell struct {
	Scalar Optional
	List   []Cell
	IsList bool
}

// ScalarCell wraps f as a sanitized scalar cell.
func ScalarCell(f float64) Cell { return Cell{Scalar: Some(f)} }


func (c Cell) sanitize() Cell {
	if !c.IsList {
		return Cell{Scalar: c.Scalar.sanitize()}
	}
	list := make([]Cell, len(c.List))
	for i, item := range c.List {
		list[i] = item.sanitize()
	}
	return Cell{List: list, IsList: true}
}

func (c Cell) missing() int {
	if !c.IsList {
		if c.Scalar.Valid {
			return 0
		}
		return 1
	}
	n := 0
	for _, item := range c.List {
		n += item.missing()
	}
	return n
}

func (c Cell) MarshalJSON() ([]byte, error) {
	if !c.IsList {
		return c.Scalar.MarshalJSON()
	}
	if c.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.List)
}
