package encode

import (
	"bytes"
	"sort"

	"github.com/goccy/go-json"

	"github.com/HatiCode/foresight/pkg/forecast"
	"github.com/HatiCode/foresight/pkg/oracle"
)

// Field is one named cell of a record.
type Field struct {
	Name string
	Cell Cell
}

// Record is one forecast step with its fields in output order: the timestamp
// column first, then targets in declared order, then list-valued fields by name.
type Record struct {
	TimestampCol string
	Timestamp    string
	Fields       []Field
}

// Prediction is the sanitized response body.
type Prediction struct {
	Records []Record
}

// Sanitize converts a contract-checked oracle result into JSON-safe records.
// It is total: every non-finite value becomes the missing marker, including
// inside list-valued fields, and it never fails.
func Sanitize(res oracle.Result) Prediction {
	records := make([]Record, len(res.Records))
	for i, out := range res.Records {
		fields := make([]Field, 0, len(res.TargetCols)+len(out.Lists))
		for _, col := range res.TargetCols {
			v, ok := out.Values[col]
			cell := Cell{}
			if ok {
				cell = ScalarCell(v)
			}
			fields = append(fields, Field{Name: col, Cell: cell})
		}

		lists := make([]string, 0, len(out.Lists))
		for name := range out.Lists {
			lists = append(lists, name)
		}
		sort.Strings(lists)
		for _, name := range lists {
			fields = append(fields, Field{Name: name, Cell: ListCell(out.Lists[name])})
		}

		records[i] = Record{
			TimestampCol: res.TimestampCol,
			Timestamp:    out.Time.UTC().Format(oracle.TimestampLayout),
			Fields:       fields,
		}
	}
	return Prediction{Records: records}
}

// ListCell converts a list-valued oracle field into a sanitized list cell,
// descending into nested lists.
func ListCell(items []oracle.Item) Cell {
	list := make([]Cell, len(items))
	for i, item := range items {
		if item.IsList {
			list[i] = ListCell(item.List)
			continue
		}
		list[i] = ScalarCell(item.Value)
	}
	return Cell{List: list, IsList: true}
}

// Sanitize returns p with every cell re-checked. Applying it to an already
// sanitized prediction yields an identical prediction.
func (p Prediction) Sanitize() Prediction {
	records := make([]Record, len(p.Records))
	for i, rec := range p.Records {
		fields := make([]Field, len(rec.Fields))
		for j, f := range rec.Fields {
			fields[j] = Field{Name: f.Name, Cell: f.Cell.sanitize()}
		}
		records[i] = Record{TimestampCol: rec.TimestampCol, Timestamp: rec.Timestamp, Fields: fields}
	}
	return Prediction{Records: records}
}

// Missing counts missing markers across all records.
func (p Prediction) Missing() int {
	n := 0
	for _, rec := range p.Records {
		for _, f := range rec.Fields {
			n += f.Cell.missing()
		}
	}
	return n
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if err := writeMember(&buf, r.TimestampCol, r.Timestamp); err != nil {
		return nil, err
	}
	for _, f := range r.Fields {
		buf.WriteByte(',')
		if err := writeMember(&buf, f.Name, f.Cell); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, name string, v any) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

type wirePrediction struct {
	Prediction []Record `json:"prediction"`
}

func (p Prediction) MarshalJSON() ([]byte, error) {
	records := p.Records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(wirePrediction{Prediction: records})
}

// Encode serializes p. A serialization failure is an EncodingError.
func Encode(p Prediction) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, forecast.Errorf(forecast.KindEncoding, "encode prediction: %w", err)
	}
	return data, nil
}
