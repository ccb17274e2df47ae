package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/foresight/pkg/timeseries"
)

// TimestampLayout is the textual form of instants exchanged with the oracle
// and returned to callers.
const TimestampLayout = "2006-01-02T15:04:05"

const maxResponseBytes = 64 << 20

// HTTPOracle delegates predictions to a remote model server. The server
// receives the context window as JSON and answers with forecast records that
// are located with a gjson path.
//
// Request body:
//
//	{
//	  "timestamp_column": "time",
//	  "id_columns": [],
//	  "target_columns": ["load"],
//	  "prediction_length": 96,
//	  "freq": "h",
//	  "context": [{"time": "2024-01-01T00:00:00", "load": 1.5}, ...]
//	}
//
// Expected response (records path "forecast"):
//
//	{"forecast": [{"time": "2024-01-22T08:00:00", "load": 1.7}, ...]}
//
// Records may omit the timestamp column, in which case the invoker stamps them.
// Scalar values may be numbers, null, or the strings "NaN"/"Infinity".
// Array values become list-valued fields.
type HTTPOracle struct {
	endpoint    string
	healthURL   string
	recordsPath string
	client      *http.Client
}

// HTTPOptions tune an HTTPOracle.
type HTTPOptions struct {
	// HealthURL is checked once by Load. Defaults to <scheme>://<host>/health.
	HealthURL string
	// RecordsPath is the gjson path to the forecast records. Defaults to "forecast".
	RecordsPath string
	// Client is optional; if nil a client with a 60s timeout is used.
	Client *http.Client
}

type httpRequest struct {
	TimestampColumn  string           `json:"timestamp_column"`
	IDColumns        []string         `json:"id_columns"`
	TargetColumns    []string         `json:"target_columns"`
	PredictionLength int              `json:"prediction_length"`
	Freq             string           `json:"freq"`
	Context          []map[string]any `json:"context"`
}

// NewHTTPOracle creates an oracle that posts forecasts to endpoint.
func NewHTTPOracle(endpoint string, opts HTTPOptions) (*HTTPOracle, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid oracle endpoint %q", endpoint)
	}

	health := opts.HealthURL
	if health == "" {
		health = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String()
	}

	path := opts.RecordsPath
	if path == "" {
		path = "forecast"
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		}
	}

	return &HTTPOracle{
		endpoint:    endpoint,
		healthURL:   health,
		recordsPath: path,
		client:      client,
	}, nil
}

// Name returns the oracle identifier.
func (o *HTTPOracle) Name() string { return "http" }

// Load checks once that the model server is up. A failure here must keep the
// worker from serving.
func (o *HTTPOracle) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", o.healthURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check %s: http %d", o.healthURL, resp.StatusCode)
	}
	return nil
}

// Forecast posts the window and decodes the returned records.
func (o *HTTPOracle) Forecast(ctx context.Context, in Input) ([]Output, error) {
	w := in.Window

	rows := make([]map[string]any, len(w.Records))
	for i, rec := range w.Records {
		row := make(map[string]any, 1+len(w.TargetCols)+len(w.IDCols))
		row[w.TimestampCol] = rec.Time.UTC().Format(TimestampLayout)
		for _, col := range w.TargetCols {
			if v := rec.Values[col]; v.Valid {
				row[col] = v.Float
			} else {
				row[col] = nil
			}
		}
		for _, col := range w.IDCols {
			row[col] = rec.IDs[col]
		}
		rows[i] = row
	}

	idCols := w.IDCols
	if idCols == nil {
		idCols = []string{}
	}

	body, err := json.Marshal(httpRequest{
		TimestampColumn:  w.TimestampCol,
		IDColumns:        idCols,
		TargetColumns:    w.TargetCols,
		PredictionLength: in.PredictionLength,
		Freq:             wireFreq(in.Freq),
		Context:          rows,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(excerpt))
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return o.parseRecords(respBody, w)
}

// wireFreq renders f as a pandas offset alias regardless of how the caller
// spelled it, so "15m" reaches the model server as "15min".
func wireFreq(f timeseries.Freq) string {
	if alias := timeseries.FreqOf(f.Interval).Alias; alias != "" {
		return alias
	}
	return f.String()
}

func (o *HTTPOracle) parseRecords(body []byte, w timeseries.Window) ([]Output, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	records := gjson.GetBytes(body, o.recordsPath)
	if !records.Exists() {
		return nil, fmt.Errorf("records path %q not found in response", o.recordsPath)
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("records path %q is not an array", o.recordsPath)
	}

	var out []Output
	var parseErr error
	records.ForEach(func(_, rec gjson.Result) bool {
		parsed, err := parseRecord(rec, w)
		if err != nil {
			parseErr = fmt.Errorf("record %d: %w", len(out), err)
			return false
		}
		out = append(out, parsed)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseRecord(rec gjson.Result, w timeseries.Window) (Output, error) {
	if !rec.IsObject() {
		return Output{}, errors.New("not an object")
	}

	out := Output{Values: make(map[string]float64)}
	var err error
	rec.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case name == w.TimestampCol:
			out.Time, err = parseResultTime(value)
		case slices.Contains(w.IDCols, name):
		case value.IsArray():
			var list []Item
			list, err = parseList(value)
			if err == nil {
				if out.Lists == nil {
					out.Lists = make(map[string][]Item)
				}
				out.Lists[name] = list
			}
		default:
			out.Values[name], err = parseScalar(value)
		}
		if err != nil {
			err = fmt.Errorf("field %q: %w", name, err)
			return false
		}
		return true
	})
	return out, err
}

func parseResultTime(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.String:
		return timeseries.ParseTimestamp(v.String())
	case gjson.Number:
		return timeseries.ParseTimestamp(v.Float())
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %s", v.Raw)
	}
}

// parseList decodes an array field; nested arrays become nested items.
func parseList(v gjson.Result) ([]Item, error) {
	list := []Item{}
	var err error
	v.ForEach(func(_, item gjson.Result) bool {
		if item.IsArray() {
			var nested []Item
			nested, err = parseList(item)
			if err != nil {
				return false
			}
			list = append(list, Nested(nested))
			return true
		}
		var f float64
		f, err = parseScalar(item)
		if err != nil {
			return false
		}
		list = append(list, Item{Value: f})
		return true
	})
	return list, err
}

// parseScalar maps null and non-numeric markers to NaN; the sanitizer turns
// those into the missing marker.
func parseScalar(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.Null:
		return math.NaN(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v.String())
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value %s", v.Raw)
	}
}
