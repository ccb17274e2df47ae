package timeseries

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Freq is a fixed sampling interval together with the alias it was given as.
type Freq struct {
	Alias    string
	Interval time.Duration
}

func (f Freq) String() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Interval.String()
}

var freqUnits = map[string]time.Duration{
	"ns":  time.Nanosecond,
	"us":  time.Microsecond,
	"ms":  time.Millisecond,
	"l":   time.Millisecond,
	"s":   time.Second,
	"sec": time.Second,
	"t":   time.Minute,
	"min": time.Minute,
	"h":   time.Hour,
	"d":   24 * time.Hour,
	"w":   7 * 24 * time.Hour,
}

// ParseFreq accepts pandas-style offset aliases with an optional multiplier
// ("h", "15min", "2H", "D") and Go duration strings ("15m", "1h30m").
// Calendar-variable aliases such as months are not supported.
func ParseFreq(s string) (Freq, error) {
	alias := strings.TrimSpace(s)
	if alias == "" {
		return Freq{}, fmt.Errorf("frequency is empty")
	}

	i := strings.IndexFunc(alias, func(r rune) bool { return !unicode.IsDigit(r) })
	if i < 0 {
		return Freq{}, fmt.Errorf("frequency %q has no unit", s)
	}

	mult := 1
	if i > 0 {
		n, err := strconv.Atoi(alias[:i])
		if err != nil || n <= 0 {
			return Freq{}, fmt.Errorf("frequency %q has invalid multiplier", s)
		}
		mult = n
	}

	switch alias[i:] {
	case "M", "MS", "ME", "Q", "QS", "Y", "YS", "A", "AS":
		return Freq{}, fmt.Errorf("calendar frequency %q is not a fixed interval", s)
	}

	if unit, ok := freqUnits[strings.ToLower(alias[i:])]; ok {
		if int64(mult) > math.MaxInt64/int64(unit) {
			return Freq{}, fmt.Errorf("frequency %q overflows", s)
		}
		return Freq{Alias: alias, Interval: time.Duration(mult) * unit}, nil
	}

	d, err := time.ParseDuration(alias)
	if err != nil || d <= 0 {
		return Freq{}, fmt.Errorf("unsupported frequency %q", s)
	}
	return Freq{Alias: alias, Interval: d}, nil
}

// InferFreq returns the most common positive spacing between consecutive
// records. Ties prefer the smaller interval. ok is false when the series has no
// two distinct instants.
func InferFreq(records []Record) (Freq, bool) {
	counts := make(map[time.Duration]int)
	for i := 1; i < len(records); i++ {
		if d := records[i].Time.Sub(records[i-1].Time); d > 0 {
			counts[d]++
		}
	}

	var best time.Duration
	bestCount := 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	if bestCount == 0 {
		return Freq{}, false
	}
	return FreqOf(best), true
}

// FreqOf returns a Freq for d with a pandas-style alias ("h", "15min", "2D").
func FreqOf(d time.Duration) Freq {
	units := []struct {
		unit  time.Duration
		alias string
	}{
		{24 * time.Hour, "D"},
		{time.Hour, "h"},
		{time.Minute, "min"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
	}
	for _, u := range units {
		if d >= u.unit && d%u.unit == 0 {
			n := int64(d / u.unit)
			if n == 1 {
				return Freq{Alias: u.alias, Interval: d}
			}
			return Freq{Alias: strconv.FormatInt(n, 10) + u.alias, Interval: d}
		}
	}
	return Freq{Interval: d}
}
