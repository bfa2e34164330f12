package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// #region numeric
// Float returns the attribute as a finite float64. Numeric strings are parsed;
// anything else reports false.
func (a RawAttributes) Float(key string) (float64, bool) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return 0, false
	}
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int8:
		v = float64(x)
	case int16:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint8:
		v = float64(x)
	case uint16:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Scaled returns Normalize(value, lo, hi) or Neutral when the attribute is
// missing or not numeric.
func (a RawAttributes) Scaled(key string, lo, hi float64) float64 {
	v, ok := a.Float(key)
	if !ok {
		return Neutral
	}
	return Normalize(v, lo, hi)
}
// #endregion numeric

// #region text
// Text returns the attribute lower-cased and trimmed, with inner spaces and
// hyphens folded to underscores so "Weight Loss" matches "weight_loss".
func (a RawAttributes) Text(key string) (string, bool) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s, true
}

// List returns a list-valued attribute. A comma-separated string is split;
// empty entries are dropped. present is false only when the key is missing
// or the value has an unusable type.
func (a RawAttributes) List(key string) (items []string, present bool) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return nil, false
	}
	switch x := raw.(type) {
	case string:
		for _, part := range strings.Split(x, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
		return items, true
	case []string:
		for _, p := range x {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, true
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				items = append(items, strings.TrimSpace(s))
			}
		}
		return items, true
	default:
		return nil, false
	}
}
// #endregion text

// #region clock
// DayFraction parses "HH:MM" into minutes since midnight divided by 1440.
func DayFraction(s string) (float64, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return float64(t.Hour()*60+t.Minute()) / 1440.0, true
}
// #endregion clock

// #region helpers
// Normalize applies linear min-max scaling. Values outside [lo, hi] map
// outside [0, 1]; a degenerate range yields Neutral.
func Normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return Neutral
	}
	return (v - lo) / (hi - lo)
}

// OneHot encodes value against categories plus a trailing OtherSlot.
// The result always has len(categories)+1 entries.
func OneHot(value string, ok bool, categories []string) []float64 {
	out := make([]float64, len(categories)+1)
	if ok {
		for i, c := range categories {
			if c == value {
				out[i] = 1
				return out
			}
		}
	}
	out[len(categories)] = 1
	return out
}

func oneHotFields(prefix string, categories []string) []string {
	fields := make([]string, 0, len(categories)+1)
	for _, c := range categories {
		fields = append(fields, prefix+"."+c)
	}
	return append(fields, prefix+"."+OtherSlot)
}
// #endregion helpers
