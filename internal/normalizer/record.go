package normalizer

import (
	"math"
	"strconv"
	"strings"
)

// Record is one flat export row keyed by source column name. Values
// arrive as whatever the decoder produced, so the accessors coerce
// rather than assert.
type Record map[string]interface{}

// Placeholder strings that spreadsheet exports emit for missing cells.
var nullTokens = map[string]struct{}{
	"nan":  {},
	"none": {},
	"null": {},
	"<na>": {},
}

func isNullToken(s string) bool {
	_, ok := nullTokens[strings.ToLower(s)]
	return ok
}

// String extracts a trimmed string value. Placeholder tokens collapse to
// the empty string and whole-number floats render without a decimal part
// so numeric identifiers survive a round trip through JSON.
func (r Record) String(key string) string {
	val, ok := r[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if isNullToken(s) {
			return ""
		}
		return s
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Int extracts an integer value, falling back to def when the value is
// missing or unparseable.
func (r Record) Int(key string, def int) int {
	val, ok := r[key]
	if !ok || val == nil {
		return def
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" || isNullToken(s) {
			return def
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return def
}

// Float extracts a float value, falling back to def when the value is
// missing or unparseable.
func (r Record) Float(key string, def float64) float64 {
	val, ok := r[key]
	if !ok || val == nil {
		return def
	}
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" || isNullToken(s) {
			return def
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

// Truthy values accepted for flag columns.
var truthyTokens = map[string]struct{}{
	"1":    {},
	"y":    {},
	"yes":  {},
	"true": {},
}

// Bool extracts a flag value. Anything outside the accepted truthy set
// is false.
func (r Record) Bool(key string) bool {
	val, ok := r[key]
	if !ok || val == nil {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case float32:
		return v == 1
	case int:
		return v == 1
	case int64:
		return v == 1
	case string:
		_, ok := truthyTokens[strings.ToLower(strings.TrimSpace(v))]
		return ok
	}
	return false
}
