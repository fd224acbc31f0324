package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Upstream arrays come from encoding/json, so numbers arrive as float64 (or
// json.Number when the decoder uses UseNumber) and absent values as nil.
// Some feeds send numbers as strings; those are accepted too.

// truthy reports whether v would count as a present identifier.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "" && t.String() != "0"
	default:
		return true
	}
}

// stringAt returns raw[i] as a string, or "" when absent.
func stringAt(raw Raw, i int) string {
	if i >= len(raw) {
		return ""
	}
	switch t := raw[i].(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// Numeric identifiers are kept as integers where possible.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// floatAt returns raw[i] as a finite float64. ok is false when the value is
// absent, unparseable, NaN or infinite.
func floatAt(raw Raw, i int) (float64, bool) {
	f, ok := anyFloat(raw, i)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func anyFloat(raw Raw, i int) (float64, bool) {
	if i >= len(raw) {
		return 0, false
	}
	switch t := raw[i].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// boolAt returns raw[i] as a bool; absent values are false.
func boolAt(raw Raw, i int) bool {
	if i >= len(raw) {
		return false
	}
	switch t := raw[i].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	default:
		return false
	}
}
