package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// TOOL ARGUMENT EXTRACTION UTILITIES
// =============================================================================
//
// Tool arguments arrive as decoded JSON, so numbers are float64, lists are
// []interface{} and objects are map[string]interface{}. Some models also send
// numbers or booleans as strings. These helpers normalize without panicking.

// ExtractString extracts a string representation from an argument.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ExtractInt extracts an integer. Returns (0, false) if incompatible.
func ExtractInt(arg interface{}) (int, bool) {
	switch v := arg.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float. Returns (0, false) if incompatible.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean, accepting "true"/"false" strings.
func ExtractBool(arg interface{}) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// ExtractStringSlice extracts a list of strings. A JSON-encoded list in a
// string is decoded as well.
func ExtractStringSlice(arg interface{}) ([]string, bool) {
	switch v := arg.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, ExtractString(item))
		}
		return out, true
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// ExtractMap extracts an object. A JSON-encoded object in a string is decoded.
func ExtractMap(arg interface{}) (map[string]interface{}, bool) {
	switch v := arg.(type) {
	case map[string]interface{}:
		return v, true
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]interface{}{}, true
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// ExtractMapSlice extracts a list of objects. A JSON-encoded list in a string
// is decoded as well.
func ExtractMapSlice(arg interface{}) ([]map[string]interface{}, bool) {
	switch v := arg.(type) {
	case []map[string]interface{}:
		return v, true
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	case string:
		var out []map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// ArgString returns args[key] as a string, or "" when absent.
func ArgString(args map[string]interface{}, key string) string {
	return ExtractString(args[key])
}

// ArgInt returns args[key] as an int, or def when absent or incompatible.
func ArgInt(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key]; ok {
		if n, ok := ExtractInt(v); ok {
			return n
		}
	}
	return def
}

// ArgBool returns args[key] as a bool, or def when absent or incompatible.
func ArgBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := ExtractBool(v); ok {
			return b
		}
	}
	return def
}
