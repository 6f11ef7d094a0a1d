package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// safeKeys is the lookup order used to pick a display label out of an
// object the backend returned where a plain string was expected.
var safeKeys = []string{
	"benefit",
	"opportunity",
	"recommendation",
	"trait",
	"preference",
	"category",
	"items",
}

// SafeString renders any decoded JSON value as display text. Strings and
// numbers pass through; objects are labelled by the first truthy key in
// safeKeys, then serialized, then coerced with fmt.
func SafeString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	case map[string]any:
		for _, k := range safeKeys {
			field, ok := val[k]
			if !ok || !truthy(field) {
				continue
			}
			if items, ok := field.([]any); ok {
				return joinSafe(items)
			}
			return SafeString(field)
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// SafeStrings renders every element of a list, dropping empty results.
func SafeStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := SafeString(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func joinSafe(items []any) string {
	return strings.Join(SafeStrings(items), ", ")
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case float64:
		return val != 0
	case bool:
		return val
	}
	return true
}
