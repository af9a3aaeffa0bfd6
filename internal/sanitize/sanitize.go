package sanitize

import (
	"strings"
)

// RedactedValue replaces the value of any sensitive key.
const RedactedValue = "[REDACTED]"

// DefaultSensitiveKeys are redacted when no explicit key set is given.
var DefaultSensitiveKeys = []string{
	"password",
	"token",
	"access_token",
	"refresh_token",
	"secret",
	"apikey",
	"api_key",
	"authorization",
}

// Sanitize deep-copies v, replacing the value of every map key whose
// lowercase form is in the default sensitive set with RedactedValue. The
// input is never mutated. Primitives and nil pass through unchanged.
func Sanitize(v interface{}) interface{} {
	return SanitizeWith(v, DefaultSensitiveKeys)
}

// SanitizeWith is Sanitize with a caller-supplied sensitive key set.
func SanitizeWith(v interface{}, sensitiveKeys []string) interface{} {
	keys := make(map[string]bool, len(sensitiveKeys))
	for _, k := range sensitiveKeys {
		keys[strings.ToLower(k)] = true
	}
	return sanitizeValue(v, keys)
}

func sanitizeValue(v interface{}, keys map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if keys[strings.ToLower(k)] {
				out[k] = RedactedValue
				continue
			}
			out[k] = sanitizeValue(inner, keys)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner, keys)
		}
		return out
	default:
		return v
	}
}
