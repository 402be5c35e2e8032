package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup from operator supplied free text and bounds its length.
// The result is plain text, so entities escaped by the policy are decoded again.
func SanitizePlainText(value string, maxRunes int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(plainTextPolicy.Sanitize(value)))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// SanitizeValueMap sanitizes every string inside an opaque JSON object, recursing into nested values.
// Keys whose value sanitizes to nothing are dropped.
func SanitizeValueMap(values map[string]any, maxRunes int) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		cleaned := sanitizeValue(value, maxRunes)
		switch c := cleaned.(type) {
		case nil:
			continue
		case string:
			if c == "" {
				continue
			}
		case map[string]any:
			if c == nil {
				continue
			}
		}
		out[trimmedKey] = cleaned
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeValue(value any, maxRunes int) any {
	switch v := value.(type) {
	case string:
		return SanitizePlainText(v, maxRunes)
	case map[string]any:
		return SanitizeValueMap(v, maxRunes)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item, maxRunes)
		}
		return out
	default:
		return v
	}
}
