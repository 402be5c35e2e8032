package textutil

import (
	"sort"
	"strings"
)

// ParsePairs reads a comma separated "name=value" list such as "impact=secret-a,cj=secret-b".
// Names are lowercased. Entries without a name or value are skipped; the last duplicate wins.
func ParsePairs(raw string) map[string]string {
	values := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}

// SortedKeys returns the keys of values in ascending order.
func SortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
