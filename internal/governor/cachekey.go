// Package governor provides cache key derivation.
package governor

import (
	"hash/fnv"
	"io"
	"sort"
	"strconv"
	"strings"
)

// keySeparator joins composite key segments. The unit separator never
// appears in tier names, filter text or product identifiers.
const keySeparator = "\x1f"

// CanonicalFilters flattens a filter set into its canonical text form:
// keys and values trimmed and lowercased, keys sorted after
// normalization, and numeric values reduced to a single representation
// so "5.00" and "5" compare equal. Permutations and whitespace or case
// variants of the same filters always canonicalize identically. Keys
// that collide after normalization collapse to the smaller value so
// the result stays deterministic.
func CanonicalFilters(filters FilterSet) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	normalized := make(map[string]string, len(filters))
	for key, value := range filters {
		k := strings.ToLower(strings.TrimSpace(key))
		v := normalizeFilterValue(value)
		if existing, ok := normalized[k]; ok {
			if v >= existing {
				continue
			}
		} else {
			keys = append(keys, k)
		}
		normalized[k] = v
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(keySeparator)
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(normalized[key])
	}
	return sb.String()
}

// DiscoveryKey derives the discovery tier cache key from a filter set.
func DiscoveryKey(filters FilterSet) string {
	h := fnv.New64a()
	_, _ = io.WriteString(h, CanonicalFilters(filters))
	return strconv.FormatUint(h.Sum64(), 16)
}

func normalizeFilterValue(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		return strconv.FormatFloat(number, 'f', -1, 64)
	}
	return value
}
