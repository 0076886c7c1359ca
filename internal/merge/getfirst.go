package merge

import (
	"fmt"
	"strings"
)

// KeyNotFoundError is returned by GetFirst when none of the candidate keys
// exist in the map.
type KeyNotFoundError struct {
	// Keys lists every key that was tried, in lookup order.
	Keys []string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("none of %s found in map", strings.Join(e.Keys, ", "))
}

// GetFirst returns the value for the first of keys present in m. When no
// key is present it returns a *KeyNotFoundError naming every key tried.
func GetFirst[K comparable, V any](m map[K]V, keys ...K) (V, error) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, nil
		}
	}

	tried := make([]string, len(keys))
	for i, k := range keys {
		tried[i] = fmt.Sprint(k)
	}
	var zero V
	return zero, &KeyNotFoundError{Keys: tried}
}

// GetFirstOr is GetFirst with a fallback instead of an error.
func GetFirstOr[K comparable, V any](m map[K]V, fallback V, keys ...K) V {
	if v, err := GetFirst(m, keys...); err == nil {
		return v
	}
	return fallback
}
