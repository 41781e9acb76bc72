// Package enums holds the string enums persisted as Postgres enum types and
// exchanged over the API.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

// parse matches raw against valid, ignoring surrounding whitespace.
func parse[T ~string](valid []T, raw, label string) (T, error) {
	candidate := T(strings.TrimSpace(raw))
	if slices.Contains(valid, candidate) {
		return candidate, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", label, raw)
}
