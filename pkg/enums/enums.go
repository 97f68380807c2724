// Package enums holds the closed string sets persisted in the database and
// carried on the wire. Every set parses case-sensitively.
package enums

import (
	"fmt"
	"slices"
)

func parseEnum[T ~string](kind, value string, valid []T) (T, error) {
	if v := T(value); slices.Contains(valid, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
