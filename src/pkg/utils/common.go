package utils

import (
	"cmp"
	"maps"
	"slices"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

// CloneMap returns a shallow copy of m. A nil map yields an empty one so the
// result is always safe to write to.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	maps.Copy(out, m)

	return out
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
