// Package compose holds the merge rules builders use to layer configuration
// fragments. A merge never mutates its inputs and an empty new value never
// erases an old one.
package compose

import (
	"maps"
	"slices"
)

// Combine returns newValue unless it is the zero value of T, in which case
// oldValue is kept.
func Combine[T comparable](oldValue, newValue T) T {
	var zero T
	if newValue != zero {
		return newValue
	}
	return oldValue
}

// CombineSlice appends newValue to oldValue in a fresh slice. Nil is returned
// when both are empty.
func CombineSlice[T any](oldValue, newValue []T) []T {
	if len(oldValue) == 0 && len(newValue) == 0 {
		return nil
	}
	out := make([]T, 0, len(oldValue)+len(newValue))
	out = append(out, oldValue...)
	return append(out, newValue...)
}

// Override returns a copy of newValue if it has elements, otherwise a copy of
// oldValue. Use it for lists that are replaced as a whole, like an entrypoint.
func Override[T any](oldValue, newValue []T) []T {
	if len(newValue) > 0 {
		return slices.Clone(newValue)
	}
	return slices.Clone(oldValue)
}

// CombineMap returns the union of both maps in a fresh map; keys present in
// newValue win.
func CombineMap[K comparable, V any](oldValue, newValue map[K]V) map[K]V {
	if len(oldValue) == 0 && len(newValue) == 0 {
		return nil
	}
	out := make(map[K]V, len(oldValue)+len(newValue))
	maps.Copy(out, oldValue)
	maps.Copy(out, newValue)
	return out
}
