package mux

// FilterFunc reports whether a value is accepted.
type FilterFunc[T any] func(T) bool

func Any[T any]() FilterFunc[T] {
	return func(T) bool {
		return true
	}
}

// Or accepts a value when at least one filter does. Or of no filters
// rejects everything.
func Or[T any](filters ...FilterFunc[T]) FilterFunc[T] {
	return func(v T) bool {
		for _, filter := range filters {
			if filter(v) {
				return true
			}
		}
		return false
	}
}

// And accepts a value when every filter does. And of no filters accepts
// everything.
func And[T any](filters ...FilterFunc[T]) FilterFunc[T] {
	return func(v T) bool {
		for _, filter := range filters {
			if !filter(v) {
				return false
			}
		}
		return true
	}
}

// Groups combines filters of the same group with Or and the groups with And.
// Empty groups are skipped, so they never reject a value. Groups are
// evaluated in slice order.
func Groups[T any](groups ...[]FilterFunc[T]) FilterFunc[T] {
	combined := make([]FilterFunc[T], 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		combined = append(combined, Or(group...))
	}
	return And(combined...)
}

// Select returns the elements of values accepted by filter, preserving order.
func Select[T any](values []T, filter FilterFunc[T]) []T {
	res := make([]T, 0, len(values))
	for _, v := range values {
		if filter(v) {
			res = append(res, v)
		}
	}
	return res
}
