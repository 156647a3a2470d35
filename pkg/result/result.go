// Package result provides a two-variant Result type: a success value or a
// typed error payload. Remote operations return their failures as data so
// callers never branch on panics.
package result

// Result holds either an Ok value of type T or an Err payload of type E.
// The zero value is an Ok holding the zero T.
type Result[T, E any] struct {
	value T
	err   E
	isErr bool
}

// Ok wraps a success value.
func Ok[T, E any](v T) Result[T, E] {
	return Result[T, E]{value: v}
}

// Err wraps an error payload.
func Err[T, E any](e E) Result[T, E] {
	return Result[T, E]{err: e, isErr: true}
}

// IsOk reports whether r holds a success value.
func (r Result[T, E]) IsOk() bool {
	return !r.isErr
}

// IsErr reports whether r holds an error payload.
func (r Result[T, E]) IsErr() bool {
	return r.isErr
}

// Value returns the success value and true, or the zero T and false.
func (r Result[T, E]) Value() (T, bool) {
	if r.isErr {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Error returns the error payload and true, or the zero E and false.
func (r Result[T, E]) Error() (E, bool) {
	if !r.isErr {
		var zero E
		return zero, false
	}
	return r.err, true
}

// ValueOr returns the success value or fallback when r is an Err.
func (r Result[T, E]) ValueOr(fallback T) T {
	if r.isErr {
		return fallback
	}
	return r.value
}
