package result

// Map transforms the success value. The error path is returned unchanged and
// f is never called on it. f must not fail: Map does not recover, so a panic
// in f reaches the caller. Run a transformation that can fail through Try so
// the failure lands in the Err variant.
func Map[T, U, E any](r Result[T, E], f func(T) U) Result[U, E] {
	if r.isErr {
		return Err[U, E](r.err)
	}
	return Ok[U, E](f(r.value))
}

// MapError transforms the error payload. The success path is returned
// unchanged and g is never called on it. Like Map, it does not recover from a
// panic in g.
func MapError[T, E, F any](r Result[T, E], g func(E) F) Result[T, F] {
	if !r.isErr {
		return Ok[T, F](r.value)
	}
	return Err[T, F](g(r.err))
}

// AndThen chains an operation that itself returns a Result.
func AndThen[T, U, E any](r Result[T, E], f func(T) Result[U, E]) Result[U, E] {
	if r.isErr {
		return Err[U, E](r.err)
	}
	return f(r.value)
}

// Try runs a fallible transformation on the success value. A non-nil error
// from f is converted into the Err variant through wrap.
func Try[T, U, E any](r Result[T, E], f func(T) (U, error), wrap func(error) E) Result[U, E] {
	if r.isErr {
		return Err[U, E](r.err)
	}
	out, err := f(r.value)
	if err != nil {
		return Err[U, E](wrap(err))
	}
	return Ok[U, E](out)
}

// Match consumes r exhaustively: exactly one of onOk or onErr runs.
func Match[T, E, R any](r Result[T, E], onOk func(T) R, onErr func(E) R) R {
	if r.isErr {
		return onErr(r.err)
	}
	return onOk(r.value)
}

// Inspect runs exactly one side effect depending on the variant and returns
// r unchanged. Either callback may be nil.
func Inspect[T, E any](r Result[T, E], onOk func(T), onErr func(E)) Result[T, E] {
	if r.isErr {
		if onErr != nil {
			onErr(r.err)
		}
		return r
	}
	if onOk != nil {
		onOk(r.value)
	}
	return r
}
