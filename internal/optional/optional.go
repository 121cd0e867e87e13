// Package optional holds the result type returned by best-effort collaborators
// (the narrative generator and the SHAP explainer).
package optional

import "errors"

// ErrUnavailable marks a collaborator that is not configured.
var ErrUnavailable = errors.New("collaborator unavailable")

// Result is either a value or the reason it is unavailable.
type Result[T any] struct {
	value  T
	ok     bool
	reason error
}

// Some wraps a present value.
func Some[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Unavailable records why no value was produced.
func Unavailable[T any](reason error) Result[T] {
	if reason == nil {
		reason = ErrUnavailable
	}
	return Result[T]{reason: reason}
}

func (r Result[T]) Ok() bool { return r.ok }

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) { return r.value, r.ok }

// Reason is nil when the value is present.
func (r Result[T]) Reason() error { return r.reason }

// OrElse returns the value or the fallback.
func (r Result[T]) OrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}
