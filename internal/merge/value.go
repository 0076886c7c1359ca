// Package merge provides three-state optional values and helpers for
// folding override chains of mail options before they reach a provider.
package merge

// state enumerates the three conditions a Value can be in.
type state int

const (
	// stateUnset means no value was provided at all.
	stateUnset state = iota

	// stateCleared means the caller explicitly cleared the value,
	// cancelling anything provided earlier in an override chain.
	stateCleared

	// stateSet means a real value is present.
	stateSet
)

// Value is an optional value that distinguishes "not provided" from
// "explicitly cleared". A cleared Value never compares as set, and an
// unset Value never equals any real value.
type Value[T any] struct {
	st state
	v  T
}

// Set returns a Value holding v.
func Set[T any](v T) Value[T] {
	return Value[T]{st: stateSet, v: v}
}

// Cleared returns a Value that cancels earlier values in an override chain.
func Cleared[T any]() Value[T] {
	return Value[T]{st: stateCleared}
}

// Unset returns a Value carrying nothing.
func Unset[T any]() Value[T] {
	return Value[T]{st: stateUnset}
}

// IsSet reports whether the Value holds a real value.
func (v Value[T]) IsSet() bool {
	return v.st == stateSet
}

// IsCleared reports whether the Value was explicitly cleared.
func (v Value[T]) IsCleared() bool {
	return v.st == stateCleared
}

// IsUnset reports whether the Value carries nothing.
func (v Value[T]) IsUnset() bool {
	return v.st == stateUnset
}

// Get returns the held value and true, or the zero value and false when
// the Value is unset or cleared.
func (v Value[T]) Get() (T, bool) {
	if v.st != stateSet {
		var zero T
		return zero, false
	}
	return v.v, true
}

// Or returns the held value, or fallback when the Value is unset or cleared.
func (v Value[T]) Or(fallback T) T {
	if v.st != stateSet {
		return fallback
	}
	return v.v
}
