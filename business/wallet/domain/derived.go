package domain

// DerivedState distinguishes "not yet known" from "fetch failed".
type DerivedState int

const (
	// DerivedUnknown: no result yet under the current tuple.
	DerivedUnknown DerivedState = iota
	// DerivedFailed: the fetch issued under the current tuple failed.
	DerivedFailed
	// DerivedKnown: Value holds the latest result.
	DerivedKnown
)

// Derived is a value derived from the connection state, tagged with the
// generation of the governing tuple it was fetched under.
type Derived[T any] struct {
	Value      T
	State      DerivedState
	Generation uint64
}

// IsKnown reports whether Value is meaningful.
func (d Derived[T]) IsKnown() bool { return d.State == DerivedKnown }

// Get returns the value and whether it is known.
func (d Derived[T]) Get() (T, bool) {
	return d.Value, d.State == DerivedKnown
}
