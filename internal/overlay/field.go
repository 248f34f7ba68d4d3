package overlay

// Field is a leaf of a patch: either unset, or set to a value. Merging two
// fields keeps the later one when it is set.
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a set field.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Or returns the field value when set, otherwise fallback.
func (f Field[T]) Or(fallback T) T {
	if f.Set {
		return f.Value
	}
	return fallback
}

// Merge overlays next on top of f.
func (f Field[T]) Merge(next Field[T]) Field[T] {
	if next.Set {
		return next
	}
	return f
}
