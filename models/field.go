package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single optional column update. The zero value is absent, which
// leaves the stored column alone.
type Field[T any] struct {
	value T
	set   bool
	null  bool
}

func Set[T any](v T) Field[T] { return Field[T]{value: v, set: true} }
func Null[T any]() Field[T]   { return Field[T]{null: true} }

// FromPointer maps nil to an explicit null.
func FromPointer[T any](p *T) Field[T] {
	if p == nil {
		return Null[T]()
	}

	return Set(*p)
}

func (f Field[T]) Present() bool { return f.set || f.null }
func (f Field[T]) IsNull() bool  { return f.null }

func (f Field[T]) Get() (T, bool) {
	return f.value, f.set
}

// SQLValue is the bind argument for a present field.
func (f Field[T]) SQLValue() interface{} {
	if f.null {
		return nil
	}

	return f.value
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}

	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(d []byte) error {
	if bytes.Equal(bytes.TrimSpace(d), []byte("null")) {
		*f = Null[T]()
		return nil
	}

	var v T
	if err := json.Unmarshal(d, &v); err != nil {
		return fmt.Errorf("models.Field.UnmarshalJSON: %w", err)
	}

	*f = Set(v)

	return nil
}
