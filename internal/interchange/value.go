package interchange

import (
	"bytes"
	"encoding/json"
)

// Value is a tri-state field in a canonical message: unknown (the source said
// nothing), known (the source supplied a value), or deleted (the source
// explicitly cleared it). Unknown fields must never overwrite recorded state.
type Value[T any] struct {
	known   bool
	deleted bool
	v       T
}

// Some returns a known value.
func Some[T any](v T) Value[T] {
	return Value[T]{known: true, v: v}
}

// Unknown returns the absent value. The zero Value is also unknown.
func Unknown[T any]() Value[T] {
	return Value[T]{}
}

// Deleted returns an explicit clear.
func Deleted[T any]() Value[T] {
	return Value[T]{known: true, deleted: true}
}

// Known reports whether the source supplied this field at all, including an
// explicit delete.
func (v Value[T]) Known() bool { return v.known }

// IsDelete reports whether the source explicitly cleared the field.
func (v Value[T]) IsDelete() bool { return v.known && v.deleted }

// Get returns the carried value. Only meaningful when Known and not IsDelete.
func (v Value[T]) Get() T { return v.v }

// Ptr returns the value for known non-deleted fields and nil otherwise, for
// assignment into nullable entity fields.
func (v Value[T]) Ptr() *T {
	if !v.known || v.deleted {
		return nil
	}
	out := v.v
	return &out
}

var jsonNull = []byte("null")

// UnmarshalJSON treats an explicit null as a delete and any other payload as a
// known value. A field absent from the document remains unknown.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*v = Deleted[T]()
		return nil
	}
	var inner T
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	*v = Some(inner)
	return nil
}

func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.known || v.deleted {
		return jsonNull, nil
	}
	return json.Marshal(v.v)
}
