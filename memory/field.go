package memory

import (
	"reflect"
	"strings"
)

// FieldBinding couples one placed field of an object to the wrapper of its
// current value. Primitive fields have no wrapper, and neither do nil
// references until they are set.
type FieldBinding struct {
	layout  *FieldLayout
	wrapper Wrapper
	// address last serialised into the object image, 0 for nil
	imaged int64
}

// Name returns the dotted field path
func (f *FieldBinding) Name() string {
	return strings.Join(f.layout.Path, ".")
}

// Layout returns the field's placement
func (f *FieldBinding) Layout() *FieldLayout { return f.layout }

// Offset returns the field offset inside the object image
func (f *FieldBinding) Offset() int64 { return f.layout.Offset }

// Class returns the field classification
func (f *FieldBinding) Class() FieldClass { return f.layout.Class }

// IsPrimitive reports whether the field is stored by value
func (f *FieldBinding) IsPrimitive() bool { return f.layout.Class == FieldPrimitive }

// IsFinal reports whether the field is tagged final
func (f *FieldBinding) IsFinal() bool { return f.layout.Final }

// IsAccessible reports whether the field value can be reached
func (f *FieldBinding) IsAccessible() bool { return f.layout.Exported }

// Wrapper returns the wrapper of the field's value, nil for primitives and
// nil references
func (f *FieldBinding) Wrapper() Wrapper { return f.wrapper }

// NeedsWrite reports whether writing the object must also write this
// field. Only final primitives can be skipped; arrays and objects behind a
// final reference may still have changed.
func (f *FieldBinding) NeedsWrite() bool {
	return !(f.layout.Final && f.IsPrimitive())
}

// Value extracts the field from record, which must be an addressable
// struct value
func (f *FieldBinding) Value(record reflect.Value) reflect.Value {
	return record.FieldByIndex(f.layout.Index)
}

// isNil reports whether a reference value is unset
func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}
