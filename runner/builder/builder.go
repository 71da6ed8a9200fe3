package builder

import (
	"reflect"

	"github.com/notargets/kernelheap/memory"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

// Size returns the element width in bytes
func (dt DataType) Size() int64 {
	switch dt {
	case Float32, INT32:
		return 4
	default:
		return 8
	}
}

// Kind returns the device element kind
func (dt DataType) Kind() memory.ElementKind {
	switch dt {
	case Float32:
		return memory.KindFloat
	case Float64:
		return memory.KindDouble
	case INT32:
		return memory.KindInt
	case INT64:
		return memory.KindLong
	default:
		return memory.KindInvalid
	}
}

// GoType returns the host element type
func (dt DataType) GoType() reflect.Type {
	switch dt {
	case Float32:
		return reflect.TypeFor[float32]()
	case Float64:
		return reflect.TypeFor[float64]()
	case INT32:
		return reflect.TypeFor[int32]()
	case INT64:
		return reflect.TypeFor[int64]()
	default:
		return nil
	}
}

// String returns the C type name
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT32:
		return "int"
	case INT64:
		return "long"
	default:
		return "void"
	}
}

// DataTypeOf converts reflect.Kind to DataType. Kinds without a kernel
// parameter type return 0.
func DataTypeOf(kind reflect.Kind) DataType {
	switch kind {
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Int32:
		return INT32
	case reflect.Int, reflect.Int64:
		return INT64
	default:
		return 0
	}
}
