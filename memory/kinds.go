package memory

import (
	"encoding/binary"
	"math"
	"reflect"
	"unsafe"
)

// Element is the set of element types an ArrayBuffer can carry
type Element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~int64 | ~float32 | ~float64
}

// ElementKind names a device element type
type ElementKind int

const (
	KindInvalid ElementKind = iota
	KindByte
	KindShort
	KindChar
	KindInt
	KindLong
	KindFloat
	KindDouble
)

func (k ElementKind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindChar:
		return "char"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	default:
		return "invalid"
	}
}

// Width returns the element size in bytes
func (k ElementKind) Width() int64 {
	switch k {
	case KindByte:
		return 1
	case KindShort, KindChar:
		return 2
	case KindInt, KindFloat:
		return 4
	case KindLong, KindDouble:
		return 8
	default:
		return 0
	}
}

// KindOf maps a Go kind to its device element kind. Platform-sized and
// unsigned 32/64-bit integers map to the signed kind of the same width.
func KindOf(k reflect.Kind) ElementKind {
	switch k {
	case reflect.Int8, reflect.Uint8, reflect.Bool:
		return KindByte
	case reflect.Int16:
		return KindShort
	case reflect.Uint16:
		return KindChar
	case reflect.Int32, reflect.Uint32:
		return KindInt
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Uintptr:
		return KindLong
	case reflect.Float32:
		return KindFloat
	case reflect.Float64:
		return KindDouble
	default:
		return KindInvalid
	}
}

// ElementKindOf returns the device element kind of T
func ElementKindOf[T Element]() ElementKind {
	return KindOf(reflect.TypeFor[T]().Kind())
}

var nativeProbe = []byte{1, 0}

// isNative reports whether order lays out scalars like the host does
func isNative(order binary.ByteOrder) bool {
	return order.Uint16(nativeProbe) == binary.NativeEndian.Uint16(nativeProbe)
}

// transcoder moves slices of T to and from device bytes. When the device
// order matches the host the slice memory is used directly.
type transcoder[T Element] struct {
	width int
	order binary.ByteOrder
	// native is true when the slice memory already has the device layout
	native bool
}

func newTranscoder[T Element](order binary.ByteOrder) transcoder[T] {
	var zero T
	width := int(unsafe.Sizeof(zero))
	return transcoder[T]{
		width:  width,
		order:  order,
		native: width == 1 || isNative(order),
	}
}

// view returns the bytes backing s
func (tc transcoder[T]) view(s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*tc.width)
}

// encode writes src into dst in device order
func (tc transcoder[T]) encode(dst []byte, src []T) {
	if tc.native {
		copy(dst, tc.view(src))
		return
	}
	switch tc.width {
	case 2:
		for i := range src {
			tc.order.PutUint16(dst[2*i:], *(*uint16)(unsafe.Pointer(&src[i])))
		}
	case 4:
		for i := range src {
			tc.order.PutUint32(dst[4*i:], *(*uint32)(unsafe.Pointer(&src[i])))
		}
	case 8:
		for i := range src {
			tc.order.PutUint64(dst[8*i:], *(*uint64)(unsafe.Pointer(&src[i])))
		}
	}
}

// decode fills dst from device-order bytes in src
func (tc transcoder[T]) decode(dst []T, src []byte) {
	if tc.native {
		copy(tc.view(dst), src)
		return
	}
	switch tc.width {
	case 2:
		for i := range dst {
			*(*uint16)(unsafe.Pointer(&dst[i])) = tc.order.Uint16(src[2*i:])
		}
	case 4:
		for i := range dst {
			*(*uint32)(unsafe.Pointer(&dst[i])) = tc.order.Uint32(src[4*i:])
		}
	case 8:
		for i := range dst {
			*(*uint64)(unsafe.Pointer(&dst[i])) = tc.order.Uint64(src[8*i:])
		}
	}
}

// putScalar stores the value of a primitive reflect.Value at dst
func putScalar(dst []byte, v reflect.Value, order binary.ByteOrder) {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case reflect.Int8:
		dst[0] = byte(v.Int())
	case reflect.Uint8:
		dst[0] = byte(v.Uint())
	case reflect.Int16:
		order.PutUint16(dst, uint16(v.Int()))
	case reflect.Uint16:
		order.PutUint16(dst, uint16(v.Uint()))
	case reflect.Int32:
		order.PutUint32(dst, uint32(v.Int()))
	case reflect.Uint32:
		order.PutUint32(dst, uint32(v.Uint()))
	case reflect.Int64, reflect.Int:
		order.PutUint64(dst, uint64(v.Int()))
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		order.PutUint64(dst, v.Uint())
	case reflect.Float32:
		order.PutUint32(dst, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		order.PutUint64(dst, math.Float64bits(v.Float()))
	}
}

// getScalar loads src into the primitive reflect.Value v
func getScalar(v reflect.Value, src []byte, order binary.ByteOrder) {
	switch v.Kind() {
	case reflect.Bool:
		v.SetBool(src[0] != 0)
	case reflect.Int8:
		v.SetInt(int64(int8(src[0])))
	case reflect.Uint8:
		v.SetUint(uint64(src[0]))
	case reflect.Int16:
		v.SetInt(int64(int16(order.Uint16(src))))
	case reflect.Uint16:
		v.SetUint(uint64(order.Uint16(src)))
	case reflect.Int32:
		v.SetInt(int64(int32(order.Uint32(src))))
	case reflect.Uint32:
		v.SetUint(uint64(order.Uint32(src)))
	case reflect.Int64, reflect.Int:
		v.SetInt(int64(order.Uint64(src)))
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		v.SetUint(order.Uint64(src))
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(order.Uint32(src))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(order.Uint64(src)))
	}
}
