package memory

import (
	"fmt"
	"reflect"
	"unsafe"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// sliceCodec is the element transcoder seen through a reflect.Value
type sliceCodec interface {
	elementWidth() int
	isNative() bool
	viewValue(v reflect.Value) []byte
	encodeValue(dst []byte, v reflect.Value)
	decodeValue(v reflect.Value, src []byte)
}

func (tc transcoder[T]) elementWidth() int { return tc.width }

func (tc transcoder[T]) isNative() bool { return tc.native }

func (tc transcoder[T]) elements(v reflect.Value) []T {
	if v.Len() == 0 {
		return nil
	}
	return unsafe.Slice((*T)(v.UnsafePointer()), v.Len())
}

func (tc transcoder[T]) viewValue(v reflect.Value) []byte {
	return tc.view(tc.elements(v))
}

func (tc transcoder[T]) encodeValue(dst []byte, v reflect.Value) {
	tc.encode(dst, tc.elements(v))
}

func (tc transcoder[T]) decodeValue(v reflect.Value, src []byte) {
	tc.decode(tc.elements(v), src)
}

func codecFor(kind ElementKind, a *Allocator) sliceCodec {
	order := a.dev.ByteOrder()
	switch kind {
	case KindByte:
		return newTranscoder[int8](order)
	case KindShort:
		return newTranscoder[int16](order)
	case KindChar:
		return newTranscoder[uint16](order)
	case KindInt:
		return newTranscoder[int32](order)
	case KindLong:
		return newTranscoder[int64](order)
	case KindFloat:
		return newTranscoder[float32](order)
	case KindDouble:
		return newTranscoder[float64](order)
	default:
		return nil
	}
}

// VectorBuffer places the payload of a vector value with no header: a
// *mat.VecDense, a *mat.Dense, or a pointer to a struct whose payload
// field is tagged device:"payload".
type VectorBuffer struct {
	heapBuffer
	goType  reflect.Type
	kind    ElementKind
	codec   sliceCodec
	payload []int
	staging []byte
}

var _ Wrapper = (*VectorBuffer)(nil)

// NewVectorBuffer creates an unallocated vector buffer for values of
// value's type
func NewVectorBuffer(a *Allocator, value any, final bool) (*VectorBuffer, error) {
	t := reflect.TypeOf(value)
	vb := &VectorBuffer{
		heapBuffer: heapBuffer{alloc: a, final: final},
		goType:     t,
	}

	switch {
	case t == vecDenseType || t == denseType:
		vb.kind = KindDouble
	case t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		layout, err := LayoutOf(t.Elem(), 0)
		if err != nil {
			return nil, err
		}
		if !layout.IsVectorCarrier() {
			return nil, errors.New(errors.OpBind, errors.KindInvalidFieldType).
				GoType(t.String()).
				Detail("struct has no payload field").
				Build()
		}
		fl := layout.Fields[layout.PayloadIndex]
		if !fl.Exported {
			return nil, errors.AccessDenied(fl.Path, fl.Type.String())
		}
		vb.payload = fl.Index
		vb.kind = KindOf(fl.Type.Elem().Kind())
	default:
		return nil, errors.InvalidFieldType(nil, typeName(value))
	}

	vb.codec = codecFor(vb.kind, a)
	return vb, nil
}

// data returns the payload slice of value
func (vb *VectorBuffer) data(value any, op errors.Op) (reflect.Value, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() || v.Type() != vb.goType || v.IsNil() {
		return reflect.Value{}, errors.New(op, errors.KindInvalidArgument).
			GoType(typeName(value)).
			Detail("expected a non-nil %s", vb.goType).
			Build()
	}

	switch x := value.(type) {
	case *mat.VecDense:
		raw := x.RawVector()
		if raw.Inc != 1 && raw.N > 1 {
			return reflect.Value{}, errors.New(op, errors.KindInvalidArgument).
				GoType(vb.goType.String()).
				Detail("vector with increment %d is not contiguous", raw.Inc).
				Build()
		}
		return reflect.ValueOf(raw.Data[:raw.N]), nil
	case *mat.Dense:
		raw := x.RawMatrix()
		if raw.Stride != raw.Cols && raw.Rows > 1 {
			return reflect.Value{}, errors.New(op, errors.KindInvalidArgument).
				GoType(vb.goType.String()).
				Detail("matrix with stride %d and %d columns is not contiguous", raw.Stride, raw.Cols).
				Build()
		}
		return reflect.ValueOf(raw.Data[:raw.Rows*raw.Cols]), nil
	}
	return v.Elem().FieldByIndex(vb.payload), nil
}

// Kind returns the payload element kind
func (vb *VectorBuffer) Kind() ElementKind { return vb.kind }

// Allocate sizes the buffer to the payload, or to batchSize bytes when
// batchSize is positive
func (vb *VectorBuffer) Allocate(value any, batchSize int64) error {
	if batchSize < 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, typeName(value), batchSize, "must not be negative")
	}
	p, err := vb.data(value, errors.OpAllocate)
	if err != nil {
		return err
	}
	size := int64(p.Len()) * int64(vb.codec.elementWidth())
	if batchSize > 0 {
		size = batchSize
	}
	if size <= 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, typeName(value), batchSize, "computed size is not positive")
	}
	return vb.reserve(size, 0)
}

// span returns the host payload bytes to transfer starting at hostOffset
func (vb *VectorBuffer) span(p reflect.Value, hostOffset, limit int64) (reflect.Value, error) {
	width := int64(vb.codec.elementWidth())
	if hostOffset < 0 || hostOffset%width != 0 || hostOffset > int64(p.Len())*width {
		return reflect.Value{}, errors.New(errors.OpTransfer, errors.KindInvalidArgument).
			Detail("host offset %d invalid for %d elements of %d bytes", hostOffset, p.Len(), width).
			Build()
	}
	n := vb.size
	if limit > 0 {
		n = min(n, limit)
	}
	first := int(hostOffset / width)
	count := int(min(n/width, int64(p.Len()-first)))
	return p.Slice(first, first+count), nil
}

func (vb *VectorBuffer) source(elems reflect.Value) []byte {
	if vb.codec.isNative() {
		return vb.codec.viewValue(elems)
	}
	n := elems.Len() * vb.codec.elementWidth()
	if cap(vb.staging) < n {
		vb.staging = make([]byte, n)
	}
	out := vb.staging[:n]
	vb.codec.encodeValue(out, elems)
	return out
}

func (vb *VectorBuffer) target(elems reflect.Value) []byte {
	if vb.codec.isNative() {
		return vb.codec.viewValue(elems)
	}
	n := elems.Len() * vb.codec.elementWidth()
	if cap(vb.staging) < n {
		vb.staging = make([]byte, n)
	}
	return vb.staging[:n]
}

func (vb *VectorBuffer) Write(value any) error {
	p, err := vb.data(value, errors.OpWrite)
	if err != nil {
		return err
	}
	if err := vb.checkAllocated(errors.OpWrite); err != nil {
		return err
	}
	elems, err := vb.span(p, 0, 0)
	if err != nil {
		return err
	}
	if err := vb.alloc.dev.WriteBuffer(vb.placement.offset, vb.source(elems), nil); err != nil {
		return fmt.Errorf("failed to write vector payload: %w", err)
	}
	vb.valid = true
	return nil
}

func (vb *VectorBuffer) EnqueueWrite(value any, batchSize, hostOffset int64, waitEvents []device.Event, useDeps bool) ([]device.Event, error) {
	if batchSize < 0 {
		return nil, errors.InvalidBatchSize(errors.OpWrite, typeName(value), batchSize, "must not be negative")
	}
	p, err := vb.data(value, errors.OpWrite)
	if err != nil {
		return nil, err
	}
	if err := vb.checkAllocated(errors.OpWrite); err != nil {
		return nil, err
	}
	elems, err := vb.span(p, hostOffset, batchSize)
	if err != nil {
		return nil, err
	}
	ev := vb.alloc.dev.EnqueueWriteBuffer(vb.placement.offset, vb.source(elems), waitEvents)
	vb.valid = true
	if !useDeps {
		return nil, nil
	}
	return []device.Event{ev}, nil
}

func (vb *VectorBuffer) Read(value any) error {
	p, err := vb.data(value, errors.OpRead)
	if err != nil {
		return err
	}
	if err := vb.checkAllocated(errors.OpRead); err != nil {
		return err
	}
	elems, err := vb.span(p, 0, 0)
	if err != nil {
		return err
	}
	dst := vb.target(elems)
	if err := vb.alloc.dev.ReadBuffer(vb.placement.offset, dst, nil); err != nil {
		return fmt.Errorf("failed to read vector payload: %w", err)
	}
	if !vb.codec.isNative() {
		vb.codec.decodeValue(elems, dst)
	}
	return nil
}

func (vb *VectorBuffer) EnqueueRead(value any, hostOffset int64, waitEvents []device.Event, useDeps bool) (device.Event, error) {
	p, err := vb.data(value, errors.OpRead)
	if err != nil {
		return device.NoEvent, err
	}
	if err := vb.checkAllocated(errors.OpRead); err != nil {
		return device.NoEvent, err
	}
	elems, err := vb.span(p, hostOffset, 0)
	if err != nil {
		return device.NoEvent, err
	}
	dst := vb.target(elems)
	ev := vb.alloc.dev.EnqueueReadBuffer(vb.placement.offset, dst, waitEvents)
	if !vb.codec.isNative() {
		if err := vb.alloc.dev.Wait(ev); err != nil {
			return device.NoEvent, fmt.Errorf("failed to read vector payload: %w", err)
		}
		vb.codec.decodeValue(elems, dst)
	}
	if !useDeps {
		return device.NoEvent, nil
	}
	return ev, nil
}

func (vb *VectorBuffer) String() string {
	return fmt.Sprintf("vector<%s> %s @ 0x%x (0x%x)", vb.kind, HumanBytes(vb.size), vb.ToAbsoluteAddress(), vb.ToRelativeAddress())
}
