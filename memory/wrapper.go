package memory

import (
	"fmt"
	"reflect"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// Wrapper represents one host value on the device heap
type Wrapper interface {
	// Allocate reserves device space for value. A positive batchSize
	// reserves that many payload bytes instead of the whole value.
	Allocate(value any, batchSize int64) error

	// Write copies value to the device, blocking
	Write(value any) error

	// Read copies the device payload back into value, blocking
	Read(value any) error

	// EnqueueWrite schedules a write ordered after waitEvents. hostOffset is
	// a byte offset into the host payload. The returned events are nil
	// unless useDeps is set.
	EnqueueWrite(value any, batchSize, hostOffset int64, waitEvents []device.Event, useDeps bool) ([]device.Event, error)

	// EnqueueRead schedules a read ordered after waitEvents. The event is
	// device.NoEvent unless useDeps is set.
	EnqueueRead(value any, hostOffset int64, waitEvents []device.Event, useDeps bool) (device.Event, error)

	// ToAbsoluteAddress returns the device address kernels dereference
	ToAbsoluteAddress() int64

	// ToRelativeAddress returns the address as a region offset
	ToRelativeAddress() int64

	// Size returns the number of bytes the value occupies on the device
	Size() int64

	// IsValid reports whether the device copy is current
	IsValid() bool

	// Invalidate marks the device copy stale
	Invalidate()
}

// WrapperFactory builds the wrapper for one host value
type WrapperFactory func(a *Allocator, value any, final bool) (Wrapper, error)

// Placement records where a wrapper lives in the heap. The zero value is
// unallocated; once allocated the offset never changes.
type Placement struct {
	allocated bool
	offset    int64
	reserved  int64
}

// IsAllocated reports whether the placement has an offset
func (p Placement) IsAllocated() bool { return p.allocated }

// Offset returns the region offset, meaningful only when allocated
func (p Placement) Offset() int64 { return p.offset }

// Reserved returns the number of bytes held in the heap
func (p Placement) Reserved() int64 { return p.reserved }

func (p Placement) String() string {
	if !p.allocated {
		return "unallocated"
	}
	return fmt.Sprintf("0x%x+%d", p.offset, p.reserved)
}

// heapBuffer is the state every heap-resident wrapper shares
type heapBuffer struct {
	alloc     *Allocator
	placement Placement
	size      int64
	valid     bool
	final     bool
}

// reserve places size bytes on first use. Later calls keep the offset and
// either shrink the recorded size or grow the reservation in place.
func (h *heapBuffer) reserve(size, headerSize int64) error {
	if !h.placement.allocated {
		offset, err := h.alloc.TryAllocate(size, headerSize, h.alloc.cfg.Alignment)
		if err != nil {
			return err
		}
		h.placement = Placement{allocated: true, offset: offset, reserved: size}
		h.size = size
		return nil
	}
	if size > h.placement.reserved {
		if err := h.alloc.Extend(h.placement.offset, h.placement.reserved, size); err != nil {
			return err
		}
		h.placement.reserved = size
	}
	h.size = size
	return nil
}

func (h *heapBuffer) checkAllocated(op errors.Op) error {
	if !h.placement.allocated {
		return errors.New(op, errors.KindNotAllocated).
			Detail("wrapper has no device placement").
			Build()
	}
	return nil
}

// Placement returns the heap placement
func (h *heapBuffer) Placement() Placement { return h.placement }

// ToRelativeAddress returns the region offset, or 0 before allocation
func (h *heapBuffer) ToRelativeAddress() int64 {
	if !h.placement.allocated {
		return 0
	}
	return h.placement.offset
}

// ToAbsoluteAddress returns the device address, or 0 before allocation
func (h *heapBuffer) ToAbsoluteAddress() int64 {
	if !h.placement.allocated {
		return 0
	}
	return h.alloc.ToAbsolute(h.placement.offset)
}

func (h *heapBuffer) Size() int64 { return h.size }

func (h *heapBuffer) IsValid() bool { return h.valid }

func (h *heapBuffer) Invalidate() { h.valid = false }

// IsFinal reports whether the wrapper treats its value as immutable
func (h *heapBuffer) IsFinal() bool { return h.final }

// addressOf returns the reference stored for w under the addressing policy
func addressOf(a *Allocator, w Wrapper) int64 {
	if w == nil {
		return 0
	}
	if a.cfg.RelativeAddresses {
		return w.ToRelativeAddress()
	}
	return w.ToAbsoluteAddress()
}

var (
	vecDenseType = reflect.TypeFor[*mat.VecDense]()
	denseType    = reflect.TypeFor[*mat.Dense]()
)

// NewWrapper builds the wrapper for value: numeric slices become array
// buffers, slices of slices multi-dimensional buffers, gonum vectors and
// payload-tagged structs vector buffers, and other struct pointers object
// buffers.
func NewWrapper(a *Allocator, value any, final bool) (Wrapper, error) {
	return newWrapper(a, reflect.ValueOf(value), final, nil, make(map[uintptr]bool))
}

func newWrapper(a *Allocator, v reflect.Value, final bool, path []string, visiting map[uintptr]bool) (Wrapper, error) {
	if !v.IsValid() {
		return nil, errors.New(errors.OpBind, errors.KindInvalidArgument).
			Path(path...).
			Detail("cannot wrap a nil value").
			Build()
	}
	t := v.Type()

	switch {
	case t == vecDenseType || t == denseType:
		return wrapped(NewVectorBuffer(a, v.Interface(), final))

	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Slice:
		factory := func(a *Allocator, inner any, final bool) (Wrapper, error) {
			return newWrapper(a, reflect.ValueOf(inner), final, path, visiting)
		}
		return NewMultiDimArrayBuffer(a, factory, final), nil

	case t.Kind() == reflect.Slice:
		if w := newArrayForKind(a, KindOf(t.Elem().Kind()), final); w != nil {
			return w, nil
		}

	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		if v.IsNil() {
			return nil, errors.New(errors.OpBind, errors.KindInvalidArgument).
				Path(path...).
				GoType(t.String()).
				Detail("cannot wrap a nil pointer").
				Build()
		}
		if isVectorCarrier(t.Elem()) {
			return wrapped(NewVectorBuffer(a, v.Interface(), final))
		}
		return wrapped(newObjectBuffer(a, v, final, path, visiting))
	}

	return nil, errors.InvalidFieldType(path, t.String())
}

// wrapped keeps a failed constructor from yielding a typed nil Wrapper
func wrapped[W Wrapper](w W, err error) (Wrapper, error) {
	if err != nil {
		return nil, err
	}
	return w, nil
}

// newArrayForKind instantiates the array buffer for a device element kind
func newArrayForKind(a *Allocator, kind ElementKind, final bool) Wrapper {
	switch kind {
	case KindByte:
		return NewArrayBuffer[int8](a, final)
	case KindShort:
		return NewArrayBuffer[int16](a, final)
	case KindChar:
		return NewArrayBuffer[uint16](a, final)
	case KindInt:
		return NewArrayBuffer[int32](a, final)
	case KindLong:
		return NewArrayBuffer[int64](a, final)
	case KindFloat:
		return NewArrayBuffer[float32](a, final)
	case KindDouble:
		return NewArrayBuffer[float64](a, final)
	default:
		return nil
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
