package memory

import (
	"fmt"
	"math"
	"reflect"
	"unsafe"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// ArrayBuffer places a slice on the device as a header followed by the
// payload. The header holds the element count as a 4-byte integer at
// ArrayLengthOffset; only the payload is ever read back.
type ArrayBuffer[T Element] struct {
	heapBuffer
	tc           transcoder[T]
	kind         ElementKind
	headerSize   int64
	lengthOffset int64
	header       *ByteBuffer
	staging      []byte
	subRegion    int64
}

var _ Wrapper = (*ArrayBuffer[float64])(nil)

// NewArrayBuffer creates an unallocated array buffer
func NewArrayBuffer[T Element](a *Allocator, final bool) *ArrayBuffer[T] {
	return &ArrayBuffer[T]{
		heapBuffer:   heapBuffer{alloc: a, final: final},
		tc:           newTranscoder[T](a.dev.ByteOrder()),
		kind:         ElementKindOf[T](),
		headerSize:   a.cfg.ArrayHeaderSize,
		lengthOffset: a.cfg.ArrayLengthOffset,
	}
}

// Kind returns the device element kind
func (b *ArrayBuffer[T]) Kind() ElementKind { return b.kind }

// HeaderSize returns the bytes preceding the payload
func (b *ArrayBuffer[T]) HeaderSize() int64 { return b.headerSize }

// PayloadSize returns the payload bytes on the device
func (b *ArrayBuffer[T]) PayloadSize() int64 { return b.size - b.headerSize }

// cast accepts []T and any slice whose elements share T's device kind and
// width, such as slices of named numeric types
func (b *ArrayBuffer[T]) cast(value any) ([]T, error) {
	if s, ok := value.([]T); ok {
		return s, nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice &&
		KindOf(v.Type().Elem().Kind()) == b.kind &&
		int(v.Type().Elem().Size()) == b.tc.width {
		if v.Len() == 0 {
			return nil, nil
		}
		return unsafe.Slice((*T)(v.UnsafePointer()), v.Len()), nil
	}
	return nil, errors.New(errors.OpBind, errors.KindInvalidArgument).
		GoType(typeName(value)).
		Detail("expected a slice of %s", b.kind).
		Build()
}

// Allocate sizes the buffer as header plus the whole slice, or header plus
// batchSize bytes when batchSize is positive
func (b *ArrayBuffer[T]) Allocate(value any, batchSize int64) error {
	host, err := b.cast(value)
	if err != nil {
		return err
	}
	return b.AllocateSlice(host, batchSize)
}

// AllocateSlice is Allocate for a typed slice
func (b *ArrayBuffer[T]) AllocateSlice(host []T, batchSize int64) error {
	if batchSize < 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, reflect.TypeFor[[]T]().String(), batchSize, "must not be negative")
	}

	size := b.headerSize + int64(len(host))*int64(b.tc.width)
	if batchSize > 0 {
		if batchSize > math.MaxInt64-b.headerSize {
			return errors.OutOfMemory(errors.OpAllocate, "heap", batchSize, b.alloc.heapLimit-b.alloc.heapPosition)
		}
		size = b.headerSize + batchSize
	}
	if size <= 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, reflect.TypeFor[[]T]().String(), batchSize, "computed size is not positive")
	}

	first := !b.placement.allocated
	if err := b.reserve(size, b.headerSize); err != nil {
		return err
	}
	if first && b.headerSize > 0 {
		header, err := b.alloc.SubBuffer(b.placement.offset, b.headerSize)
		if err != nil {
			return err
		}
		b.header = header
	}

	Logger().Debug("allocated array",
		zap.Stringer("kind", b.kind),
		zap.String("size", HumanBytes(b.size)),
		zap.Int64("length_offset", b.lengthOffset),
		zap.Int64("header_size", b.headerSize),
		zap.Int64("offset", b.placement.offset))
	return nil
}

// dataOffset is the region offset of the first payload byte
func (b *ArrayBuffer[T]) dataOffset() int64 {
	return b.placement.offset + b.headerSize
}

// buildHeader stages the header: zeroes with the element count at
// lengthOffset
func (b *ArrayBuffer[T]) buildHeader() {
	b.header.Zero()
	b.header.Rewind()
	b.header.SetPosition(int(b.lengthOffset))
	b.header.PutInt32(int32(b.PayloadSize() / int64(b.tc.width)))
}

func (b *ArrayBuffer[T]) writesHeader() bool {
	return b.header != nil && !(b.final && b.valid)
}

// span returns the host bytes [hostOffset, hostOffset+n) that fit the
// payload, limited to limit bytes when limit is positive
func (b *ArrayBuffer[T]) span(host []T, hostOffset, limit int64) (first, count int, err error) {
	width := int64(b.tc.width)
	if hostOffset < 0 || hostOffset%width != 0 || hostOffset > int64(len(host))*width {
		return 0, 0, errors.New(errors.OpTransfer, errors.KindInvalidArgument).
			Detail("host offset %d invalid for %d elements of %d bytes", hostOffset, len(host), width).
			Build()
	}
	n := b.PayloadSize()
	if limit > 0 {
		n = min(n, limit)
	}
	first = int(hostOffset / width)
	count = int(min(n/width, int64(len(host)-first)))
	return first, count, nil
}

// payloadBytes returns device-order bytes for elems, zero copy when the
// device shares the host layout
func (b *ArrayBuffer[T]) payloadBytes(elems []T) []byte {
	if b.tc.native {
		return b.tc.view(elems)
	}
	n := len(elems) * b.tc.width
	if cap(b.staging) < n {
		b.staging = make([]byte, n)
	}
	out := b.staging[:n]
	b.tc.encode(out, elems)
	return out
}

// payloadTarget returns the bytes a read should fill for elems
func (b *ArrayBuffer[T]) payloadTarget(elems []T) []byte {
	if b.tc.native {
		return b.tc.view(elems)
	}
	n := len(elems) * b.tc.width
	if cap(b.staging) < n {
		b.staging = make([]byte, n)
	}
	return b.staging[:n]
}

func (b *ArrayBuffer[T]) Write(value any) error {
	host, err := b.cast(value)
	if err != nil {
		return err
	}
	return b.WriteSlice(host)
}

// WriteSlice is Write for a typed slice
func (b *ArrayBuffer[T]) WriteSlice(host []T) error {
	if err := b.checkAllocated(errors.OpWrite); err != nil {
		return err
	}
	if b.writesHeader() {
		b.buildHeader()
		if err := b.header.Write(); err != nil {
			return fmt.Errorf("failed to write array header: %w", err)
		}
	}

	first, count, err := b.span(host, 0, 0)
	if err != nil {
		return err
	}
	elems := host[first : first+count]
	if err := b.alloc.dev.WriteBuffer(b.dataOffset(), b.payloadBytes(elems), nil); err != nil {
		return fmt.Errorf("failed to write array payload: %w", err)
	}
	b.valid = true
	return nil
}

func (b *ArrayBuffer[T]) EnqueueWrite(value any, batchSize, hostOffset int64, waitEvents []device.Event, useDeps bool) ([]device.Event, error) {
	host, err := b.cast(value)
	if err != nil {
		return nil, err
	}
	if err := b.checkAllocated(errors.OpWrite); err != nil {
		return nil, err
	}
	if batchSize < 0 {
		return nil, errors.InvalidBatchSize(errors.OpWrite, typeName(value), batchSize, "must not be negative")
	}

	first, count, err := b.span(host, hostOffset, batchSize)
	if err != nil {
		return nil, err
	}

	var events []device.Event
	if b.writesHeader() {
		b.buildHeader()
		ev, err := b.header.EnqueueWrite(waitEvents)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue array header: %w", err)
		}
		events = append(events, ev)
	}
	elems := host[first : first+count]
	events = append(events, b.alloc.dev.EnqueueWriteBuffer(b.dataOffset(), b.payloadBytes(elems), waitEvents))
	b.valid = true

	if !useDeps {
		return nil, nil
	}
	return events, nil
}

func (b *ArrayBuffer[T]) Read(value any) error {
	host, err := b.cast(value)
	if err != nil {
		return err
	}
	return b.ReadSlice(host)
}

// ReadSlice is Read for a typed slice
func (b *ArrayBuffer[T]) ReadSlice(host []T) error {
	if err := b.checkAllocated(errors.OpRead); err != nil {
		return err
	}
	first, count, err := b.span(host, 0, b.subRegion)
	if err != nil {
		return err
	}
	elems := host[first : first+count]
	dst := b.payloadTarget(elems)
	if err := b.alloc.dev.ReadBuffer(b.dataOffset(), dst, nil); err != nil {
		return fmt.Errorf("failed to read array payload: %w", err)
	}
	if !b.tc.native {
		b.tc.decode(elems, dst)
	}
	return nil
}

func (b *ArrayBuffer[T]) EnqueueRead(value any, hostOffset int64, waitEvents []device.Event, useDeps bool) (device.Event, error) {
	host, err := b.cast(value)
	if err != nil {
		return device.NoEvent, err
	}
	if err := b.checkAllocated(errors.OpRead); err != nil {
		return device.NoEvent, err
	}
	first, count, err := b.span(host, hostOffset, b.subRegion)
	if err != nil {
		return device.NoEvent, err
	}

	elems := host[first : first+count]
	dst := b.payloadTarget(elems)
	ev := b.alloc.dev.EnqueueReadBuffer(b.dataOffset(), dst, waitEvents)
	if !b.tc.native {
		// Decoding needs the bytes, so the read completes here
		if err := b.alloc.dev.Wait(ev); err != nil {
			return device.NoEvent, fmt.Errorf("failed to read array payload: %w", err)
		}
		b.tc.decode(elems, dst)
	}

	if !useDeps {
		return device.NoEvent, nil
	}
	return ev, nil
}

// SetSubRegionSize limits reads to the first n payload bytes. Zero reads
// the whole payload.
func (b *ArrayBuffer[T]) SetSubRegionSize(n int64) error {
	if n < 0 || n%int64(b.tc.width) != 0 {
		return errors.New(errors.OpRead, errors.KindInvalidArgument).
			Detail("sub-region of %d bytes is not a whole number of %d-byte elements", n, b.tc.width).
			Build()
	}
	b.subRegion = n
	return nil
}

// ValidateHeader reads the header back and checks its length field against
// the payload the buffer holds
func (b *ArrayBuffer[T]) ValidateHeader() error {
	if err := b.checkAllocated(errors.OpRead); err != nil {
		return err
	}
	if b.header == nil {
		return nil
	}
	if err := b.header.Read(); err != nil {
		return fmt.Errorf("failed to read array header: %w", err)
	}
	b.header.Rewind()
	b.header.SetPosition(int(b.lengthOffset))
	got := int64(b.header.GetInt32())
	want := b.PayloadSize() / int64(b.tc.width)
	if got != want {
		Logger().Error("invalid array header",
			zap.Int64("expected", want),
			zap.Int64("got", got),
			zap.String("dump", b.header.Dump(8)))
		return errors.New(errors.OpRead, errors.KindDeviceFailure).
			Detail("array header length %d, expected %d", got, want).
			Build()
	}
	return nil
}

// HeapTrace describes the buffer's device placement
func (b *ArrayBuffer[T]) HeapTrace() string {
	return fmt.Sprintf("0x%x\ttype=%s[]\n", b.ToAbsoluteAddress(), b.kind)
}

func (b *ArrayBuffer[T]) String() string {
	return fmt.Sprintf("buffer<%s> %s @ 0x%x (0x%x)", b.kind, HumanBytes(b.size), b.ToAbsoluteAddress(), b.ToRelativeAddress())
}
