package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// ByteBuffer is a fixed window [offset, offset+length) of the device region
// with a host staging copy in device byte order. Put and Get move a cursor
// over the staging bytes; the first overrun is kept and reported by Err and
// by the next transfer.
type ByteBuffer struct {
	alloc  *Allocator
	offset int64
	buffer []byte
	order  binary.ByteOrder
	pos    int
	err    error
}

func newByteBuffer(a *Allocator, offset, length int64) *ByteBuffer {
	return &ByteBuffer{
		alloc:  a,
		offset: offset,
		buffer: make([]byte, length),
		order:  a.dev.ByteOrder(),
	}
}

// Offset returns the window start within the region
func (b *ByteBuffer) Offset() int64 { return b.offset }

// Length returns the window size in bytes
func (b *ByteBuffer) Length() int64 { return int64(len(b.buffer)) }

// Bytes returns the staging bytes
func (b *ByteBuffer) Bytes() []byte { return b.buffer }

// ByteOrder returns the device byte order
func (b *ByteBuffer) ByteOrder() binary.ByteOrder { return b.order }

// Position returns the cursor
func (b *ByteBuffer) Position() int { return b.pos }

// SetPosition moves the cursor
func (b *ByteBuffer) SetPosition(pos int) {
	b.pos = pos
}

// Rewind moves the cursor to the start and clears any overrun
func (b *ByteBuffer) Rewind() {
	b.pos = 0
	b.err = nil
}

// Err returns the first cursor overrun
func (b *ByteBuffer) Err() error { return b.err }

// Zero clears the staging bytes
func (b *ByteBuffer) Zero() {
	clear(b.buffer)
}

// ToRelativeAddress returns the window start as a region offset
func (b *ByteBuffer) ToRelativeAddress() int64 {
	return b.offset
}

// ToAbsoluteAddress returns the device address of the window start
func (b *ByteBuffer) ToAbsoluteAddress() int64 {
	return b.alloc.ToAbsolute(b.offset)
}

func (b *ByteBuffer) next(n int) []byte {
	if b.err != nil {
		return nil
	}
	if b.pos < 0 || b.pos+n > len(b.buffer) {
		b.err = errors.New(errors.OpWrite, errors.KindInvalidArgument).
			Detail("cursor %d + %d overruns buffer of %d bytes", b.pos, n, len(b.buffer)).
			Build()
		return nil
	}
	s := b.buffer[b.pos : b.pos+n]
	b.pos += n
	return s
}

func (b *ByteBuffer) PutByte(v byte) {
	if s := b.next(1); s != nil {
		s[0] = v
	}
}

func (b *ByteBuffer) PutInt16(v int16) {
	if s := b.next(2); s != nil {
		b.order.PutUint16(s, uint16(v))
	}
}

func (b *ByteBuffer) PutInt32(v int32) {
	if s := b.next(4); s != nil {
		b.order.PutUint32(s, uint32(v))
	}
}

func (b *ByteBuffer) PutInt64(v int64) {
	if s := b.next(8); s != nil {
		b.order.PutUint64(s, uint64(v))
	}
}

func (b *ByteBuffer) PutFloat32(v float32) {
	if s := b.next(4); s != nil {
		b.order.PutUint32(s, math.Float32bits(v))
	}
}

func (b *ByteBuffer) PutFloat64(v float64) {
	if s := b.next(8); s != nil {
		b.order.PutUint64(s, math.Float64bits(v))
	}
}

func (b *ByteBuffer) GetByte() byte {
	if s := b.next(1); s != nil {
		return s[0]
	}
	return 0
}

func (b *ByteBuffer) GetInt16() int16 {
	if s := b.next(2); s != nil {
		return int16(b.order.Uint16(s))
	}
	return 0
}

func (b *ByteBuffer) GetInt32() int32 {
	if s := b.next(4); s != nil {
		return int32(b.order.Uint32(s))
	}
	return 0
}

func (b *ByteBuffer) GetInt64() int64 {
	if s := b.next(8); s != nil {
		return int64(b.order.Uint64(s))
	}
	return 0
}

func (b *ByteBuffer) GetFloat32() float32 {
	if s := b.next(4); s != nil {
		return math.Float32frombits(b.order.Uint32(s))
	}
	return 0
}

func (b *ByteBuffer) GetFloat64() float64 {
	if s := b.next(8); s != nil {
		return math.Float64frombits(b.order.Uint64(s))
	}
	return 0
}

// Write copies the staging bytes to the device, blocking
func (b *ByteBuffer) Write() error {
	if b.err != nil {
		return b.err
	}
	return b.alloc.dev.WriteBuffer(b.offset, b.buffer, nil)
}

// Read refreshes the staging bytes from the device, blocking
func (b *ByteBuffer) Read() error {
	return b.alloc.dev.ReadBuffer(b.offset, b.buffer, nil)
}

// EnqueueWrite schedules the staging bytes for transfer after waitEvents.
// A cursor overrun is returned without transferring anything.
func (b *ByteBuffer) EnqueueWrite(waitEvents []device.Event) (device.Event, error) {
	if b.err != nil {
		return device.NoEvent, b.err
	}
	return b.alloc.dev.EnqueueWriteBuffer(b.offset, b.buffer, waitEvents), nil
}

// EnqueueRead schedules a refresh of the staging bytes after waitEvents
func (b *ByteBuffer) EnqueueRead(waitEvents []device.Event) device.Event {
	return b.alloc.dev.EnqueueReadBuffer(b.offset, b.buffer, waitEvents)
}

// SubBuffer returns a child view over [offset, offset+length) of this
// window. The child has its own staging bytes.
func (b *ByteBuffer) SubBuffer(offset, length int64) (*ByteBuffer, error) {
	if offset < 0 || length < 0 || offset+length > b.Length() {
		return nil, errors.New(errors.OpRegion, errors.KindInvalidArgument).
			Detail("sub-buffer [%d, %d) outside buffer of %d bytes", offset, offset+length, b.Length()).
			Build()
	}
	return newByteBuffer(b.alloc, b.offset+offset, length), nil
}

// Dump renders the staging bytes as hex, width bytes per line
func (b *ByteBuffer) Dump(width int) string {
	if width <= 0 {
		width = 16
	}
	var sb strings.Builder
	for i := 0; i < len(b.buffer); i += width {
		end := min(i+width, len(b.buffer))
		fmt.Fprintf(&sb, "[0x%04x]: ", b.offset+int64(i))
		for j := i; j < end; j++ {
			fmt.Fprintf(&sb, "%02x", b.buffer[j])
			if j+1 < end {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (b *ByteBuffer) String() string {
	return fmt.Sprintf("buffer: offset=0x%x, length=%d, position=%d", b.offset, len(b.buffer), b.pos)
}
