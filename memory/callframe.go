package memory

import (
	"fmt"
	"math"

	"github.com/notargets/kernelheap/errors"
)

// CallFrame passes the arguments of one kernel invocation. The first
// ReservedSlots slots carry invocation metadata; each argument occupies
// one slot after them.
type CallFrame struct {
	*ByteBuffer
	maxArgs   int
	reserved  int
	slotWidth int64
	numArgs   int
}

func newCallFrame(a *Allocator, offset, size int64, maxArgs int) *CallFrame {
	f := &CallFrame{
		ByteBuffer: newByteBuffer(a, offset, size),
		maxArgs:    maxArgs,
		reserved:   a.cfg.ReservedSlots,
		slotWidth:  a.cfg.SlotWidth,
	}
	f.Reset()
	return f
}

// Reset rewinds the cursor to the first argument slot so the frame can be
// refilled for another launch
func (f *CallFrame) Reset() {
	f.ByteBuffer.Rewind()
	f.pos = int(int64(f.reserved) * f.slotWidth)
	f.numArgs = 0
}

// MaxArgs returns the argument capacity
func (f *CallFrame) MaxArgs() int { return f.maxArgs }

// NumArgs returns the number of arguments pushed since the last Reset
func (f *CallFrame) NumArgs() int { return f.numArgs }

// ReservedSlots returns the number of metadata slots
func (f *CallFrame) ReservedSlots() int { return f.reserved }

// SetHeader stores v in metadata slot
func (f *CallFrame) SetHeader(slot int, v int64) error {
	b, err := f.headerSlot(slot)
	if err != nil {
		return err
	}
	f.order.PutUint64(b, uint64(v))
	return nil
}

// Header returns metadata slot as staged
func (f *CallFrame) Header(slot int) (int64, error) {
	b, err := f.headerSlot(slot)
	if err != nil {
		return 0, err
	}
	return int64(f.order.Uint64(b)), nil
}

func (f *CallFrame) headerSlot(slot int) ([]byte, error) {
	if slot < 0 || slot >= f.reserved {
		return nil, errors.New(errors.OpCallFrame, errors.KindInvalidArgument).
			Detail("header slot %d outside [0, %d)", slot, f.reserved).
			Build()
	}
	if f.slotWidth < 8 {
		return nil, errors.New(errors.OpCallFrame, errors.KindInvalidArgument).
			Detail("header slot of %d bytes cannot hold 8", f.slotWidth).
			Build()
	}
	start := int64(slot) * f.slotWidth
	return f.buffer[start : start+8], nil
}

func (f *CallFrame) slot(width int64) ([]byte, error) {
	if f.numArgs >= f.maxArgs {
		return nil, errors.New(errors.OpCallFrame, errors.KindInvalidArgument).
			Detail("call frame holds %d arguments", f.maxArgs).
			Build()
	}
	if width > f.slotWidth {
		return nil, errors.New(errors.OpCallFrame, errors.KindInvalidArgument).
			Detail("%d-byte argument exceeds %d-byte slot", width, f.slotWidth).
			Build()
	}
	start := f.pos
	f.pos += int(f.slotWidth)
	f.numArgs++
	s := f.buffer[start : start+int(f.slotWidth)]
	clear(s)
	return s, nil
}

func (f *CallFrame) PushInt32(v int32) error {
	s, err := f.slot(4)
	if err != nil {
		return err
	}
	f.order.PutUint32(s, uint32(v))
	return nil
}

func (f *CallFrame) PushInt64(v int64) error {
	s, err := f.slot(8)
	if err != nil {
		return err
	}
	f.order.PutUint64(s, uint64(v))
	return nil
}

func (f *CallFrame) PushFloat32(v float32) error {
	s, err := f.slot(4)
	if err != nil {
		return err
	}
	f.order.PutUint32(s, math.Float32bits(v))
	return nil
}

func (f *CallFrame) PushFloat64(v float64) error {
	s, err := f.slot(8)
	if err != nil {
		return err
	}
	f.order.PutUint64(s, math.Float64bits(v))
	return nil
}

// PushAddress stores a device address argument
func (f *CallFrame) PushAddress(address int64) error {
	return f.PushInt64(address)
}

// Push stores a scalar of any supported Go numeric type
func (f *CallFrame) Push(v any) error {
	switch x := v.(type) {
	case int32:
		return f.PushInt32(x)
	case int64:
		return f.PushInt64(x)
	case int:
		return f.PushInt64(int64(x))
	case float32:
		return f.PushFloat32(x)
	case float64:
		return f.PushFloat64(x)
	case uint32:
		return f.PushInt32(int32(x))
	case uint64:
		return f.PushInt64(int64(x))
	default:
		return errors.New(errors.OpCallFrame, errors.KindInvalidFieldType).
			GoType(fmt.Sprintf("%T", v)).
			Detail("unsupported scalar argument").
			Build()
	}
}

func (f *CallFrame) String() string {
	return fmt.Sprintf("call frame: offset=0x%x, size=%d, args=%d/%d", f.offset, len(f.buffer), f.numArgs, f.maxArgs)
}
