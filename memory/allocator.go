package memory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// Allocator owns the device address space of one execution context. The
// space is split into a call-frame region [0, CallStackLimit) and a heap
// region [CallStackLimit, heapLimit); both are bump allocated and only
// reclaimed together by Reset.
//
// An Allocator is not safe for concurrent use. Independent contexts use
// independent allocators.
type Allocator struct {
	dev device.Device
	cfg Config

	basePointer int64
	initialised bool

	callStackPosition int64
	callStackLimit    int64
	heapPosition      int64
	heapLimit         int64
}

// Stats is a snapshot of region usage
type Stats struct {
	CallStackSize      int64
	CallStackAllocated int64
	CallStackRemaining int64
	HeapSize           int64
	HeapAllocated      int64
	HeapRemaining      int64
}

// NewAllocator creates an allocator over dev. The device region is not
// requested until AllocateRegion.
func NewAllocator(dev device.Device, cfg Config) (*Allocator, error) {
	if dev == nil {
		return nil, errors.New(errors.OpAllocate, errors.KindInvalidArgument).
			Detail("device is nil").
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Allocator{
		dev:            dev,
		cfg:            cfg,
		callStackLimit: cfg.CallStackLimit,
		heapPosition:   cfg.CallStackLimit,
	}, nil
}

// Device returns the device this allocator manages
func (a *Allocator) Device() device.Device {
	return a.dev
}

// Config returns the layout constants
func (a *Allocator) Config() Config {
	return a.cfg
}

// AllocateRegion requests the device region once and records its base
// pointer. Repeating the call with the same size is a no-op.
func (a *Allocator) AllocateRegion(totalBytes int64) error {
	if a.initialised {
		if totalBytes != a.heapLimit {
			return errors.New(errors.OpRegion, errors.KindInvalidArgument).
				Detail("region already allocated with %d bytes, requested %d", a.heapLimit, totalBytes).
				Build()
		}
		return nil
	}
	if totalBytes <= a.callStackLimit {
		return errors.New(errors.OpRegion, errors.KindInvalidArgument).
			Detail("region of %d bytes leaves no heap past the call stack limit %d", totalBytes, a.callStackLimit).
			Build()
	}

	base, err := a.dev.AllocateRegion(totalBytes)
	if err != nil {
		return fmt.Errorf("failed to allocate device region on %s: %w", a.dev.Name(), err)
	}

	a.basePointer = base
	a.heapLimit = totalBytes
	a.initialised = true
	a.callStackPosition = 0
	a.heapPosition = a.callStackLimit

	Logger().Info("located heap",
		zap.String("device", a.dev.Name()),
		zap.String("base", fmt.Sprintf("0x%x", base)),
		zap.String("size", HumanBytes(totalBytes)))
	return nil
}

// IsInitialised reports whether the device region has been allocated
func (a *Allocator) IsInitialised() bool {
	return a.initialised
}

// Reset rewinds both cursors. Device contents are left untouched.
func (a *Allocator) Reset() {
	a.callStackPosition = 0
	a.heapPosition = a.callStackLimit
	Logger().Debug("reset heap",
		zap.String("device", a.dev.Name()),
		zap.String("size", HumanBytes(a.heapLimit)))
}

// CreateCallFrame carves a frame for maxArgs arguments from the call-frame
// region
func (a *Allocator) CreateCallFrame(maxArgs int) (*CallFrame, error) {
	if !a.initialised {
		return nil, errNotInitialised(errors.OpCallFrame)
	}
	if maxArgs < 0 {
		return nil, errors.New(errors.OpCallFrame, errors.KindInvalidArgument).
			Detail("max args must not be negative, got %d", maxArgs).
			Build()
	}

	size := int64(maxArgs+a.cfg.ReservedSlots) * a.cfg.SlotWidth
	if a.callStackPosition+size > a.callStackLimit {
		return nil, errors.OutOfMemory(errors.OpCallFrame, "call stack", size, a.callStackLimit-a.callStackPosition)
	}

	offset := a.callStackPosition
	a.callStackPosition = min(align(offset+size, a.cfg.FrameAlignment), a.callStackLimit)

	Logger().Debug("call frame",
		zap.Int64("offset", offset),
		zap.Int64("size", size),
		zap.Int("max_args", maxArgs))
	return newCallFrame(a, offset, size, maxArgs), nil
}

// TryAllocate reserves bytes in the heap region so that the data following
// a headerSize-byte header is aligned. It returns the header start offset.
func (a *Allocator) TryAllocate(bytes, headerSize, alignment int64) (int64, error) {
	if !a.initialised {
		return 0, errNotInitialised(errors.OpAllocate)
	}
	if bytes <= 0 {
		return 0, errors.New(errors.OpAllocate, errors.KindInvalidBatchSize).
			Detail("allocation of %d bytes", bytes).
			Build()
	}

	dataStart := align(a.heapPosition+headerSize, alignment)
	headerStart := dataStart - headerSize
	if bytes > a.heapLimit-headerStart {
		return 0, errors.OutOfMemory(errors.OpAllocate, "heap", bytes, a.heapLimit-a.heapPosition)
	}
	a.heapPosition = headerStart + bytes

	Logger().Debug("heap allocation",
		zap.Int64("offset", headerStart),
		zap.Int64("bytes", bytes),
		zap.String("remaining", HumanBytes(a.heapLimit-a.heapPosition)))
	return headerStart, nil
}

// Extend grows an allocation in place. Only the most recent heap
// allocation can grow; any other request is out of memory.
func (a *Allocator) Extend(offset, oldSize, newSize int64) error {
	if newSize <= oldSize {
		return nil
	}
	if offset+oldSize != a.heapPosition {
		return errors.OutOfMemory(errors.OpAllocate, "heap", newSize, oldSize)
	}
	if newSize > a.heapLimit-offset {
		return errors.OutOfMemory(errors.OpAllocate, "heap", newSize-oldSize, a.heapLimit-a.heapPosition)
	}
	a.heapPosition = offset + newSize
	Logger().Debug("heap allocation extended",
		zap.Int64("offset", offset),
		zap.Int64("old_bytes", oldSize),
		zap.Int64("new_bytes", newSize))
	return nil
}

// BasePointer returns the device address of offset zero
func (a *Allocator) BasePointer() int64 {
	return a.basePointer
}

// ToAbsolute translates a region offset to a device address. A wrapped
// address means the context is corrupt and panics with AddressOverflow.
func (a *Allocator) ToAbsolute(offset int64) int64 {
	address := offset + a.basePointer
	if address < 0 {
		panic(errors.New(errors.OpTranslate, errors.KindAddressOverflow).
			Detail("absolute address wrapped: %d + %d = %d", offset, a.basePointer, address).
			Build())
	}
	return address
}

// ToRelative translates a device address inside the region back to an
// offset. Addresses outside the region are returned unchanged.
func (a *Allocator) ToRelative(address int64) int64 {
	if address >= a.basePointer && address <= a.basePointer+a.heapLimit {
		return address - a.basePointer
	}
	return address
}

// SubBuffer returns a view over [offset, offset+length) of the region
func (a *Allocator) SubBuffer(offset, length int64) (*ByteBuffer, error) {
	if offset < 0 || length < 0 || (a.initialised && offset+length > a.heapLimit) {
		return nil, errors.New(errors.OpRegion, errors.KindInvalidArgument).
			Detail("sub-buffer [%d, %d) outside region of %d bytes", offset, offset+length, a.heapLimit).
			Build()
	}
	return newByteBuffer(a, offset, length), nil
}

// CallStackPosition returns the call-frame cursor
func (a *Allocator) CallStackPosition() int64 { return a.callStackPosition }

// CallStackLimit returns the end of the call-frame region
func (a *Allocator) CallStackLimit() int64 { return a.callStackLimit }

// HeapPosition returns the heap cursor
func (a *Allocator) HeapPosition() int64 { return a.heapPosition }

// HeapLimit returns the end of the region
func (a *Allocator) HeapLimit() int64 { return a.heapLimit }

// Stats returns the current region usage
func (a *Allocator) Stats() Stats {
	return Stats{
		CallStackSize:      a.callStackLimit,
		CallStackAllocated: a.callStackPosition,
		CallStackRemaining: a.callStackLimit - a.callStackPosition,
		HeapSize:           a.heapLimit - a.callStackLimit,
		HeapAllocated:      a.heapPosition - a.callStackLimit,
		HeapRemaining:      a.heapLimit - a.heapPosition,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("call stack %s/%s, heap %s/%s",
		HumanBytes(s.CallStackAllocated), HumanBytes(s.CallStackSize),
		HumanBytes(s.HeapAllocated), HumanBytes(s.HeapSize))
}

// HumanBytes formats a byte count with binary prefixes
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func errNotInitialised(op errors.Op) error {
	return errors.New(op, errors.KindNotAllocated).
		Detail("device region not allocated").
		Build()
}
