package memory

import (
	"github.com/notargets/kernelheap/errors"
)

// Config holds the layout constants shared by the allocator and every
// wrapper built on it
type Config struct {
	// CallStackLimit is the size of the call-frame region at the start of
	// the address space. The heap begins here.
	CallStackLimit int64

	// ReservedSlots is the number of metadata slots at the head of a call frame
	ReservedSlots int
	// SlotWidth is the byte width of one call-frame slot
	SlotWidth int64
	// FrameAlignment aligns the call-frame cursor after each frame
	FrameAlignment int64

	// Alignment of the payload start of heap values
	Alignment int64

	// ArrayHeaderSize bytes precede every array payload
	ArrayHeaderSize int64
	// ArrayLengthOffset is where the 4-byte length sits inside the header
	ArrayLengthOffset int64

	// ObjectHeaderSize bytes precede the fields of an object image. Zero
	// means objects carry no header and fields start at offset 0.
	ObjectHeaderSize int64
	// HubOffset locates the 8-byte zero placeholder inside the object header
	HubOffset int64

	// RelativeAddresses selects relative addresses for references stored in
	// object images and address tables. Absolute addresses otherwise.
	RelativeAddresses bool
}

// DefaultConfig returns the standard layout
func DefaultConfig() Config {
	return Config{
		CallStackLimit:    8192,
		ReservedSlots:     3,
		SlotWidth:         8,
		FrameAlignment:    128,
		Alignment:         64,
		ArrayHeaderSize:   16,
		ArrayLengthOffset: 8,
		ObjectHeaderSize:  0,
		HubOffset:         0,
		RelativeAddresses: false,
	}
}

// Validate checks the constants for consistency
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.OpAllocate, errors.KindInvalidArgument).
			Detail(format, args...).
			Build()
	}

	switch {
	case c.CallStackLimit < 0:
		return invalid("call stack limit must not be negative, got %d", c.CallStackLimit)
	case c.ReservedSlots < 0:
		return invalid("reserved slots must not be negative, got %d", c.ReservedSlots)
	case c.SlotWidth <= 0:
		return invalid("slot width must be positive, got %d", c.SlotWidth)
	case !isPowerOfTwo(c.FrameAlignment):
		return invalid("frame alignment must be a power of two, got %d", c.FrameAlignment)
	case !isPowerOfTwo(c.Alignment):
		return invalid("alignment must be a power of two, got %d", c.Alignment)
	case c.ArrayHeaderSize < 0:
		return invalid("array header size must not be negative, got %d", c.ArrayHeaderSize)
	case c.ArrayHeaderSize > 0 && (c.ArrayLengthOffset < 0 || c.ArrayLengthOffset+4 > c.ArrayHeaderSize):
		return invalid("array length offset %d does not fit header of %d bytes", c.ArrayLengthOffset, c.ArrayHeaderSize)
	case c.ObjectHeaderSize < 0:
		return invalid("object header size must not be negative, got %d", c.ObjectHeaderSize)
	case c.ObjectHeaderSize > 0 && (c.HubOffset < 0 || c.HubOffset+8 > c.ObjectHeaderSize):
		return invalid("hub offset %d does not fit object header of %d bytes", c.HubOffset, c.ObjectHeaderSize)
	}
	return nil
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// align rounds address up to a multiple of alignment
func align(address, alignment int64) int64 {
	if alignment <= 1 {
		return address
	}
	if rem := address % alignment; rem != 0 {
		return address + alignment - rem
	}
	return address
}
