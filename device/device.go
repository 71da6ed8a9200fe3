// Package device defines the device-access collaborator consumed by the heap
// allocator and buffer wrappers. Backends live in sub-packages.
package device

import (
	"encoding/binary"
)

// Device is a compute device exposing one flat, offset-addressed region.
// Offsets are relative to the start of the region returned by AllocateRegion.
type Device interface {
	// Name returns a human-readable device name
	Name() string

	// ByteOrder returns the byte order the device expects for scalars
	ByteOrder() binary.ByteOrder

	// AllocateRegion reserves the device region and returns its base pointer
	AllocateRegion(bytes int64) (int64, error)

	// ReadBuffer copies len(dst) bytes at offset into dst, blocking
	ReadBuffer(offset int64, dst []byte, waitEvents []Event) error

	// WriteBuffer copies src to offset, blocking
	WriteBuffer(offset int64, src []byte, waitEvents []Event) error

	// EnqueueReadBuffer schedules a read ordered after waitEvents.
	// Failures are reported through the event status.
	EnqueueReadBuffer(offset int64, dst []byte, waitEvents []Event) Event

	// EnqueueWriteBuffer schedules a write ordered after waitEvents
	EnqueueWriteBuffer(offset int64, src []byte, waitEvents []Event) Event

	// EnqueueBarrier returns an event that completes after every operation
	// enqueued so far
	EnqueueBarrier() Event

	// EnqueueMarker returns an event that completes when all events complete
	EnqueueMarker(events []Event) Event

	// Status reports the completion state of an event
	Status(ev Event) (EventStatus, error)

	// Wait blocks until the events complete and returns the first failure
	Wait(events ...Event) error

	// Free releases the region and any backend resources
	Free() error
}
