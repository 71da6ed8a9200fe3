// Package occadev implements device.Device on an OCCA device. The heap
// region is a single OCCA memory allocation; offsets index into it.
package occadev

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	heaperr "github.com/notargets/kernelheap/errors"
)

// Device is a device.Device backed by one OCCA memory region
type Device struct {
	mu     sync.Mutex
	occa   *gocca.OCCADevice
	owned  bool
	memory *gocca.OCCAMemory
	region int64
	events *device.Tracker
}

var _ device.Device = (*Device)(nil)

// New creates an OCCA device from a properties string such as
// `{"mode": "Serial"}`
func New(props string) (*Device, error) {
	occa, err := gocca.NewDevice(props)
	if err != nil {
		return nil, errors.Wrapf(err, "create OCCA device %s", props)
	}
	d := Wrap(occa)
	d.owned = true
	return d, nil
}

// Wrap adapts an existing OCCA device. The caller keeps ownership of occa.
func Wrap(occa *gocca.OCCADevice) *Device {
	return &Device{
		occa:   occa,
		events: device.NewTracker(),
	}
}

// OCCA returns the underlying OCCA device
func (d *Device) OCCA() *gocca.OCCADevice {
	return d.occa
}

// Memory returns the OCCA memory backing the region, nil before
// AllocateRegion
func (d *Device) Memory() *gocca.OCCAMemory {
	return d.memory
}

func (d *Device) Name() string {
	return "occa:" + d.occa.Mode()
}

// ByteOrder is the host order; OCCA backends share the host's scalar layout
func (d *Device) ByteOrder() binary.ByteOrder {
	return binary.NativeEndian
}

// AllocateRegion mallocs the region. Kernels see region offsets, so the base
// pointer is zero.
func (d *Device) AllocateRegion(bytes int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bytes <= 0 {
		return 0, heaperr.New(heaperr.OpRegion, heaperr.KindInvalidArgument).
			Detail("region size must be positive, got %d", bytes).
			Build()
	}
	if d.memory != nil {
		if bytes != d.region {
			return 0, heaperr.New(heaperr.OpRegion, heaperr.KindInvalidArgument).
				Detail("region already allocated with %d bytes, requested %d", d.region, bytes).
				Build()
		}
		return 0, nil
	}

	mem := d.occa.Malloc(bytes, nil, nil)
	if mem == nil {
		return 0, heaperr.OutOfMemory(heaperr.OpRegion, d.Name(), bytes, 0)
	}
	d.memory = mem
	d.region = bytes
	device.Logger().Info("OCCA region allocated",
		zap.String("mode", d.occa.Mode()),
		zap.Int64("bytes", bytes))
	return 0, nil
}

func (d *Device) checkRange(offset int64, n int) error {
	if d.memory == nil {
		return heaperr.New(heaperr.OpTransfer, heaperr.KindNotAllocated).
			Detail("device region not allocated").
			Build()
	}
	if offset < 0 || offset+int64(n) > d.region {
		return heaperr.New(heaperr.OpTransfer, heaperr.KindDeviceFailure).
			Detail("range [%d, %d) outside region of %d bytes", offset, offset+int64(n), d.region).
			Build()
	}
	return nil
}

func (d *Device) read(offset int64, dst []byte) error {
	if err := d.checkRange(offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	d.memory.CopyToWithOffset(unsafe.Pointer(&dst[0]), int64(len(dst)), offset)
	return nil
}

func (d *Device) write(offset int64, src []byte) error {
	if err := d.checkRange(offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	d.memory.CopyFromWithOffset(unsafe.Pointer(&src[0]), int64(len(src)), offset)
	return nil
}

func (d *Device) ReadBuffer(offset int64, dst []byte, waitEvents []device.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.events.Check(waitEvents); err != nil {
		return err
	}
	return d.read(offset, dst)
}

func (d *Device) WriteBuffer(offset int64, src []byte, waitEvents []device.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.events.Check(waitEvents); err != nil {
		return err
	}
	return d.write(offset, src)
}

func (d *Device) EnqueueReadBuffer(offset int64, dst []byte, waitEvents []device.Event) device.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.events.Check(waitEvents)
	if err == nil {
		err = d.read(offset, dst)
	}
	return d.events.Record(err)
}

func (d *Device) EnqueueWriteBuffer(offset int64, src []byte, waitEvents []device.Event) device.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.events.Check(waitEvents)
	if err == nil {
		err = d.write(offset, src)
	}
	return d.events.Record(err)
}

// EnqueueBarrier drains the OCCA stream
func (d *Device) EnqueueBarrier() device.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.occa.Finish()
	return d.events.Record(nil)
}

func (d *Device) EnqueueMarker(events []device.Event) device.Event {
	return d.events.Marker(events)
}

func (d *Device) Status(ev device.Event) (device.EventStatus, error) {
	return d.events.Status(ev)
}

func (d *Device) Wait(events ...device.Event) error {
	d.mu.Lock()
	d.occa.Finish()
	d.mu.Unlock()
	return d.events.Wait(events...)
}

// Free releases the region, and the OCCA device when New created it
func (d *Device) Free() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memory != nil {
		d.memory.Free()
		d.memory = nil
	}
	if d.owned && d.occa != nil {
		d.occa.Free()
		d.occa = nil
	}
	d.events.Reset()
	return nil
}

func (d *Device) String() string {
	return fmt.Sprintf("occa(mode=%s, region=%d)", d.occa.Mode(), d.region)
}
