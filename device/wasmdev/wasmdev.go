// Package wasmdev implements device.Device on a WebAssembly linear memory
// hosted by wazero. It needs no accelerator and no cgo, so it is the default
// backend for tests and for hosts without an OCCA runtime.
package wasmdev

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	heaperr "github.com/notargets/kernelheap/errors"
)

// PageSize is the WebAssembly page size in bytes
const PageSize = 65536

// memoryModule exports one memory of a single page with no maximum
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page min, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory"
	0x02, 0x00, // kind: memory, index 0
}

// Options configures a wasm device
type Options struct {
	// MaxPages caps the linear memory. Zero means the wazero default.
	MaxPages uint32
	// ByteOrder is the scalar order reported to wrappers. Defaults to
	// little endian, the WebAssembly order.
	ByteOrder binary.ByteOrder
}

// Device is a device.Device over a wazero linear memory. The first page is
// kept as a guard so address zero never names a heap value.
type Device struct {
	mu        sync.Mutex
	ctx       context.Context
	runtime   wazero.Runtime
	module    api.Module
	memory    api.Memory
	order     binary.ByteOrder
	region    int64
	allocated bool
	events    *device.Tracker
}

var _ device.Device = (*Device)(nil)

// New instantiates the backing module and returns a device with no region
func New(ctx context.Context, opts Options) (*Device, error) {
	cfg := wazero.NewRuntimeConfig()
	if opts.MaxPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.MaxPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	mod, err := rt.Instantiate(ctx, memoryModule)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(err, "instantiate memory module")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, errors.New("memory module has no exported memory")
	}

	order := opts.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}

	return &Device{
		ctx:     ctx,
		runtime: rt,
		module:  mod,
		memory:  mem,
		order:   order,
		events:  device.NewTracker(),
	}, nil
}

func (d *Device) Name() string {
	return "wasm"
}

func (d *Device) ByteOrder() binary.ByteOrder {
	return d.order
}

// BasePointer is the linear-memory address of region offset zero
func (d *Device) BasePointer() int64 {
	return PageSize
}

// AllocateRegion grows the linear memory to hold the guard page plus bytes
func (d *Device) AllocateRegion(bytes int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bytes <= 0 {
		return 0, heaperr.New(heaperr.OpRegion, heaperr.KindInvalidArgument).
			Detail("region size must be positive, got %d", bytes).
			Build()
	}
	if d.allocated {
		if bytes != d.region {
			return 0, heaperr.New(heaperr.OpRegion, heaperr.KindInvalidArgument).
				Detail("region already allocated with %d bytes, requested %d", d.region, bytes).
				Build()
		}
		return PageSize, nil
	}

	pages := 1 + (bytes+PageSize-1)/PageSize
	current := int64(d.memory.Size()) / PageSize
	if pages > current {
		if _, ok := d.memory.Grow(uint32(pages - current)); !ok {
			return 0, heaperr.OutOfMemory(heaperr.OpRegion, "wasm linear memory", bytes,
				int64(d.memory.Size())-PageSize)
		}
	}

	d.region = bytes
	d.allocated = true
	device.Logger().Info("wasm region allocated",
		zap.Int64("bytes", bytes),
		zap.Int64("pages", pages))
	return PageSize, nil
}

func (d *Device) checkRange(offset int64, n int) error {
	if !d.allocated {
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
	view, ok := d.memory.Read(uint32(PageSize+offset), uint32(len(dst)))
	if !ok {
		return errors.Wrapf(heaperr.ErrDeviceFailure, "read %d bytes at %d", len(dst), offset)
	}
	copy(dst, view)
	return nil
}

func (d *Device) write(offset int64, src []byte) error {
	if err := d.checkRange(offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	if !d.memory.Write(uint32(PageSize+offset), src) {
		return errors.Wrapf(heaperr.ErrDeviceFailure, "write %d bytes at %d", len(src), offset)
	}
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
	if err != nil {
		device.Logger().Debug("wasm enqueued read failed", zap.Error(err))
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
	if err != nil {
		device.Logger().Debug("wasm enqueued write failed", zap.Error(err))
	}
	return d.events.Record(err)
}

// EnqueueBarrier completes immediately since every enqueued operation has
// already executed
func (d *Device) EnqueueBarrier() device.Event {
	return d.events.Record(nil)
}

func (d *Device) EnqueueMarker(events []device.Event) device.Event {
	return d.events.Marker(events)
}

func (d *Device) Status(ev device.Event) (device.EventStatus, error) {
	return d.events.Status(ev)
}

func (d *Device) Wait(events ...device.Event) error {
	return d.events.Wait(events...)
}

// ResetEvents drops the event history
func (d *Device) ResetEvents() {
	d.events.Reset()
}

// Free closes the wazero runtime and its memory
func (d *Device) Free() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runtime == nil {
		return nil
	}
	err := d.runtime.Close(d.ctx)
	d.runtime = nil
	d.allocated = false
	if err != nil {
		return errors.Wrap(err, "close wasm runtime")
	}
	return nil
}

func (d *Device) String() string {
	return fmt.Sprintf("wasm(region=%d, pages=%d)", d.region, d.memory.Size()/PageSize)
}
