package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/device/wasmdev"
)

const testRegion = 4 * wasmdev.PageSize

func newTestDevice(t *testing.T, opts wasmdev.Options) *wasmdev.Device {
	t.Helper()
	d, err := wasmdev.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Free() })
	return d
}

// newTestAllocator returns an allocator over a fresh wasm device with its
// region already allocated
func newTestAllocator(t *testing.T, cfg Config) *Allocator {
	t.Helper()
	return newAllocatorOn(t, newTestDevice(t, wasmdev.Options{}), cfg, testRegion)
}

func newAllocatorOn(t *testing.T, dev device.Device, cfg Config, region int64) *Allocator {
	t.Helper()
	a, err := NewAllocator(dev, cfg)
	require.NoError(t, err)
	require.NoError(t, a.AllocateRegion(region))
	return a
}

// transfer is one host-to-device copy seen by recordingDevice
type transfer struct {
	offset int64
	length int
}

// recordingDevice counts the writes that reach the underlying device
type recordingDevice struct {
	device.Device
	writes []transfer
}

func (r *recordingDevice) WriteBuffer(offset int64, src []byte, waitEvents []device.Event) error {
	r.writes = append(r.writes, transfer{offset: offset, length: len(src)})
	return r.Device.WriteBuffer(offset, src, waitEvents)
}

func (r *recordingDevice) EnqueueWriteBuffer(offset int64, src []byte, waitEvents []device.Event) device.Event {
	r.writes = append(r.writes, transfer{offset: offset, length: len(src)})
	return r.Device.EnqueueWriteBuffer(offset, src, waitEvents)
}

func (r *recordingDevice) reset() { r.writes = nil }

func (r *recordingDevice) wroteAt(offset int64) int {
	n := 0
	for _, w := range r.writes {
		if w.offset == offset {
			n++
		}
	}
	return n
}

func newRecordingAllocator(t *testing.T, cfg Config) (*Allocator, *recordingDevice) {
	t.Helper()
	rec := &recordingDevice{Device: newTestDevice(t, wasmdev.Options{})}
	return newAllocatorOn(t, rec, cfg, testRegion), rec
}

// readRaw reads n device bytes at a region offset
func readRaw(t *testing.T, a *Allocator, offset int64, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	require.NoError(t, a.Device().ReadBuffer(offset, buf, nil))
	return buf
}
