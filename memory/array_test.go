package memory

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/device/wasmdev"
	"github.com/notargets/kernelheap/errors"
)

func TestArrayBufferRoundTrip(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())

	host := make([]int32, 1000)
	for i := range host {
		host[i] = int32(i*i - 500)
	}
	b := NewArrayBuffer[int32](a, false)
	require.NoError(t, b.Allocate(host, 0))
	assert.Equal(t, int64(16+4000), b.Size())
	assert.Equal(t, int64(4000), b.PayloadSize())
	assert.Equal(t, KindInt, b.Kind())
	assert.False(t, b.IsValid())

	// The payload is aligned, the header precedes it
	assert.Equal(t, int64(8240), b.ToRelativeAddress())
	assert.Equal(t, int64(0), (b.ToRelativeAddress()+b.HeaderSize())%64)
	assert.Equal(t, a.BasePointer()+8240, b.ToAbsoluteAddress())

	require.NoError(t, b.Write(host))
	assert.True(t, b.IsValid())
	require.NoError(t, b.ValidateHeader())

	got := make([]int32, len(host))
	require.NoError(t, b.Read(got))
	assert.Equal(t, host, got)

	header := readRaw(t, a, b.ToRelativeAddress(), 16)
	assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(header[8:]))
	assert.Equal(t, make([]byte, 8), header[:8])

	b.Invalidate()
	assert.False(t, b.IsValid())
}

func TestArrayBufferInvalidBatch(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	b := NewArrayBuffer[int32](a, false)

	err := b.Allocate(make([]int32, 10), -5)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidBatchSize)
	assert.False(t, b.Placement().IsAllocated())
	assert.Equal(t, int64(0), b.ToAbsoluteAddress())

	t.Run("EmptyWithoutHeader", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ArrayHeaderSize = 0
		cfg.ArrayLengthOffset = 0
		c := NewArrayBuffer[float64](newTestAllocator(t, cfg), false)
		assert.ErrorIs(t, c.Allocate([]float64{}, 0), errors.ErrInvalidBatchSize)
	})

	t.Run("WrongType", func(t *testing.T) {
		assert.ErrorIs(t, b.Allocate([]float64{1}, 0), errors.ErrInvalidArgument)
	})

	t.Run("NotAllocated", func(t *testing.T) {
		assert.ErrorIs(t, b.Write(make([]int32, 10)), errors.ErrNotAllocated)
	})
}

func TestArrayBufferSizes(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())

	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{"Byte", make([]int8, 3), 16 + 3},
		{"Short", make([]int16, 3), 16 + 6},
		{"Char", make([]uint16, 3), 16 + 6},
		{"Int", make([]int32, 3), 16 + 12},
		{"Long", make([]int64, 3), 16 + 24},
		{"Float", make([]float32, 3), 16 + 12},
		{"Double", make([]float64, 3), 16 + 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWrapper(a, tt.value, false)
			require.NoError(t, err)
			require.NoError(t, w.Allocate(tt.value, 0))
			assert.Equal(t, tt.want, w.Size())
		})
	}

	t.Run("Batch", func(t *testing.T) {
		b := NewArrayBuffer[float64](a, false)
		require.NoError(t, b.Allocate(make([]float64, 100), 64))
		assert.Equal(t, int64(16+64), b.Size())
	})
}

func TestArrayBufferReallocate(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	b := NewArrayBuffer[float32](a, false)

	require.NoError(t, b.Allocate(make([]float32, 10), 0))
	offset := b.ToRelativeAddress()
	heap := a.HeapPosition()

	// Same or smaller keeps the placement
	require.NoError(t, b.Allocate(make([]float32, 10), 0))
	require.NoError(t, b.Allocate(make([]float32, 4), 0))
	assert.Equal(t, offset, b.ToRelativeAddress())
	assert.Equal(t, heap, a.HeapPosition())
	assert.Equal(t, int64(16+16), b.Size())

	// The last allocation grows in place
	require.NoError(t, b.Allocate(make([]float32, 20), 0))
	assert.Equal(t, offset, b.ToRelativeAddress())
	assert.Equal(t, int64(16+80), b.Size())

	other := NewArrayBuffer[float32](a, false)
	require.NoError(t, other.Allocate(make([]float32, 1), 0))

	err := b.Allocate(make([]float32, 40), 0)
	assert.ErrorIs(t, err, errors.ErrOutOfMemory)
	assert.Equal(t, offset, b.ToRelativeAddress())
}

func TestArrayBufferEnqueue(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())

	host := make([]int32, 200)
	for i := range host {
		host[i] = int32(i)
	}
	b := NewArrayBuffer[int32](a, false)
	require.NoError(t, b.Allocate(host, 400))
	assert.Equal(t, int64(416), b.Size())

	// Elements 100..199 fill the batch
	events, err := b.EnqueueWrite(host, 0, 400, nil, true)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NoError(t, a.Device().Wait(events...))
	require.NoError(t, b.ValidateHeader())

	got := make([]int32, 100)
	ev, err := b.EnqueueRead(got, 0, events, true)
	require.NoError(t, err)
	require.NotEqual(t, device.NoEvent, ev)
	require.NoError(t, a.Device().Wait(ev))
	assert.Equal(t, host[100:], got)

	t.Run("NoDeps", func(t *testing.T) {
		events, err := b.EnqueueWrite(host, 0, 0, nil, false)
		require.NoError(t, err)
		assert.Nil(t, events)

		ev, err := b.EnqueueRead(got, 0, nil, false)
		require.NoError(t, err)
		assert.Equal(t, device.NoEvent, ev)
	})

	t.Run("SubRegion", func(t *testing.T) {
		require.NoError(t, b.SetSubRegionSize(40))
		t.Cleanup(func() { _ = b.SetSubRegionSize(0) })

		part := make([]int32, 100)
		require.NoError(t, b.Read(part))
		assert.Equal(t, host[:10], part[:10])
		assert.Equal(t, make([]int32, 90), part[10:])

		assert.ErrorIs(t, b.SetSubRegionSize(6), errors.ErrInvalidArgument)
	})

	t.Run("BadHostOffset", func(t *testing.T) {
		_, err := b.EnqueueWrite(host, 0, 3, nil, true)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
		_, err = b.EnqueueWrite(host, -4, 0, nil, true)
		assert.ErrorIs(t, err, errors.ErrInvalidBatchSize)
	})

	t.Run("FailedDependency", func(t *testing.T) {
		bad := a.Device().EnqueueReadBuffer(testRegion, make([]byte, 8), nil)
		ev, err := b.EnqueueRead(got, 0, []device.Event{bad}, true)
		require.NoError(t, err)
		assert.Error(t, a.Device().Wait(ev))
	})
}

func TestArrayBufferFinal(t *testing.T) {
	a, rec := newRecordingAllocator(t, DefaultConfig())
	host := []float32{1, 2, 3, 4}

	b := NewArrayBuffer[float32](a, true)
	require.NoError(t, b.Allocate(host, 0))
	header, payload := b.ToRelativeAddress(), b.ToRelativeAddress()+16

	require.NoError(t, b.Write(host))
	assert.Equal(t, 1, rec.wroteAt(header))
	assert.Equal(t, 1, rec.wroteAt(payload))

	// Once valid only the payload moves
	host[0] = 10
	require.NoError(t, b.Write(host))
	assert.Equal(t, 1, rec.wroteAt(header))
	assert.Equal(t, 2, rec.wroteAt(payload))

	got := make([]float32, 4)
	require.NoError(t, b.Read(got))
	assert.Equal(t, host, got)

	// Invalidation forces the header again
	b.Invalidate()
	require.NoError(t, b.Write(host))
	assert.Equal(t, 2, rec.wroteAt(header))

	t.Run("NotFinal", func(t *testing.T) {
		rec.reset()
		c := NewArrayBuffer[float32](a, false)
		require.NoError(t, c.Allocate(host, 0))
		require.NoError(t, c.Write(host))
		require.NoError(t, c.Write(host))
		assert.Equal(t, 2, rec.wroteAt(c.ToRelativeAddress()))
	})
}

func TestArrayBufferByteOrder(t *testing.T) {
	dev := newTestDevice(t, wasmdev.Options{ByteOrder: binary.BigEndian})
	a := newAllocatorOn(t, dev, DefaultConfig(), testRegion)

	host := []float64{math.Pi, -1, 1e300}
	b := NewArrayBuffer[float64](a, false)
	require.NoError(t, b.Allocate(host, 0))
	require.NoError(t, b.Write(host))

	raw := readRaw(t, a, b.ToRelativeAddress(), 16+8)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(raw[8:]))
	assert.Equal(t, math.Float64bits(math.Pi), binary.BigEndian.Uint64(raw[16:]))

	got := make([]float64, 3)
	require.NoError(t, b.Read(got))
	assert.Equal(t, host, got)

	got = make([]float64, 3)
	ev, err := b.EnqueueRead(got, 8, nil, true)
	require.NoError(t, err)
	require.NoError(t, a.Device().Wait(ev))
	assert.Equal(t, []float64{0, math.Pi, -1}, got)
}

type celsius float64

func TestArrayBufferNamedElements(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())

	host := []celsius{-40, 0, 100}
	w, err := NewWrapper(a, host, false)
	require.NoError(t, err)
	require.IsType(t, &ArrayBuffer[float64]{}, w)

	require.NoError(t, w.Allocate(host, 0))
	require.NoError(t, w.Write(host))

	got := make([]celsius, 3)
	require.NoError(t, w.Read(got))
	assert.Equal(t, host, got)
}
