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

func TestByteBuffer(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	b, err := a.SubBuffer(9000, 32)
	require.NoError(t, err)

	b.PutByte(7)
	b.PutInt16(-2)
	b.PutInt32(1 << 20)
	b.PutInt64(-1 << 40)
	b.PutFloat32(1.5)
	b.PutFloat64(math.Pi)
	require.NoError(t, b.Err())
	assert.Equal(t, 27, b.Position())
	require.NoError(t, b.Write())

	fresh, err := a.SubBuffer(9000, 32)
	require.NoError(t, err)
	require.NoError(t, fresh.Read())
	assert.Equal(t, byte(7), fresh.GetByte())
	assert.Equal(t, int16(-2), fresh.GetInt16())
	assert.Equal(t, int32(1<<20), fresh.GetInt32())
	assert.Equal(t, int64(-1<<40), fresh.GetInt64())
	assert.Equal(t, float32(1.5), fresh.GetFloat32())
	assert.Equal(t, math.Pi, fresh.GetFloat64())

	assert.Equal(t, int64(9000), fresh.ToRelativeAddress())
	assert.Equal(t, a.BasePointer()+9000, fresh.ToAbsoluteAddress())

	t.Run("Overrun", func(t *testing.T) {
		b.SetPosition(30)
		b.PutInt64(1)
		require.ErrorIs(t, b.Err(), errors.ErrInvalidArgument)
		// The overrun sticks until the cursor is rewound
		assert.ErrorIs(t, b.Write(), errors.ErrInvalidArgument)
		ev, err := b.EnqueueWrite(nil)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
		assert.Equal(t, device.NoEvent, ev)
		b.Rewind()
		assert.NoError(t, b.Err())

		ev, err = b.EnqueueWrite(nil)
		require.NoError(t, err)
		assert.NoError(t, a.Device().Wait(ev))
	})

	t.Run("SubBuffer", func(t *testing.T) {
		child, err := b.SubBuffer(7, 8)
		require.NoError(t, err)
		assert.Equal(t, int64(9007), child.Offset())
		require.NoError(t, child.Read())
		assert.Equal(t, int64(-1<<40), int64(binary.LittleEndian.Uint64(child.Bytes())))

		_, err = b.SubBuffer(30, 8)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	})

	t.Run("OutsideRegion", func(t *testing.T) {
		_, err := a.SubBuffer(testRegion-4, 8)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	})
}

func TestByteBufferDeviceOrder(t *testing.T) {
	dev := newTestDevice(t, wasmdev.Options{ByteOrder: binary.BigEndian})
	a := newAllocatorOn(t, dev, DefaultConfig(), testRegion)

	b, err := a.SubBuffer(9000, 4)
	require.NoError(t, err)
	b.PutInt32(0x01020304)
	require.NoError(t, b.Write())
	assert.Equal(t, []byte{1, 2, 3, 4}, readRaw(t, a, 9000, 4))
}

func TestByteBufferDump(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	b, err := a.SubBuffer(16, 6)
	require.NoError(t, err)
	for i := byte(0); i < 6; i++ {
		b.PutByte(i + 0xa0)
	}
	assert.Equal(t, "[0x0010]: a0 a1 a2 a3\n[0x0014]: a4 a5\n", b.Dump(4))
}

func TestCallFrame(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	f, err := a.CreateCallFrame(4)
	require.NoError(t, err)
	assert.Equal(t, int64(56), f.Length())
	assert.Equal(t, 3, f.ReservedSlots())
	assert.Equal(t, 24, f.Position())

	require.NoError(t, f.SetHeader(0, 42))
	require.NoError(t, f.PushInt32(-7))
	require.NoError(t, f.PushFloat64(2.5))
	require.NoError(t, f.Push(float32(0.5)))
	require.NoError(t, f.PushAddress(a.ToAbsolute(8192)))
	assert.Equal(t, 4, f.NumArgs())

	err = f.PushInt64(1)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.ErrorIs(t, f.SetHeader(3, 1), errors.ErrInvalidArgument)
	assert.ErrorIs(t, f.Push("x"), errors.ErrInvalidFieldType)

	require.NoError(t, f.Write())
	raw := readRaw(t, a, f.Offset(), int(f.Length()))
	le := binary.LittleEndian
	assert.Equal(t, uint64(42), le.Uint64(raw[0:]))
	assert.Equal(t, int32(-7), int32(le.Uint32(raw[24:])))
	assert.Equal(t, 2.5, math.Float64frombits(le.Uint64(raw[32:])))
	assert.Equal(t, float32(0.5), math.Float32frombits(le.Uint32(raw[40:])))
	assert.Equal(t, uint64(a.BasePointer()+8192), le.Uint64(raw[48:]))

	f.Reset()
	assert.Equal(t, 0, f.NumArgs())
	assert.Equal(t, 24, f.Position())
	h, err := f.Header(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h)
	_, err = f.Header(3)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = f.Header(-1)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	// The next frame starts on the frame alignment
	g, err := a.CreateCallFrame(1)
	require.NoError(t, err)
	assert.Equal(t, int64(128), g.Offset())
}
