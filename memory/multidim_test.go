package memory

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kernelheap/errors"
)

func TestMultiDimArrayBuffer(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	host := [][]float32{{1, 2}, {3, 4, 5}, {6}}

	w, err := NewWrapper(a, host, false)
	require.NoError(t, err)
	m, ok := w.(*MultiDimArrayBuffer)
	require.True(t, ok)

	assert.ErrorIs(t, m.Write(host), errors.ErrNotAllocated)

	require.NoError(t, m.Allocate(host, 0))
	require.Len(t, m.Inner(), 3)
	require.Len(t, m.Addresses(), 3)
	for i, inner := range m.Inner() {
		assert.Equal(t, inner.ToAbsoluteAddress(), m.Addresses()[i])
		assert.Equal(t, int64(16+4*len(host[i])), inner.Size())
	}
	// The table follows the inner buffers
	assert.Greater(t, m.ToRelativeAddress(), m.Inner()[2].ToRelativeAddress())
	assert.Equal(t, int64(16+3*8), m.Size())
	assert.Equal(t, m.Table().ToAbsoluteAddress(), m.ToAbsoluteAddress())

	require.NoError(t, m.Write(host))
	assert.True(t, m.IsValid())

	raw := readRaw(t, a, m.ToRelativeAddress()+16, 24)
	for i := range host {
		assert.Equal(t, uint64(m.Addresses()[i]), binary.LittleEndian.Uint64(raw[8*i:]))
	}

	got := [][]float32{make([]float32, 2), make([]float32, 3), make([]float32, 1)}
	require.NoError(t, m.Read(got))
	assert.Equal(t, host, got)

	m.Invalidate()
	assert.False(t, m.IsValid())
	for _, inner := range m.Inner() {
		assert.False(t, inner.IsValid())
	}

	t.Run("Enqueue", func(t *testing.T) {
		host[1][2] = 50
		events, err := m.EnqueueWrite(host, 0, 0, nil, true)
		require.NoError(t, err)
		require.Len(t, events, 1)

		got := [][]float32{make([]float32, 2), make([]float32, 3), make([]float32, 1)}
		ev, err := m.EnqueueRead(got, 0, events, true)
		require.NoError(t, err)
		require.NoError(t, a.Device().Wait(ev))
		assert.Equal(t, host, got)
	})

	t.Run("Batch", func(t *testing.T) {
		assert.ErrorIs(t, m.Allocate(host, 8), errors.ErrInvalidBatchSize)
		_, err := m.EnqueueWrite(host, 8, 0, nil, true)
		assert.ErrorIs(t, err, errors.ErrInvalidBatchSize)
	})

	t.Run("ShapeChange", func(t *testing.T) {
		assert.ErrorIs(t, m.Write(host[:2]), errors.ErrInvalidArgument)
		assert.ErrorIs(t, m.Write([]float32{1}), errors.ErrInvalidArgument)
	})

	t.Run("HeapTrace", func(t *testing.T) {
		trace := m.HeapTrace()
		assert.Contains(t, trace, "type=long[]")
		assert.Contains(t, trace, "[2] 0x")
	})
}

func TestMultiDimRelativeAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelativeAddresses = true
	a := newTestAllocator(t, cfg)

	host := [][]int64{{1}, {2, 3}}
	m := NewMultiDimArrayBuffer(a, nil, false)
	require.NoError(t, m.Allocate(host, 0))
	require.NoError(t, m.Write(host))

	raw := readRaw(t, a, m.ToRelativeAddress()+16, 16)
	for i, inner := range m.Inner() {
		assert.Equal(t, uint64(inner.ToRelativeAddress()), binary.LittleEndian.Uint64(raw[8*i:]))
	}
}

func TestMultiDimNested(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig())
	host := [][][]int16{{{1, 2}, {3}}, {{4}}}

	w, err := NewWrapper(a, host, false)
	require.NoError(t, err)
	require.NoError(t, w.Allocate(host, 0))
	require.NoError(t, w.Write(host))

	m := w.(*MultiDimArrayBuffer)
	require.IsType(t, &MultiDimArrayBuffer{}, m.Inner()[0])

	got := [][][]int16{{make([]int16, 2), make([]int16, 1)}, {make([]int16, 1)}}
	require.NoError(t, w.Read(got))
	assert.Equal(t, host, got)
}
