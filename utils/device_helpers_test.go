package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWasmDevice(t *testing.T) {
	dev := CreateWasmDevice()
	defer dev.Free()

	assert.Equal(t, "wasm", dev.Name())
	_, err := dev.AllocateRegion(4096)
	require.NoError(t, err)
}

func TestCreateTestDevice(t *testing.T) {
	dev := CreateTestDevice()
	defer dev.Free()

	require.NotNil(t, dev)
	_, err := dev.AllocateRegion(4096)
	require.NoError(t, err)

	src := []byte{1, 2, 3, 4}
	require.NoError(t, dev.WriteBuffer(128, src, nil))
	dst := make([]byte, len(src))
	require.NoError(t, dev.ReadBuffer(128, dst, nil))
	assert.Equal(t, src, dst)
}
