package occadev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kernelheap/device"
)

func TestSerialDevice(t *testing.T) {
	d, err := New(`{"mode": "Serial"}`)
	if err != nil {
		t.Skipf("OCCA Serial device unavailable: %v", err)
	}
	defer d.Free()

	assert.Equal(t, "occa:Serial", d.Name())

	base, err := d.AllocateRegion(4096)
	require.NoError(t, err)
	assert.Equal(t, int64(0), base)

	src := []byte{10, 20, 30, 40}
	w := d.EnqueueWriteBuffer(64, src, nil)

	dst := make([]byte, 4)
	r := d.EnqueueReadBuffer(64, dst, []device.Event{w})
	require.NoError(t, d.Wait(r))
	assert.Equal(t, src, dst)

	err = d.WriteBuffer(4094, src, nil)
	assert.Error(t, err)
}
