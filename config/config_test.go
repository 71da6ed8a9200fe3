package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/notargets/kernelheap/device/wasmdev"
	"github.com/notargets/kernelheap/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernelheap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, memory.DefaultConfig(), cfg.Memory())
	assert.Equal(t, BackendAuto, cfg.Device.Backend)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
heap:
  region_bytes: 1048576
  call_stack_limit: 4096
layout:
  array_header_size: 24
  array_length_offset: 16
  relative_addresses: true
device:
  backend: wasm
  max_pages: 64
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), cfg.Heap.RegionBytes)
	assert.Equal(t, BackendWasm, cfg.Device.Backend)
	assert.Equal(t, uint32(64), cfg.Device.MaxPages)

	mem := cfg.Memory()
	assert.Equal(t, int64(4096), mem.CallStackLimit)
	assert.Equal(t, int64(24), mem.ArrayHeaderSize)
	assert.Equal(t, int64(16), mem.ArrayLengthOffset)
	assert.True(t, mem.RelativeAddresses)
	// Unset keys keep their defaults
	assert.Equal(t, memory.DefaultConfig().SlotWidth, mem.SlotWidth)
	assert.Equal(t, []string{"OpenMP", "CUDA", "Serial"}, cfg.Device.Modes)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("KERNELHEAP_HEAP_REGION_BYTES", "2097152")
	t.Setenv("KERNELHEAP_DEVICE_BACKEND", "wasm")
	t.Setenv("KERNELHEAP_LAYOUT_RELATIVE_ADDRESSES", "true")

	cfg, err := Load(writeConfig(t, "heap:\n  region_bytes: 1048576\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), cfg.Heap.RegionBytes)
	assert.Equal(t, BackendWasm, cfg.Device.Backend)
	assert.True(t, cfg.Layout.RelativeAddresses)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Backend", "device:\n  backend: fpga\n"},
		{"Level", "logging:\n  level: chatty\n"},
		{"Region", "heap:\n  region_bytes: 1024\n"},
		{"Alignment", "heap:\n  alignment: 48\n"},
		{"Syntax", "heap: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	t.Run("OCCAWithoutModes", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Device.Backend = BackendOCCA
		cfg.Device.Modes = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Development = true

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	cfg.Logging.Level = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}

func TestOpenDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Backend = BackendWasm
	cfg.Heap.RegionBytes = 1 << 20

	dev, err := cfg.OpenDevice(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Free() })
	assert.IsType(t, &wasmdev.Device{}, dev)

	a, err := memory.NewAllocator(dev, cfg.Memory())
	require.NoError(t, err)
	require.NoError(t, a.AllocateRegion(cfg.Heap.RegionBytes))
	assert.Equal(t, cfg.Heap.CallStackLimit, a.HeapPosition())
}
