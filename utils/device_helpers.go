package utils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/device/occadev"
	"github.com/notargets/kernelheap/device/wasmdev"
)

// CreateTestDevice creates a Device for testing, preferring parallel
// backends and falling back to the pure-Go wasm device
func CreateTestDevice() device.Device {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	for _, props := range backends {
		dev, err := occadev.New(props)
		if err == nil {
			device.Logger().Info("created test device", zap.String("device", dev.Name()))
			return dev
		}
	}

	return CreateWasmDevice()
}

// CreateWasmDevice creates a wasm-backed Device. It needs no native
// libraries, so tests using it run everywhere.
func CreateWasmDevice() device.Device {
	dev, err := wasmdev.New(context.Background(), wasmdev.Options{})
	if err != nil {
		// Should not reach here
		panic(fmt.Sprintf("Failed to create wasm Device: %v", err))
	}
	return dev
}
