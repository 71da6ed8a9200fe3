package runner

import (
	"context"
	"fmt"

	"github.com/notargets/gocca"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/device/occadev"
	"github.com/notargets/kernelheap/memory"
)

// OCCAKernelSignature is the parameter list every OCCA kernel launched
// through OCCALauncher declares: the heap region and the byte offset of the
// call frame inside it
const OCCAKernelSignature = "char* heap, const long frame"

// OCCALauncher compiles and runs kernels on an OCCA-backed device
type OCCALauncher struct {
	dev     *occadev.Device
	kernels map[string]*gocca.OCCAKernel
}

// NewOCCALauncher creates a launcher for dev
func NewOCCALauncher(dev *occadev.Device) *OCCALauncher {
	return &OCCALauncher{
		dev:     dev,
		kernels: make(map[string]*gocca.OCCAKernel),
	}
}

// BuildKernel compiles and registers a kernel
func (l *OCCALauncher) BuildKernel(kernelSource, kernelName string) error {
	occa := l.dev.OCCA()

	var kernel *gocca.OCCAKernel
	var err error

	if occa.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = occa.BuildKernelFromString(kernelSource, kernelName, props)
	} else {
		kernel, err = occa.BuildKernelFromString(kernelSource, kernelName, nil)
	}

	if err != nil {
		return fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return fmt.Errorf("kernel build returned nil for %s", kernelName)
	}

	if old, exists := l.kernels[kernelName]; exists {
		old.Free()
	}
	l.kernels[kernelName] = kernel
	return nil
}

func (l *OCCALauncher) Launch(ctx context.Context, name string, frame *memory.CallFrame, waitEvents []device.Event) (device.Event, error) {
	kernel, exists := l.kernels[name]
	if !exists {
		return device.NoEvent, fmt.Errorf("kernel %s not compiled - use BuildKernel first", name)
	}
	if l.dev.Memory() == nil {
		return device.NoEvent, fmt.Errorf("device region not allocated")
	}
	if err := l.dev.Wait(waitEvents...); err != nil {
		return device.NoEvent, err
	}

	if err := kernel.RunWithArgs(l.dev.Memory(), frame.Offset()); err != nil {
		return device.NoEvent, fmt.Errorf("kernel %s execution failed: %w", name, err)
	}
	return l.dev.EnqueueBarrier(), nil
}

// Free releases the compiled kernels
func (l *OCCALauncher) Free() {
	for _, kernel := range l.kernels {
		kernel.Free()
	}
	l.kernels = make(map[string]*gocca.OCCAKernel)
}
