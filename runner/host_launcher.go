package runner

import (
	"context"
	"fmt"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/memory"
)

// HostKernel is a kernel written in Go. It receives the call frame as read
// back from the device and works on the heap through the allocator.
type HostKernel func(ctx context.Context, heap *memory.Allocator, frame *memory.CallFrame) error

// HostLauncher runs HostKernels on the calling goroutine. It serves devices
// without a kernel compiler, such as the wasm backend.
type HostLauncher struct {
	heap    *memory.Allocator
	kernels map[string]HostKernel
}

// NewHostLauncher creates a launcher over the runner's heap
func NewHostLauncher(kr *Runner) *HostLauncher {
	return &HostLauncher{
		heap:    kr.Allocator,
		kernels: make(map[string]HostKernel),
	}
}

// Register adds a kernel under name
func (l *HostLauncher) Register(name string, kernel HostKernel) *HostLauncher {
	l.kernels[name] = kernel
	return l
}

func (l *HostLauncher) Launch(ctx context.Context, name string, frame *memory.CallFrame, waitEvents []device.Event) (device.Event, error) {
	kernel, exists := l.kernels[name]
	if !exists {
		return device.NoEvent, fmt.Errorf("kernel %s not registered", name)
	}

	dev := l.heap.Device()
	if err := dev.Wait(waitEvents...); err != nil {
		return device.NoEvent, err
	}

	// The kernel sees what the device holds, not the staging bytes
	if err := frame.Read(); err != nil {
		return device.NoEvent, err
	}
	SeekArgument(l.heap, frame, 0)

	if err := kernel(ctx, l.heap, frame); err != nil {
		return device.NoEvent, err
	}
	return dev.EnqueueBarrier(), nil
}

// SeekArgument moves the frame cursor to argument slot i, so the next Get
// reads that argument
func SeekArgument(heap *memory.Allocator, frame *memory.CallFrame, i int) {
	frame.SetPosition(int(int64(frame.ReservedSlots()+i) * heap.Config().SlotWidth))
}
