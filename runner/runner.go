package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/memory"
)

// Config sizes the execution context a Runner owns
type Config struct {
	Memory      memory.Config
	RegionBytes int64
}

// DefaultConfig returns the default layout over a 64 MiB region
func DefaultConfig() Config {
	return Config{
		Memory:      memory.DefaultConfig(),
		RegionBytes: 64 << 20,
	}
}

// Launcher starts a kernel whose call frame has already been written to the
// device. The returned event completes when the kernel does.
type Launcher interface {
	Launch(ctx context.Context, name string, frame *memory.CallFrame, waitEvents []device.Event) (device.Event, error)
}

// LauncherFunc adapts a function to the Launcher interface
type LauncherFunc func(ctx context.Context, name string, frame *memory.CallFrame, waitEvents []device.Event) (device.Event, error)

func (f LauncherFunc) Launch(ctx context.Context, name string, frame *memory.CallFrame, waitEvents []device.Event) (device.Event, error) {
	return f(ctx, name, frame, waitEvents)
}

// Runner binds host values to one device heap and drives kernel launches
// through it
type Runner struct {
	Device        device.Device
	Allocator     *memory.Allocator
	Bindings      map[string]*DeviceBinding
	KernelConfigs map[string]*KernelConfig
	IsAllocated   bool

	bindingOrder []string
	frames       map[string]*memory.CallFrame
	log          *zap.Logger
}

// NewRunner creates a Runner and requests the device region
func NewRunner(dev device.Device, cfg Config) (*Runner, error) {
	alloc, err := memory.NewAllocator(dev, cfg.Memory)
	if err != nil {
		return nil, err
	}
	if err := alloc.AllocateRegion(cfg.RegionBytes); err != nil {
		return nil, fmt.Errorf("failed to allocate device region: %w", err)
	}

	return &Runner{
		Device:        dev,
		Allocator:     alloc,
		Bindings:      make(map[string]*DeviceBinding),
		KernelConfigs: make(map[string]*KernelConfig),
		frames:        make(map[string]*memory.CallFrame),
		log:           memory.Logger().Named("runner"),
	}, nil
}

// Reset abandons every device placement. Bindings stay defined so
// AllocateDevice can place them again; device contents are not cleared.
func (kr *Runner) Reset() {
	kr.Allocator.Reset()
	for _, binding := range kr.Bindings {
		binding.Wrapper = nil
		binding.temp = nil
	}
	kr.frames = make(map[string]*memory.CallFrame)
	kr.IsAllocated = false
}

// Free drops all bindings and kernel configurations. The device itself is
// owned by the caller.
func (kr *Runner) Free() {
	kr.Reset()
	kr.Bindings = make(map[string]*DeviceBinding)
	kr.KernelConfigs = make(map[string]*KernelConfig)
	kr.bindingOrder = nil
}

// GetFrame returns the call frame reserved for a kernel, or nil before the
// kernel first runs
func (kr *Runner) GetFrame(kernelName string) *memory.CallFrame {
	return kr.frames[kernelName]
}

// frameFor returns the kernel's call frame, reserving it on first use. The
// call stack is bump allocated, so a frame is reused across launches.
func (kr *Runner) frameFor(kernelName string, maxArgs int) (*memory.CallFrame, error) {
	if frame, ok := kr.frames[kernelName]; ok && frame.MaxArgs() >= maxArgs {
		frame.Reset()
		return frame, nil
	}
	frame, err := kr.Allocator.CreateCallFrame(maxArgs)
	if err != nil {
		return nil, err
	}
	kr.frames[kernelName] = frame
	return frame, nil
}
