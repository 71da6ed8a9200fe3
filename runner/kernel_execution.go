package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
)

// RunKernel launches a kernel. Pre-kernel copies and the call frame are
// enqueued first, the launch waits on them, and post-kernel copies wait on
// the launch. A kernel without a ConfigureKernel entry uses every binding
// with the copy actions declared on its parameter builder.
func (kr *Runner) RunKernel(ctx context.Context, kernelName string, launcher Launcher, scalarValues ...interface{}) error {
	if !kr.IsAllocated {
		return fmt.Errorf("device memory not allocated - call AllocateDevice first")
	}
	if launcher == nil {
		return fmt.Errorf("kernel %s has no launcher", kernelName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	config, exists := kr.KernelConfigs[kernelName]
	if !exists {
		config = kr.defaultKernelConfig(kernelName)
	}

	// Perform pre-kernel memory operations (CopyTo only)
	preCopyParams := filterActions(config.Parameters, CopyTo)
	preEvents, err := kr.enqueueCopyActions(preCopyParams, nil)
	if err != nil {
		return fmt.Errorf("pre-kernel copy failed: %w", err)
	}

	frame, err := kr.buildCallFrame(config, scalarValues)
	if err != nil {
		return fmt.Errorf("failed to build arguments: %w", err)
	}
	frameEvent, err := frame.EnqueueWrite(nil)
	if err != nil {
		return fmt.Errorf("failed to write call frame: %w", err)
	}
	launchDeps := append(preEvents, frameEvent)

	kr.log.Debug("launching kernel",
		zap.String("kernel", kernelName),
		zap.Int("args", frame.NumArgs()),
		zap.Int64("frame", frame.Offset()),
		zap.Int("deps", len(launchDeps)))

	launchEvent, err := launcher.Launch(ctx, kernelName, frame, launchDeps)
	if err != nil {
		return fmt.Errorf("kernel %s execution failed: %w", kernelName, err)
	}

	// Perform post-kernel memory operations (CopyBack only)
	postCopyParams := filterActions(config.Parameters, CopyBack)
	postEvents, err := kr.enqueueCopyActions(postCopyParams, []device.Event{launchEvent})
	if err != nil {
		return fmt.Errorf("post-kernel copy failed: %w", err)
	}

	if err := kr.Device.Wait(append(postEvents, launchEvent)...); err != nil {
		return fmt.Errorf("kernel %s: %w", kernelName, err)
	}
	return nil
}

// filterActions keeps the usages with action set, restricted to that action
func filterActions(params []ParameterUsage, action ActionFlags) []ParameterUsage {
	out := make([]ParameterUsage, 0, len(params))
	for _, param := range params {
		if param.HasAction(action) {
			out = append(out, ParameterUsage{
				Binding: param.Binding,
				Actions: action,
			})
		}
	}
	return out
}
