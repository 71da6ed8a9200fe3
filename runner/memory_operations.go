package runner

import (
	"fmt"

	"github.com/notargets/kernelheap/device"
)

// enqueueCopyActions schedules the transfers of every usage after
// waitEvents and returns the events the transfers complete with
func (kr *Runner) enqueueCopyActions(actions []ParameterUsage, waitEvents []device.Event) ([]device.Event, error) {
	var events []device.Event
	for _, param := range actions {
		// Skip if no actions needed
		if param.Actions == NoAction {
			continue
		}

		binding := param.Binding
		if binding.IsScalar || binding.IsTemp {
			continue
		}
		if binding.Wrapper == nil {
			return nil, fmt.Errorf("binding %s has no device allocation", binding.Name)
		}

		// Perform host→device copy if requested
		if param.HasAction(CopyTo) {
			evs, err := binding.Wrapper.EnqueueWrite(binding.HostBinding, binding.BatchSize, 0, waitEvents, true)
			if err != nil {
				return nil, fmt.Errorf("failed to copy %s to device: %w", binding.Name, err)
			}
			events = append(events, evs...)
		}

		// Perform device→host copy if requested
		if param.HasAction(CopyBack) {
			ev, err := binding.Wrapper.EnqueueRead(binding.HostBinding, 0, waitEvents, true)
			if err != nil {
				return nil, fmt.Errorf("failed to copy %s from device: %w", binding.Name, err)
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// executeCopyActions is the core copy engine used by ALL copy operations
func (kr *Runner) executeCopyActions(actions []ParameterUsage) error {
	events, err := kr.enqueueCopyActions(actions, nil)
	if err != nil {
		return err
	}
	return kr.Device.Wait(events...)
}

// Simple copy methods for single parameters

// CopyToDevice copies a single parameter from host to device
func (kr *Runner) CopyToDevice(name string) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("binding %s not found", name)
	}

	return kr.executeCopyActions([]ParameterUsage{
		{Binding: binding, Actions: CopyTo},
	})
}

// CopyFromDevice copies a single parameter from device to host
func (kr *Runner) CopyFromDevice(name string) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("binding %s not found", name)
	}

	return kr.executeCopyActions([]ParameterUsage{
		{Binding: binding, Actions: CopyBack},
	})
}

// Invalidate marks the device copy of a binding stale, so the next copy
// rewrites it even when it is final
func (kr *Runner) Invalidate(name string) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("binding %s not found", name)
	}
	if binding.Wrapper != nil {
		binding.Wrapper.Invalidate()
	}
	return nil
}
