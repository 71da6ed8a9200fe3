package runner

import (
	"fmt"
	"reflect"

	"github.com/notargets/kernelheap/memory"
	"github.com/notargets/kernelheap/runner/builder"
)

// Call frame header slots
const (
	HeaderArgCount = iota
	HeaderBasePointer
)

// KernelArgument represents a single call frame slot with metadata
type KernelArgument struct {
	Name     string
	Type     string // C declaration, e.g. "const double* U"
	IsConst  bool
	Category string // "address" or "scalar"
	Binding  *DeviceBinding
}

// GetKernelArgumentsForConfig returns the call frame slots of a kernel in
// order: device addresses in configuration order, then scalars
func (kr *Runner) GetKernelArgumentsForConfig(config *KernelConfig) []KernelArgument {
	specs := make([]builder.ParamSpec, len(config.Parameters))
	for i, usage := range config.Parameters {
		specs[i] = *usage.Binding.ParamSpec
	}

	ordered := builder.FrameOrder(specs)
	args := make([]KernelArgument, len(ordered))
	for i := range ordered {
		spec := &ordered[i]
		category := "address"
		if spec.Direction == builder.DirectionScalar {
			category = "scalar"
		}
		args[i] = KernelArgument{
			Name:     spec.Name,
			Type:     spec.ParamDeclaration(),
			IsConst:  spec.IsConst(),
			Category: category,
			Binding:  kr.GetBinding(spec.Name),
		}
	}
	return args
}

// buildCallFrame fills the kernel's call frame. Unbound scalars take the
// next value from scalarValues.
func (kr *Runner) buildCallFrame(config *KernelConfig, scalarValues []interface{}) (*memory.CallFrame, error) {
	kernelArgs := kr.GetKernelArgumentsForConfig(config)

	frame, err := kr.frameFor(config.Name, len(kernelArgs))
	if err != nil {
		return nil, err
	}

	scalarIdx := 0
	for _, karg := range kernelArgs {
		binding := karg.Binding
		switch karg.Category {
		case "address":
			if binding.Wrapper == nil {
				return nil, fmt.Errorf("binding %s has no device allocation", karg.Name)
			}
			if err := frame.PushAddress(kr.addressOf(binding.Wrapper)); err != nil {
				return nil, fmt.Errorf("argument %s: %w", karg.Name, err)
			}

		case "scalar":
			value := binding.HostBinding
			if value == nil {
				if scalarIdx >= len(scalarValues) {
					return nil, fmt.Errorf("scalar %s not provided", karg.Name)
				}
				value = scalarValues[scalarIdx]
				scalarIdx++
			}
			typed, err := convertScalar(value, binding.DataType)
			if err != nil {
				return nil, fmt.Errorf("scalar %s: %w", karg.Name, err)
			}
			if err := frame.Push(typed); err != nil {
				return nil, fmt.Errorf("argument %s: %w", karg.Name, err)
			}
		}
	}

	if scalarIdx < len(scalarValues) {
		return nil, fmt.Errorf("kernel %s takes %d scalar values, got %d", config.Name, scalarIdx, len(scalarValues))
	}

	if err := kr.setFrameHeader(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (kr *Runner) setFrameHeader(frame *memory.CallFrame) error {
	if frame.ReservedSlots() > HeaderArgCount {
		if err := frame.SetHeader(HeaderArgCount, int64(frame.NumArgs())); err != nil {
			return err
		}
	}
	if frame.ReservedSlots() > HeaderBasePointer {
		if err := frame.SetHeader(HeaderBasePointer, kr.Allocator.BasePointer()); err != nil {
			return err
		}
	}
	return nil
}

// convertScalar converts a numeric host value to the parameter's device type
func convertScalar(value interface{}, dt builder.DataType) (interface{}, error) {
	v := reflect.ValueOf(value)
	var f float64
	var i int64
	switch {
	case v.CanInt():
		i = v.Int()
		f = float64(i)
	case v.CanUint():
		i = int64(v.Uint())
		f = float64(i)
	case v.CanFloat():
		f = v.Float()
		i = int64(f)
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", value)
	}

	switch dt {
	case builder.Float32:
		return float32(f), nil
	case builder.Float64:
		return f, nil
	case builder.INT32:
		return int32(i), nil
	case builder.INT64:
		return i, nil
	default:
		return nil, fmt.Errorf("unsupported scalar data type %v", dt)
	}
}
