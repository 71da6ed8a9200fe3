package runner

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/notargets/kernelheap/memory"
	"github.com/notargets/kernelheap/runner/builder"
)

// ActionFlags represents the memory operations to perform for a parameter
type ActionFlags int

const (
	// No action
	NoAction ActionFlags = 0
	// Copy from host to device before kernel execution
	CopyTo ActionFlags = 1 << iota
	// Copy from device to host after kernel execution
	CopyBack
	// Bidirectional copy (CopyTo | CopyBack)
	Copy = CopyTo | CopyBack
)

// DeviceBinding represents a host↔device data binding
type DeviceBinding struct {
	Name string

	// Host data reference: []T, [][]T, *mat.Dense, *mat.VecDense, a struct
	// pointer, or a scalar
	HostBinding interface{}

	DataType    builder.DataType
	Size        int64 // Total number of elements
	ElementSize int64

	IsScalar bool
	IsTemp   bool
	IsObject bool
	IsOutput bool // Whether parameter can be written to in kernel
	IsFinal  bool

	BatchSize int64

	// Wrapper holds the heap placement once AllocateDevice has run
	Wrapper memory.Wrapper

	ParamSpec *builder.ParamSpec

	// Device-only backing slice of a temp binding
	temp interface{}
}

// value returns the host value the wrapper transfers
func (b *DeviceBinding) value() interface{} {
	if b.IsTemp {
		return b.temp
	}
	return b.HostBinding
}

// ParameterUsage represents how a binding is used in a specific kernel or copy operation
type ParameterUsage struct {
	Binding *DeviceBinding
	Actions ActionFlags
}

// HasAction checks if a specific action is set
func (pu *ParameterUsage) HasAction(action ActionFlags) bool {
	return pu.Actions&action != 0
}

// NeedsCopyTo returns true if this usage requires host→device copy
func (pu *ParameterUsage) NeedsCopyTo() bool {
	return pu.HasAction(CopyTo)
}

// NeedsCopyBack returns true if this usage requires device→host copy
func (pu *ParameterUsage) NeedsCopyBack() bool {
	return pu.HasAction(CopyBack)
}

// DefineBindings establishes host↔device data relationships
func (kr *Runner) DefineBindings(params ...*builder.ParamBuilder) error {
	if kr.IsAllocated {
		return fmt.Errorf("bindings cannot be defined after AllocateDevice has been called")
	}

	// Validate everything before storing anything
	bindings := make([]*DeviceBinding, 0, len(params))
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		spec := p.Spec
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		if kr.HasBinding(spec.Name) || seen[spec.Name] {
			return fmt.Errorf("binding %s already defined", spec.Name)
		}
		seen[spec.Name] = true
		bindings = append(bindings, kr.createBindingFromParam(&spec))
	}

	for _, binding := range bindings {
		kr.Bindings[binding.Name] = binding
		kr.bindingOrder = append(kr.bindingOrder, binding.Name)
	}
	return nil
}

// createBindingFromParam converts a ParamSpec into a DeviceBinding
func (kr *Runner) createBindingFromParam(spec *builder.ParamSpec) *DeviceBinding {
	return &DeviceBinding{
		Name:        spec.Name,
		HostBinding: spec.HostBinding,
		DataType:    spec.DataType,
		Size:        spec.Size,
		ElementSize: spec.DataType.Size(),
		IsScalar:    spec.Direction == builder.DirectionScalar,
		IsTemp:      spec.Direction == builder.DirectionTemp,
		IsObject:    spec.IsObject,
		IsOutput:    !spec.IsConst(),
		IsFinal:     spec.IsFinal,
		BatchSize:   spec.BatchSize,
		ParamSpec:   spec,
	}
}

// GetBinding returns a binding by name
func (kr *Runner) GetBinding(name string) *DeviceBinding {
	return kr.Bindings[name]
}

// HasBinding checks if a binding exists
func (kr *Runner) HasBinding(name string) bool {
	_, exists := kr.Bindings[name]
	return exists
}

// OrderedBindings returns the bindings in definition order
func (kr *Runner) OrderedBindings() []*DeviceBinding {
	out := make([]*DeviceBinding, len(kr.bindingOrder))
	for i, name := range kr.bindingOrder {
		out[i] = kr.Bindings[name]
	}
	return out
}

// AllocateDevice places every non-scalar binding on the device heap in
// definition order
func (kr *Runner) AllocateDevice() error {
	if kr.IsAllocated {
		return fmt.Errorf("device memory already allocated")
	}

	if len(kr.Bindings) == 0 {
		return fmt.Errorf("no bindings defined - call DefineBindings first")
	}

	for _, binding := range kr.OrderedBindings() {
		// Scalars travel in the call frame
		if binding.IsScalar {
			continue
		}
		if err := kr.allocateBinding(binding); err != nil {
			return fmt.Errorf("failed to allocate %s: %w", binding.Name, err)
		}
	}

	kr.IsAllocated = true
	kr.log.Info("allocated device bindings",
		zap.Int("bindings", len(kr.Bindings)),
		zap.Stringer("heap", kr.Allocator.Stats()))
	return nil
}

// allocateBinding wraps the host value and reserves its heap space
func (kr *Runner) allocateBinding(binding *DeviceBinding) error {
	if binding.IsTemp {
		t := binding.DataType.GoType()
		binding.temp = reflect.MakeSlice(reflect.SliceOf(t), int(binding.Size), int(binding.Size)).Interface()
	}

	w, err := memory.NewWrapper(kr.Allocator, binding.value(), binding.IsFinal)
	if err != nil {
		return err
	}
	if err := w.Allocate(binding.value(), binding.BatchSize); err != nil {
		return err
	}
	binding.Wrapper = w

	kr.log.Debug("allocated binding",
		zap.String("name", binding.Name),
		zap.Int64("offset", w.ToRelativeAddress()),
		zap.String("size", memory.HumanBytes(w.Size())))
	return nil
}

// Address returns the value a kernel receives for the binding under the
// allocator's addressing policy
func (kr *Runner) Address(name string) (int64, error) {
	binding := kr.GetBinding(name)
	if binding == nil {
		return 0, fmt.Errorf("binding %s not found", name)
	}
	if binding.Wrapper == nil {
		return 0, fmt.Errorf("binding %s has no device allocation", name)
	}
	return kr.addressOf(binding.Wrapper), nil
}

func (kr *Runner) addressOf(w memory.Wrapper) int64 {
	if kr.Allocator.Config().RelativeAddresses {
		return w.ToRelativeAddress()
	}
	return w.ToAbsoluteAddress()
}
