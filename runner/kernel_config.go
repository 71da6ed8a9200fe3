package runner

import (
	"fmt"

	"github.com/notargets/kernelheap/runner/builder"
)

// KernelConfig represents the configuration for a specific kernel execution
// It references bindings and specifies which memory operations to perform
type KernelConfig struct {
	Name       string
	Parameters []ParameterUsage
}

// CopyConfig represents a standalone memory copy operation configuration
// Used for manual memory operations without kernel execution
type CopyConfig struct {
	Parameters []ParameterUsage
}

// GetParameter finds a parameter usage by name
func (kc *KernelConfig) GetParameter(name string) *ParameterUsage {
	for i := range kc.Parameters {
		if kc.Parameters[i].Binding.Name == name {
			return &kc.Parameters[i]
		}
	}
	return nil
}

// HasParameter checks if a parameter is configured
func (kc *KernelConfig) HasParameter(name string) bool {
	return kc.GetParameter(name) != nil
}

// GetParameter finds a parameter usage by name in CopyConfig
func (cc *CopyConfig) GetParameter(name string) *ParameterUsage {
	for i := range cc.Parameters {
		if cc.Parameters[i].Binding.Name == name {
			return &cc.Parameters[i]
		}
	}
	return nil
}

// ConfigureKernel creates a kernel-specific parameter configuration
func (kr *Runner) ConfigureKernel(name string, params ...*ParamConfig) (*KernelConfig, error) {
	if !kr.IsAllocated {
		return nil, fmt.Errorf("device memory not allocated - call AllocateDevice first")
	}

	usages, err := usagesFromParams(params)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}

	config := &KernelConfig{
		Name:       name,
		Parameters: usages,
	}
	kr.KernelConfigs[name] = config

	return config, nil
}

// ConfigureCopy creates a configuration for standalone memory operations
func (kr *Runner) ConfigureCopy(params ...*ParamConfig) (*CopyConfig, error) {
	if !kr.IsAllocated {
		return nil, fmt.Errorf("device memory not allocated - call AllocateDevice first")
	}

	usages, err := usagesFromParams(params)
	if err != nil {
		return nil, err
	}
	return &CopyConfig{Parameters: usages}, nil
}

func usagesFromParams(params []*ParamConfig) ([]ParameterUsage, error) {
	usages := make([]ParameterUsage, 0, len(params))
	seen := make(map[string]bool, len(params))
	for _, param := range params {
		if param == nil {
			continue
		}

		// Ensure the binding exists
		if param.binding == nil {
			return nil, fmt.Errorf("parameter %s has no binding", param.name)
		}
		if seen[param.name] {
			return nil, fmt.Errorf("parameter %s configured twice", param.name)
		}
		seen[param.name] = true

		if param.actions != NoAction && (param.binding.IsScalar || param.binding.IsTemp) {
			return nil, fmt.Errorf("parameter %s cannot have copy operations", param.name)
		}

		usages = append(usages, ParameterUsage{
			Binding: param.binding,
			Actions: param.actions,
		})
	}
	return usages, nil
}

// ExecuteCopy executes a copy configuration
func (kr *Runner) ExecuteCopy(config *CopyConfig) error {
	if config == nil {
		return fmt.Errorf("copy configuration is nil")
	}

	return kr.executeCopyActions(config.Parameters)
}

// defaultKernelConfig uses every binding in definition order with the copy
// actions declared on its parameter builder
func (kr *Runner) defaultKernelConfig(name string) *KernelConfig {
	config := &KernelConfig{Name: name}
	for _, binding := range kr.OrderedBindings() {
		actions := NoAction
		if binding.ParamSpec.NeedsCopyTo() {
			actions |= CopyTo
		}
		if binding.ParamSpec.NeedsCopyBack() {
			actions |= CopyBack
		}
		config.Parameters = append(config.Parameters, ParameterUsage{
			Binding: binding,
			Actions: actions,
		})
	}
	return config
}

// Param creates a parameter configuration for a named binding
func (kr *Runner) Param(name string) *ParamConfig {
	// A missing binding surfaces as an error when the config is used
	return &ParamConfig{
		runner:  kr,
		name:    name,
		binding: kr.GetBinding(name),
		actions: NoAction,
	}
}

// ParamConfig is a lightweight builder for configuring parameter actions
// Used during kernel/copy configuration phase
type ParamConfig struct {
	runner  *Runner
	name    string
	binding *DeviceBinding
	actions ActionFlags
}

// CopyTo sets the parameter to copy from host to device
func (pc *ParamConfig) CopyTo() *ParamConfig {
	pc.actions |= CopyTo
	return pc
}

// CopyBack sets the parameter to copy from device to host
func (pc *ParamConfig) CopyBack() *ParamConfig {
	pc.actions |= CopyBack
	return pc
}

// Copy sets the parameter for bidirectional copy
func (pc *ParamConfig) Copy() *ParamConfig {
	pc.actions |= Copy
	return pc
}

// NoCopy explicitly disables all copy operations for this parameter
func (pc *ParamConfig) NoCopy() *ParamConfig {
	pc.actions = NoAction
	return pc
}

// GetSignature generates the kernel declaration for a configuration
func (kc *KernelConfig) GetSignature() string {
	specs := make([]builder.ParamSpec, len(kc.Parameters))
	for i, p := range kc.Parameters {
		specs[i] = *p.Binding.ParamSpec
	}
	return builder.GenerateKernelDeclaration(kc.Name, specs)
}
