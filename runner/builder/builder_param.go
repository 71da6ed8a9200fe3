package builder

import (
	"fmt"
	"reflect"

	"gonum.org/v1/gonum/mat"
)

// Direction indicates parameter data flow
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInOut
	DirectionTemp
	DirectionScalar
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionInOut:
		return "inout"
	case DirectionTemp:
		return "temp"
	case DirectionScalar:
		return "scalar"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParamBuilder provides a fluent interface for building kernel parameters
type ParamBuilder struct {
	Spec ParamSpec
}

// ParamSpec holds the complete specification for a kernel parameter
type ParamSpec struct {
	Name        string
	Direction   Direction
	HostBinding interface{}

	// Type and size (inferred or explicit). Size counts elements; objects
	// have no element type.
	DataType DataType
	Size     int64
	IsObject bool
	IsNested bool

	// Data movement
	DoCopyTo   bool
	DoCopyBack bool

	// BatchSize limits each host→device transfer to this many payload
	// bytes, 0 transfers the whole value
	BatchSize int64

	// IsFinal marks the host value immutable once written
	IsFinal bool
}

func newParam(deviceName string, dir Direction) *ParamBuilder {
	return &ParamBuilder{
		Spec: ParamSpec{
			Name:      deviceName,
			Direction: dir,
		},
	}
}

// Input creates a parameter specification for a const input
func Input(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionInput)
}

// Output creates a parameter specification for a non-const output
func Output(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionOutput)
}

// InOut creates a parameter specification for a non-const input/output
func InOut(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionInOut)
}

// Scalar creates a parameter specification for a scalar value
func Scalar(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionScalar)
}

// Temp creates a parameter specification for a device-only temporary array
func Temp(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionTemp)
}

// Bind associates a host variable with this parameter
func (p *ParamBuilder) Bind(hostVar interface{}) *ParamBuilder {
	p.Spec.HostBinding = hostVar

	// Infer type and size if possible
	p.inferFromBinding()

	return p
}

// Copy sets bidirectional copy (host→device before, device→host after)
func (p *ParamBuilder) Copy() *ParamBuilder {
	p.Spec.DoCopyTo = true
	p.Spec.DoCopyBack = true
	return p
}

// CopyTo sets host→device copy before kernel execution
func (p *ParamBuilder) CopyTo() *ParamBuilder {
	p.Spec.DoCopyTo = true
	return p
}

// CopyBack sets device→host copy after kernel execution
func (p *ParamBuilder) CopyBack() *ParamBuilder {
	p.Spec.DoCopyBack = true
	return p
}

// NoCopy explicitly disables data movement
func (p *ParamBuilder) NoCopy() *ParamBuilder {
	p.Spec.DoCopyTo = false
	p.Spec.DoCopyBack = false
	return p
}

// Type sets explicit type (mainly for Temp arrays)
func (p *ParamBuilder) Type(dataType DataType) *ParamBuilder {
	p.Spec.DataType = dataType
	return p
}

// Size sets explicit size (mainly for Temp arrays)
func (p *ParamBuilder) Size(elements int) *ParamBuilder {
	p.Spec.Size = int64(elements)
	return p
}

// Batch reserves and transfers only the first bytes of the payload
func (p *ParamBuilder) Batch(bytes int64) *ParamBuilder {
	p.Spec.BatchSize = bytes
	return p
}

// Final marks the bound value immutable, so a valid device copy is not
// rewritten
func (p *ParamBuilder) Final() *ParamBuilder {
	p.Spec.IsFinal = true
	return p
}

// inferFromBinding extracts type and size information from the host binding
func (p *ParamBuilder) inferFromBinding() {
	if p.Spec.HostBinding == nil {
		return
	}

	// Handle mat.Matrix
	if m, ok := p.Spec.HostBinding.(mat.Matrix); ok {
		rows, cols := m.Dims()
		p.Spec.Size = int64(rows * cols)
		p.Spec.DataType = Float64 // gonum matrices are float64
		return
	}

	v := reflect.ValueOf(p.Spec.HostBinding)
	t := v.Type()

	switch {
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Slice:
		// Nested arrays count every inner element
		p.Spec.IsNested = true
		p.Spec.Size = 0
		for i := 0; i < v.Len(); i++ {
			p.Spec.Size += int64(v.Index(i).Len())
		}
		p.Spec.DataType = DataTypeOf(t.Elem().Elem().Kind())

	case t.Kind() == reflect.Slice:
		p.Spec.Size = int64(v.Len())
		p.Spec.DataType = DataTypeOf(t.Elem().Kind())

	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		p.Spec.IsObject = true
		p.Spec.Size = 1

	default:
		// Scalars
		p.Spec.DataType = DataTypeOf(t.Kind())
		p.Spec.Size = 1
	}
}

// Validate checks if the parameter specification is complete and valid
func (p *ParamSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}

	if p.BatchSize < 0 {
		return fmt.Errorf("parameter %s has negative batch size %d", p.Name, p.BatchSize)
	}

	// Scalars don't need size
	if p.Direction == DirectionScalar {
		if p.DataType == 0 && p.HostBinding == nil {
			return fmt.Errorf("scalar %s needs type or binding", p.Name)
		}
		if p.DataType == 0 {
			return fmt.Errorf("scalar %s has unsupported type %T", p.Name, p.HostBinding)
		}
		if p.DoCopyTo || p.DoCopyBack {
			return fmt.Errorf("scalar %s cannot have copy operations", p.Name)
		}
		return nil
	}

	// Temp arrays are sized on the device only
	if p.Direction == DirectionTemp {
		if p.HostBinding != nil {
			return fmt.Errorf("temp array %s cannot have host binding", p.Name)
		}
		if p.DoCopyTo || p.DoCopyBack {
			return fmt.Errorf("temp array %s cannot have copy operations", p.Name)
		}
		if p.Size <= 0 {
			return fmt.Errorf("temp array %s needs size", p.Name)
		}
		if p.DataType == 0 {
			return fmt.Errorf("temp array %s needs type", p.Name)
		}
		return nil
	}

	if p.HostBinding == nil {
		return fmt.Errorf("parameter %s needs a host binding", p.Name)
	}
	if !p.IsObject && p.DataType == 0 {
		return fmt.Errorf("parameter %s has unsupported element type %T", p.Name, p.HostBinding)
	}

	return nil
}

// IsConst returns whether the kernel may only read this parameter
func (p *ParamSpec) IsConst() bool {
	switch p.Direction {
	case DirectionInput, DirectionScalar:
		return true
	case DirectionOutput, DirectionInOut, DirectionTemp:
		return false
	default:
		return true
	}
}

// NeedsCopyTo returns whether this parameter needs host→device copy
func (p *ParamSpec) NeedsCopyTo() bool {
	return p.DoCopyTo && p.HostBinding != nil
}

// NeedsCopyBack returns whether this parameter needs device→host copy
func (p *ParamSpec) NeedsCopyBack() bool {
	return p.DoCopyBack && p.HostBinding != nil
}
