package builder

import (
	"fmt"
	"strings"
)

// FrameOrder returns the parameters in call frame order: every device
// address in definition order, then every scalar in definition order
func FrameOrder(params []ParamSpec) []ParamSpec {
	ordered := make([]ParamSpec, 0, len(params))
	for _, p := range params {
		if p.Direction != DirectionScalar {
			ordered = append(ordered, p)
		}
	}
	for _, p := range params {
		if p.Direction == DirectionScalar {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// ParamDeclaration returns the C declaration a kernel uses for the
// parameter's call frame slot
func (p *ParamSpec) ParamDeclaration() string {
	if p.Direction == DirectionScalar {
		return fmt.Sprintf("%s %s", p.DataType, p.Name)
	}

	constQualifier := ""
	if p.IsConst() {
		constQualifier = "const "
	}

	switch {
	case p.IsObject:
		return fmt.Sprintf("%svoid* %s", constQualifier, p.Name)
	case p.IsNested:
		// Address table of the inner arrays
		return fmt.Sprintf("%s%s** %s", constQualifier, p.DataType, p.Name)
	default:
		return fmt.Sprintf("%s%s* %s", constQualifier, p.DataType, p.Name)
	}
}

// GenerateKernelSignature generates the parameter list for a kernel reading
// its arguments from the call frame
func GenerateKernelSignature(params []ParamSpec) string {
	ordered := FrameOrder(params)
	decls := make([]string, len(ordered))
	for i := range ordered {
		decls[i] = ordered[i].ParamDeclaration()
	}
	return strings.Join(decls, ",\n\t")
}

// GenerateKernelDeclaration generates a complete kernel function declaration
func GenerateKernelDeclaration(kernelName string, params []ParamSpec) string {
	return fmt.Sprintf("@kernel void %s(\n\t%s\n)",
		kernelName,
		GenerateKernelSignature(params))
}
