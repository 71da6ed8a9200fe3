package builder

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/kernelheap/memory"
)

type probe struct {
	Count int32
	Scale float64
}

func TestParamBuilder_Inference(t *testing.T) {
	tests := []struct {
		name     string
		param    *ParamBuilder
		dataType DataType
		size     int64
		object   bool
		nested   bool
	}{
		{"Float64Slice", Input("U").Bind(make([]float64, 10)), Float64, 10, false, false},
		{"Int32Slice", Output("idx").Bind(make([]int32, 3)), INT32, 3, false, false},
		{"Nested", InOut("parts").Bind([][]float32{{1, 2}, {3}}), Float32, 3, false, true},
		{"Dense", Input("M").Bind(mat.NewDense(2, 3, nil)), Float64, 6, false, false},
		{"VecDense", Input("v").Bind(mat.NewVecDense(4, nil)), Float64, 4, false, false},
		{"Object", Input("P").Bind(&probe{}), 0, 1, true, false},
		{"ScalarInt", Scalar("n").Bind(7), INT64, 1, false, false},
		{"ScalarFloat32", Scalar("dt").Bind(float32(0.5)), Float32, 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := tt.param.Spec
			assert.Equal(t, tt.dataType, spec.DataType)
			assert.Equal(t, tt.size, spec.Size)
			assert.Equal(t, tt.object, spec.IsObject)
			assert.Equal(t, tt.nested, spec.IsNested)
			assert.NoError(t, spec.Validate())
		})
	}
}

func TestParamBuilder_Actions(t *testing.T) {
	p := InOut("Y").Bind(make([]float64, 4)).Copy().Batch(16).Final()
	assert.True(t, p.Spec.NeedsCopyTo())
	assert.True(t, p.Spec.NeedsCopyBack())
	assert.Equal(t, int64(16), p.Spec.BatchSize)
	assert.True(t, p.Spec.IsFinal)
	assert.False(t, p.Spec.IsConst())

	p.NoCopy()
	assert.False(t, p.Spec.NeedsCopyTo())
	assert.False(t, p.Spec.NeedsCopyBack())

	in := Input("X").CopyBack()
	assert.True(t, in.Spec.IsConst())
	// No host binding, nothing to copy
	assert.False(t, in.Spec.NeedsCopyBack())
}

func TestParamSpec_Validate(t *testing.T) {
	tests := []struct {
		name  string
		param *ParamBuilder
	}{
		{"EmptyName", Input("").Bind(make([]float64, 1))},
		{"NoBinding", Input("U")},
		{"UnsupportedElement", Input("S").Bind([]string{"a"})},
		{"NegativeBatch", Input("U").Bind(make([]float64, 1)).Batch(-8)},
		{"ScalarUntyped", Scalar("dt")},
		{"ScalarUnsupported", Scalar("s").Bind("fast")},
		{"ScalarCopy", Scalar("dt").Bind(1.0).CopyTo()},
		{"TempBinding", Temp("tmp").Bind(make([]float64, 2))},
		{"TempCopy", Temp("tmp").Type(Float64).Size(2).Copy()},
		{"TempNoSize", Temp("tmp").Type(Float64)},
		{"TempNoType", Temp("tmp").Size(8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.param.Spec.Validate())
		})
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Temp("tmp").Type(Float32).Size(16).Spec.Validate())
		assert.NoError(t, Scalar("n").Type(INT32).Spec.Validate())
	})
}

func TestDataType(t *testing.T) {
	assert.Equal(t, int64(4), Float32.Size())
	assert.Equal(t, int64(8), INT64.Size())
	assert.Equal(t, memory.KindInt, INT32.Kind())
	assert.Equal(t, memory.KindInvalid, DataType(0).Kind())
	assert.Equal(t, reflect.TypeFor[float64](), Float64.GoType())
	assert.Nil(t, DataType(0).GoType())
	assert.Equal(t, "long", INT64.String())
	assert.Equal(t, INT64, DataTypeOf(reflect.Int))
	assert.Equal(t, DataType(0), DataTypeOf(reflect.Uint8))
}

func TestGenerateKernelDeclaration(t *testing.T) {
	params := []ParamSpec{
		Scalar("alpha").Bind(2.0).Spec,
		Input("X").Bind(make([]float64, 4)).Spec,
		InOut("Y").Bind(make([]float64, 4)).Spec,
		Scalar("n").Type(INT32).Spec,
		Input("P").Bind(&probe{}).Spec,
		Output("parts").Bind([][]int64{{1}}).Spec,
	}

	ordered := FrameOrder(params)
	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"X", "Y", "P", "parts", "alpha", "n"}, names)

	want := "@kernel void axpy(\n" +
		"\tconst double* X,\n" +
		"\tdouble* Y,\n" +
		"\tconst void* P,\n" +
		"\tlong** parts,\n" +
		"\tdouble alpha,\n" +
		"\tint n\n" +
		")"
	require.Equal(t, want, GenerateKernelDeclaration("axpy", params))
}
