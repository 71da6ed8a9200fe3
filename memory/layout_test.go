package memory

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/kernelheap/errors"
)

func TestLayoutOf(t *testing.T) {
	l, err := LayoutOf(reflect.TypeFor[cell](), 0)
	require.NoError(t, err)

	want := []struct {
		path   string
		offset int64
		width  int64
		class  FieldClass
	}{
		{"ID", 0, 8, FieldPrimitive},
		{"Mass", 8, 8, FieldPrimitive},
		{"Pos", 16, 12, FieldPrimitive},
		{"Flags", 28, 1, FieldPrimitive},
		{"Inner.A", 30, 2, FieldPrimitive},
		{"Inner.B", 32, 2, FieldPrimitive},
		{"Left", 40, 8, FieldObject},
		{"hidden", 48, 4, FieldPrimitive},
	}
	require.Len(t, l.Fields, len(want))
	for i, w := range want {
		f := l.Fields[i]
		assert.Equal(t, w.path, strings.Join(f.Path, "."), "field %d", i)
		assert.Equal(t, w.offset, f.Offset, w.path)
		assert.Equal(t, w.width, f.Width, w.path)
		assert.Equal(t, w.class, f.Class, w.path)
	}
	assert.Equal(t, 3, l.Fields[2].Count)
	assert.False(t, l.Fields[7].Exported)
	assert.Equal(t, int64(52), l.Size)
	assert.False(t, l.Final)
	assert.False(t, l.IsVectorCarrier())

	t.Run("Cached", func(t *testing.T) {
		again, err := LayoutOf(reflect.TypeFor[*cell](), 0)
		require.NoError(t, err)
		assert.Same(t, l, again)

		withHeader, err := LayoutOf(reflect.TypeFor[cell](), 16)
		require.NoError(t, err)
		assert.NotSame(t, l, withHeader)
		assert.Equal(t, int64(16), withHeader.Fields[0].Offset)
		assert.Equal(t, int64(68), withHeader.Size)
	})

	t.Run("NotStruct", func(t *testing.T) {
		_, err := LayoutOf(reflect.TypeFor[[]int](), 0)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	})
}

func TestLayoutTags(t *testing.T) {
	type tagged struct {
		A int32 `device:"offset=16"`
		B int32
		C int64 `device:"-"`
		_ int64
	}
	l, err := LayoutOf(reflect.TypeFor[tagged](), 0)
	require.NoError(t, err)
	require.Len(t, l.Fields, 2)
	assert.Equal(t, int64(16), l.Fields[0].Offset)
	assert.Equal(t, int64(20), l.Fields[1].Offset)
	assert.Equal(t, int64(24), l.Size)

	t.Run("Empty", func(t *testing.T) {
		l, err := LayoutOf(reflect.TypeFor[struct{}](), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(8), l.Size)
		assert.True(t, l.Final)
	})

	t.Run("References", func(t *testing.T) {
		type refs struct {
			Flag  bool
			Vec   *mat.VecDense
			Grid  [][]float64
			Trace *series
			Next  *particle
		}
		l, err := LayoutOf(reflect.TypeFor[refs](), 0)
		require.NoError(t, err)
		classes := make([]FieldClass, len(l.Fields))
		for i, f := range l.Fields {
			classes[i] = f.Class
		}
		assert.Equal(t, []FieldClass{FieldPrimitive, FieldVector, FieldArray, FieldVector, FieldObject}, classes)
		assert.Equal(t, int64(8), l.Fields[1].Offset)
		assert.Equal(t, int64(40), l.Size)
	})

	t.Run("Carrier", func(t *testing.T) {
		l, err := LayoutOf(reflect.TypeFor[series](), 0)
		require.NoError(t, err)
		assert.True(t, l.IsVectorCarrier())
		assert.Equal(t, 0, l.PayloadIndex)
	})

	t.Run("Errors", func(t *testing.T) {
		type badOption struct {
			A int32 `device:"volatile"`
		}
		type badOffset struct {
			A int32 `device:"offset=x"`
		}
		type twoPayloads struct {
			A []float32 `device:"payload"`
			B []float32 `device:"payload"`
		}
		type scalarPayload struct {
			A int32 `device:"payload"`
		}
		tests := []struct {
			name string
			t    reflect.Type
			want error
		}{
			{"Option", reflect.TypeFor[badOption](), errors.ErrInvalidArgument},
			{"Offset", reflect.TypeFor[badOffset](), errors.ErrInvalidArgument},
			{"TwoPayloads", reflect.TypeFor[twoPayloads](), errors.ErrInvalidArgument},
			{"ScalarPayload", reflect.TypeFor[scalarPayload](), errors.ErrInvalidFieldType},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := LayoutOf(tt.t, 0)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestKinds(t *testing.T) {
	assert.Equal(t, KindChar, ElementKindOf[uint16]())
	assert.Equal(t, KindLong, KindOf(reflect.Int))
	assert.Equal(t, KindInvalid, KindOf(reflect.String))
	assert.Equal(t, int64(2), KindShort.Width())
	assert.Equal(t, "double", KindDouble.String())
	assert.Equal(t, "invalid", KindInvalid.String())
	assert.Equal(t, "vector", FieldVector.String())
}
