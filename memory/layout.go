package memory

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/notargets/kernelheap/errors"
)

// FieldClass is how a struct field is represented on the device
type FieldClass int

const (
	// FieldPrimitive is stored by value inside the object image
	FieldPrimitive FieldClass = iota
	// FieldArray owns an array or multi-dimensional buffer
	FieldArray
	// FieldObject owns a nested object buffer
	FieldObject
	// FieldVector owns a vector buffer
	FieldVector
)

func (c FieldClass) String() string {
	switch c {
	case FieldPrimitive:
		return "primitive"
	case FieldArray:
		return "array"
	case FieldObject:
		return "object"
	case FieldVector:
		return "vector"
	default:
		return "unknown"
	}
}

// referenceWidth is the size of a device address inside an object image
const referenceWidth = 8

// The device struct tag takes comma separated options:
//
//	device:"-"          field is not placed on the device
//	device:"final"      value never changes after the first write
//	device:"payload"    field is the payload of a vector carrier
//	device:"offset=N"   field is placed at byte N of the image
const tagName = "device"

type fieldTag struct {
	skip    bool
	final   bool
	payload bool
	offset  int64
	hasOff  bool
}

func parseTag(tag string) (fieldTag, error) {
	var ft fieldTag
	if tag == "" {
		return ft, nil
	}
	if tag == "-" {
		ft.skip = true
		return ft, nil
	}
	for _, opt := range strings.Split(tag, ",") {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "final":
			ft.final = true
		case opt == "payload":
			ft.payload = true
		case strings.HasPrefix(opt, "offset="):
			n, err := strconv.ParseInt(strings.TrimPrefix(opt, "offset="), 10, 64)
			if err != nil || n < 0 {
				return ft, errors.New(errors.OpLayout, errors.KindInvalidArgument).
					Detail("invalid offset option %q", opt).
					Build()
			}
			ft.offset = n
			ft.hasOff = true
		case opt == "":
		default:
			return ft, errors.New(errors.OpLayout, errors.KindInvalidArgument).
				Detail("unknown device tag option %q", opt).
				Build()
		}
	}
	return ft, nil
}

// FieldLayout describes one placed field of a struct type
type FieldLayout struct {
	Name   string
	Path   []string
	Index  []int
	Type   reflect.Type
	Class  FieldClass
	Offset int64
	Width  int64
	// Count is the element count of fixed-size array primitives, 0 otherwise
	Count   int
	Final   bool
	Payload bool
	// Exported is false when the field or an enclosing inline struct is
	// unexported; such fields are reserved but never transferred
	Exported bool
}

// TypeLayout is the device layout of one struct type
type TypeLayout struct {
	Type   reflect.Type
	Fields []FieldLayout
	// Size is the highest field offset plus that field's width
	Size int64
	// Final is true when every primitive field is final
	Final bool
	// PayloadIndex locates the payload field of a vector carrier, -1 otherwise
	PayloadIndex int
}

// IsVectorCarrier reports whether the type only carries a payload slice
func (l *TypeLayout) IsVectorCarrier() bool {
	return l.PayloadIndex >= 0
}

type layoutKey struct {
	goType     reflect.Type
	headerSize int64
}

var layouts sync.Map // layoutKey -> *TypeLayout

// LayoutOf returns the cached layout of struct type t for objects with a
// headerSize-byte header
func LayoutOf(t reflect.Type, headerSize int64) (*TypeLayout, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.New(errors.OpLayout, errors.KindInvalidArgument).
			GoType(t.String()).
			Detail("layout requires a struct type").
			Build()
	}

	key := layoutKey{goType: t, headerSize: headerSize}
	if cached, ok := layouts.Load(key); ok {
		return cached.(*TypeLayout), nil
	}

	l, err := computeLayout(t, headerSize)
	if err != nil {
		return nil, err
	}
	actual, _ := layouts.LoadOrStore(key, l)
	return actual.(*TypeLayout), nil
}

type layoutBuilder struct {
	cursor int64
	fields []FieldLayout
}

func computeLayout(t reflect.Type, headerSize int64) (*TypeLayout, error) {
	b := &layoutBuilder{cursor: headerSize}
	if err := b.walk(t, nil, nil, true); err != nil {
		return nil, err
	}

	sort.SliceStable(b.fields, func(i, j int) bool {
		return b.fields[i].Offset < b.fields[j].Offset
	})

	l := &TypeLayout{
		Type:         t,
		Fields:       b.fields,
		Size:         headerSize,
		Final:        true,
		PayloadIndex: -1,
	}
	for i, f := range l.Fields {
		l.Size = max(l.Size, f.Offset+f.Width)
		if f.Class == FieldPrimitive && f.Exported {
			l.Final = l.Final && f.Final
		}
		if f.Payload {
			if l.PayloadIndex >= 0 {
				return nil, errors.New(errors.OpLayout, errors.KindInvalidArgument).
					GoType(t.String()).
					Detail("more than one payload field").
					Build()
			}
			if f.Class != FieldArray || f.Type.Elem().Kind() == reflect.Slice {
				return nil, errors.New(errors.OpLayout, errors.KindInvalidFieldType).
					Path(f.Path...).
					GoType(f.Type.String()).
					Detail("payload must be a numeric slice").
					Build()
			}
			l.PayloadIndex = i
		}
	}
	if l.Size == 0 {
		// An empty record still needs an address
		l.Size = referenceWidth
	}
	return l, nil
}

func (b *layoutBuilder) walk(t reflect.Type, index []int, path []string, exported bool) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, err := parseTag(sf.Tag.Get(tagName))
		if err != nil {
			return err
		}
		if tag.skip || sf.Name == "_" {
			continue
		}

		fieldIndex := append(append([]int(nil), index...), i)
		fieldPath := append(append([]string(nil), path...), sf.Name)
		fieldExported := exported && sf.IsExported()

		// Inline struct values are flattened into the enclosing image
		if sf.Type.Kind() == reflect.Struct {
			if err := b.walk(sf.Type, fieldIndex, fieldPath, fieldExported); err != nil {
				return err
			}
			continue
		}

		class, width, alignment, count, ok := classify(sf.Type)
		if !ok {
			if !fieldExported {
				// Unreachable values of unsupported types take no space
				continue
			}
			return errors.InvalidFieldType(fieldPath, sf.Type.String())
		}

		offset := align(b.cursor, alignment)
		if tag.hasOff {
			offset = tag.offset
		}
		b.cursor = max(b.cursor, offset+width)

		b.fields = append(b.fields, FieldLayout{
			Name:     sf.Name,
			Path:     fieldPath,
			Index:    fieldIndex,
			Type:     sf.Type,
			Class:    class,
			Offset:   offset,
			Width:    width,
			Count:    count,
			Final:    tag.final,
			Payload:  tag.payload,
			Exported: fieldExported,
		})
	}
	return nil
}

// classify returns the device class, width and alignment of a field type
func classify(t reflect.Type) (class FieldClass, width, alignment int64, count int, ok bool) {
	if k := KindOf(t.Kind()); k != KindInvalid {
		return FieldPrimitive, k.Width(), k.Width(), 0, true
	}

	switch t.Kind() {
	case reflect.Array:
		k := KindOf(t.Elem().Kind())
		if k == KindInvalid {
			return 0, 0, 0, 0, false
		}
		return FieldPrimitive, k.Width() * int64(t.Len()), k.Width(), t.Len(), true

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Slice || KindOf(t.Elem().Kind()) != KindInvalid {
			return FieldArray, referenceWidth, referenceWidth, 0, true
		}

	case reflect.Pointer:
		switch {
		case t == vecDenseType || t == denseType:
			return FieldVector, referenceWidth, referenceWidth, 0, true
		case t.Elem().Kind() == reflect.Struct && isVectorCarrier(t.Elem()):
			return FieldVector, referenceWidth, referenceWidth, 0, true
		case t.Elem().Kind() == reflect.Struct:
			return FieldObject, referenceWidth, referenceWidth, 0, true
		}
	}
	return 0, 0, 0, 0, false
}

// isVectorCarrier reports whether a struct type tags a payload field
func isVectorCarrier(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		tag, err := parseTag(t.Field(i).Tag.Get(tagName))
		if err == nil && tag.payload {
			return true
		}
	}
	return false
}
