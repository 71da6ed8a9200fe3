package memory

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// ObjectBuffer places a struct as a byte image laid out by its TypeLayout.
// Primitive fields are stored by value; every other field is stored as the
// 8-byte address of a wrapper the ObjectBuffer owns.
//
// A vector carrier (a struct with a payload-tagged field) has no image of
// its own: its address, transfers and size are those of the payload array,
// offset past the array header.
type ObjectBuffer struct {
	heapBuffer
	goType     reflect.Type
	layout     *TypeLayout
	fields     []*FieldBinding
	image      *ByteBuffer
	headerSize int64
}

var _ Wrapper = (*ObjectBuffer)(nil)

// NewObjectBuffer builds the wrapper tree for value, a non-nil pointer to a
// struct. Nested wrappers are created but nothing is allocated. An instance
// that reaches itself through its references is rejected.
func NewObjectBuffer(a *Allocator, value any) (*ObjectBuffer, error) {
	return newObjectBuffer(a, reflect.ValueOf(value), false, nil, make(map[uintptr]bool))
}

// newObjectBuffer ignores final: an object is final when all its primitive
// fields are
func newObjectBuffer(a *Allocator, v reflect.Value, _ bool, path []string, visiting map[uintptr]bool) (*ObjectBuffer, error) {
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.Type().Elem().Kind() != reflect.Struct || v.IsNil() {
		return nil, errors.New(errors.OpBind, errors.KindInvalidArgument).
			Path(path...).
			GoType(valueTypeName(v)).
			Detail("object buffers wrap a non-nil pointer to a struct").
			Build()
	}

	ptr := v.Pointer()
	if visiting[ptr] {
		return nil, errors.New(errors.OpBind, errors.KindCycleDetected).
			Path(path...).
			GoType(v.Type().String()).
			Detail("instance at 0x%x references itself", ptr).
			Build()
	}
	visiting[ptr] = true
	defer delete(visiting, ptr)

	layout, err := LayoutOf(v.Type().Elem(), a.cfg.ObjectHeaderSize)
	if err != nil {
		return nil, err
	}

	o := &ObjectBuffer{
		heapBuffer: heapBuffer{alloc: a, final: layout.Final},
		goType:     v.Type(),
		layout:     layout,
		fields:     make([]*FieldBinding, len(layout.Fields)),
		headerSize: a.cfg.ObjectHeaderSize,
	}

	rec := v.Elem()
	for i := range layout.Fields {
		fl := &layout.Fields[i]
		fb := &FieldBinding{layout: fl}
		o.fields[i] = fb

		if !fl.Exported {
			Logger().Warn("skipping inaccessible field",
				zap.String("type", layout.Type.String()),
				zap.Error(errors.AccessDenied(fl.Path, fl.Type.String())))
			continue
		}
		if fl.Class == FieldPrimitive {
			continue
		}

		fv := fb.Value(rec)
		if isNil(fv) {
			continue
		}
		w, err := newWrapper(a, fv, fl.Final, append(append([]string(nil), path...), fl.Path...), visiting)
		if err != nil {
			return nil, err
		}
		fb.wrapper = w
	}

	Logger().Debug("object layout",
		zap.String("type", layout.Type.String()),
		zap.Int("fields", len(layout.Fields)),
		zap.String("size", HumanBytes(layout.Size)),
		zap.Bool("final", layout.Final))
	return o, nil
}

func valueTypeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

// Layout returns the type layout
func (o *ObjectBuffer) Layout() *TypeLayout { return o.layout }

// Fields returns the bindings in ascending offset order
func (o *ObjectBuffer) Fields() []*FieldBinding { return o.fields }

// Field returns the binding for a dotted field path
func (o *ObjectBuffer) Field(name string) (*FieldBinding, bool) {
	for _, fb := range o.fields {
		if fb.Name() == name {
			return fb, true
		}
	}
	return nil, false
}

// Image returns the staged object image, nil before allocation or for a
// vector carrier
func (o *ObjectBuffer) Image() *ByteBuffer { return o.image }

// IsVectorCarrier reports whether the object delegates to its payload
func (o *ObjectBuffer) IsVectorCarrier() bool { return o.layout.IsVectorCarrier() }

func (o *ObjectBuffer) payload() *FieldBinding {
	return o.fields[o.layout.PayloadIndex]
}

func (o *ObjectBuffer) record(value any, op errors.Op) (reflect.Value, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() || v.Type() != o.goType || v.IsNil() {
		return reflect.Value{}, errors.New(op, errors.KindInvalidArgument).
			GoType(typeName(value)).
			Detail("expected a non-nil %s", o.goType).
			Build()
	}
	return v.Elem(), nil
}

// ensureWrapper creates the wrapper of a reference that was nil when the
// object was built
func (o *ObjectBuffer) ensureWrapper(fb *FieldBinding, rec reflect.Value) (reflect.Value, bool, error) {
	if !fb.IsAccessible() || fb.IsPrimitive() {
		return reflect.Value{}, false, nil
	}
	fv := fb.Value(rec)
	if isNil(fv) {
		return fv, false, nil
	}
	if fb.wrapper == nil {
		visiting := map[uintptr]bool{rec.Addr().Pointer(): true}
		w, err := newWrapper(o.alloc, fv, fb.layout.Final, fb.layout.Path, visiting)
		if err != nil {
			return fv, false, err
		}
		fb.wrapper = w
	}
	return fv, true, nil
}

// Allocate places the image and then every referenced value. Objects do
// not support batching.
func (o *ObjectBuffer) Allocate(value any, batchSize int64) error {
	rec, err := o.record(value, errors.OpAllocate)
	if err != nil {
		return err
	}

	if o.IsVectorCarrier() {
		fb := o.payload()
		fv, ok, err := o.ensureWrapper(fb, rec)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(errors.OpAllocate, errors.KindInvalidArgument).
				Path(fb.layout.Path...).
				Detail("vector payload is nil").
				Build()
		}
		return fb.wrapper.Allocate(fv.Interface(), batchSize)
	}

	if batchSize != 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, o.goType.String(), batchSize, "batching is not supported for objects")
	}

	first := !o.placement.allocated
	if err := o.reserve(o.layout.Size, o.headerSize); err != nil {
		return err
	}
	if first {
		o.image = newByteBuffer(o.alloc, o.placement.offset, o.layout.Size)
	}

	for _, fb := range o.fields {
		fv, ok, err := o.ensureWrapper(fb, rec)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fb.wrapper.Allocate(fv.Interface(), 0); err != nil {
			return fmt.Errorf("failed to allocate field %s: %w", fb.Name(), err)
		}
	}

	Logger().Debug("allocated object",
		zap.String("type", o.goType.String()),
		zap.Int64("offset", o.placement.offset),
		zap.String("size", HumanBytes(o.size)))
	return nil
}

// serialise stages rec into the image
func (o *ObjectBuffer) serialise(rec reflect.Value) {
	buf := o.image.Bytes()
	order := o.image.ByteOrder()
	// The header and its hub placeholder stay zero
	clear(buf)

	for _, fb := range o.fields {
		if !fb.IsAccessible() {
			continue
		}
		off := fb.Offset()
		fv := fb.Value(rec)

		if fb.IsPrimitive() {
			if n := fb.layout.Count; n > 0 {
				ew := fb.layout.Width / int64(n)
				for j := 0; j < n; j++ {
					putScalar(buf[off+int64(j)*ew:], fv.Index(j), order)
				}
			} else {
				putScalar(buf[off:], fv, order)
			}
			continue
		}

		var address int64
		if !isNil(fv) {
			address = o.referenceAddress(fb)
		}
		order.PutUint64(buf[off:], uint64(address))
		fb.imaged = address
	}
}

func (o *ObjectBuffer) referenceAddress(fb *FieldBinding) int64 {
	if fb.wrapper == nil {
		return 0
	}
	return addressOf(o.alloc, fb.wrapper)
}

// deserialise copies primitive fields from the image into rec
func (o *ObjectBuffer) deserialise(rec reflect.Value) {
	buf := o.image.Bytes()
	order := o.image.ByteOrder()

	for _, fb := range o.fields {
		if !fb.IsAccessible() || !fb.IsPrimitive() {
			continue
		}
		off := fb.Offset()
		fv := fb.Value(rec)
		if n := fb.layout.Count; n > 0 {
			ew := fb.layout.Width / int64(n)
			for j := 0; j < n; j++ {
				getScalar(fv.Index(j), buf[off+int64(j)*ew:], order)
			}
		} else {
			getScalar(fv, buf[off:], order)
		}
	}
}

// skipsImage reports whether the image is already current: the object is
// final, valid, and every reference still points where the image says
func (o *ObjectBuffer) skipsImage(rec reflect.Value) bool {
	if !o.valid || !o.final {
		return false
	}
	for _, fb := range o.fields {
		if !fb.IsAccessible() || fb.IsPrimitive() {
			continue
		}
		var address int64
		if !isNil(fb.Value(rec)) {
			address = o.referenceAddress(fb)
		}
		if address != fb.imaged {
			return false
		}
	}
	return true
}

// Write transfers the image unless it is final and already valid, then
// every field that needs a write
func (o *ObjectBuffer) Write(value any) error {
	rec, err := o.record(value, errors.OpWrite)
	if err != nil {
		return err
	}
	if o.IsVectorCarrier() {
		fb := o.payload()
		if fb.wrapper == nil {
			return o.errNotAllocated(errors.OpWrite)
		}
		return fb.wrapper.Write(fb.Value(rec).Interface())
	}
	if err := o.checkAllocated(errors.OpWrite); err != nil {
		return err
	}

	if !o.skipsImage(rec) {
		o.serialise(rec)
		if err := o.image.Write(); err != nil {
			return fmt.Errorf("failed to write %s image: %w", o.goType, err)
		}
	}

	for _, fb := range o.fields {
		if fb.wrapper == nil || !fb.NeedsWrite() {
			continue
		}
		fv := fb.Value(rec)
		if isNil(fv) {
			continue
		}
		if err := fb.wrapper.Write(fv.Interface()); err != nil {
			return fmt.Errorf("failed to write field %s: %w", fb.Name(), err)
		}
	}
	o.valid = true
	return nil
}

func (o *ObjectBuffer) EnqueueWrite(value any, batchSize, hostOffset int64, waitEvents []device.Event, useDeps bool) ([]device.Event, error) {
	rec, err := o.record(value, errors.OpWrite)
	if err != nil {
		return nil, err
	}
	if o.IsVectorCarrier() {
		fb := o.payload()
		if fb.wrapper == nil {
			return nil, o.errNotAllocated(errors.OpWrite)
		}
		return fb.wrapper.EnqueueWrite(fb.Value(rec).Interface(), batchSize, hostOffset, waitEvents, useDeps)
	}
	if batchSize != 0 {
		return nil, errors.InvalidBatchSize(errors.OpWrite, o.goType.String(), batchSize, "batching is not supported for objects")
	}
	if err := o.checkAllocated(errors.OpWrite); err != nil {
		return nil, err
	}

	var events []device.Event
	if !o.skipsImage(rec) {
		o.serialise(rec)
		ev, err := o.image.EnqueueWrite(waitEvents)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue %s image: %w", o.goType, err)
		}
		events = append(events, ev)
	}

	for _, fb := range o.fields {
		if fb.wrapper == nil || !fb.NeedsWrite() {
			continue
		}
		fv := fb.Value(rec)
		if isNil(fv) {
			continue
		}
		evs, err := fb.wrapper.EnqueueWrite(fv.Interface(), 0, 0, waitEvents, true)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue field %s: %w", fb.Name(), err)
		}
		events = append(events, evs...)
	}
	o.valid = true

	if !useDeps {
		return nil, nil
	}
	return events, nil
}

// Read refreshes primitive fields from the image and reads every
// referenced value back
func (o *ObjectBuffer) Read(value any) error {
	rec, err := o.record(value, errors.OpRead)
	if err != nil {
		return err
	}
	if o.IsVectorCarrier() {
		fb := o.payload()
		if fb.wrapper == nil {
			return o.errNotAllocated(errors.OpRead)
		}
		return fb.wrapper.Read(fb.Value(rec).Interface())
	}
	if err := o.checkAllocated(errors.OpRead); err != nil {
		return err
	}

	if err := o.image.Read(); err != nil {
		return fmt.Errorf("failed to read %s image: %w", o.goType, err)
	}
	o.deserialise(rec)

	var errs error
	for _, fb := range o.fields {
		if fb.wrapper == nil {
			continue
		}
		fv := fb.Value(rec)
		if isNil(fv) {
			continue
		}
		if err := fb.wrapper.Read(fv.Interface()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("field %s: %w", fb.Name(), err))
		}
	}
	return errs
}

// EnqueueRead reads the image, waiting for it so the primitives can be
// restored, then enqueues the reads of every referenced value. The
// returned marker joins all of them.
func (o *ObjectBuffer) EnqueueRead(value any, hostOffset int64, waitEvents []device.Event, useDeps bool) (device.Event, error) {
	rec, err := o.record(value, errors.OpRead)
	if err != nil {
		return device.NoEvent, err
	}
	if o.IsVectorCarrier() {
		fb := o.payload()
		if fb.wrapper == nil {
			return device.NoEvent, o.errNotAllocated(errors.OpRead)
		}
		return fb.wrapper.EnqueueRead(fb.Value(rec).Interface(), hostOffset, waitEvents, useDeps)
	}
	if err := o.checkAllocated(errors.OpRead); err != nil {
		return device.NoEvent, err
	}

	dev := o.alloc.dev
	ev := o.image.EnqueueRead(waitEvents)
	if err := dev.Wait(ev); err != nil {
		return device.NoEvent, fmt.Errorf("failed to read %s image: %w", o.goType, err)
	}
	o.deserialise(rec)

	events := []device.Event{ev}
	var errs error
	for _, fb := range o.fields {
		if fb.wrapper == nil {
			continue
		}
		fv := fb.Value(rec)
		if isNil(fv) {
			continue
		}
		fe, err := fb.wrapper.EnqueueRead(fv.Interface(), 0, waitEvents, true)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("field %s: %w", fb.Name(), err))
			continue
		}
		events = append(events, fe)
	}
	if errs != nil {
		return device.NoEvent, errs
	}

	marker := dev.EnqueueMarker(events)
	if !useDeps {
		return device.NoEvent, nil
	}
	return marker, nil
}

func (o *ObjectBuffer) errNotAllocated(op errors.Op) error {
	return errors.New(op, errors.KindNotAllocated).
		GoType(o.goType.String()).
		Detail("object buffer not allocated").
		Build()
}

func (o *ObjectBuffer) ToAbsoluteAddress() int64 {
	if o.IsVectorCarrier() {
		if w := o.payload().wrapper; w != nil && w.Size() > 0 {
			return w.ToAbsoluteAddress() + o.alloc.cfg.ArrayHeaderSize
		}
		return 0
	}
	return o.heapBuffer.ToAbsoluteAddress()
}

func (o *ObjectBuffer) ToRelativeAddress() int64 {
	if o.IsVectorCarrier() {
		if w := o.payload().wrapper; w != nil && w.Size() > 0 {
			return w.ToRelativeAddress() + o.alloc.cfg.ArrayHeaderSize
		}
		return 0
	}
	return o.heapBuffer.ToRelativeAddress()
}

func (o *ObjectBuffer) Size() int64 {
	if o.IsVectorCarrier() {
		if w := o.payload().wrapper; w != nil {
			return w.Size()
		}
		return 0
	}
	return o.size
}

func (o *ObjectBuffer) IsValid() bool {
	if o.IsVectorCarrier() {
		w := o.payload().wrapper
		return w != nil && w.IsValid()
	}
	return o.valid
}

// Invalidate marks the object and every referenced value stale
func (o *ObjectBuffer) Invalidate() {
	o.valid = false
	for _, fb := range o.fields {
		if fb.wrapper != nil {
			fb.wrapper.Invalidate()
		}
	}
}

// HeapTrace lists the object and field addresses
func (o *ObjectBuffer) HeapTrace() string {
	var b strings.Builder
	base := o.ToAbsoluteAddress()
	fmt.Fprintf(&b, "0x%x\ttype=%s\n", base, o.goType)
	for _, fb := range o.fields {
		address := base + fb.Offset()
		if fb.wrapper != nil {
			address = fb.wrapper.ToAbsoluteAddress()
		}
		fmt.Fprintf(&b, "\t0x%x\tfield=%s, class=%s, type=%s\n", address, fb.Name(), fb.Class(), fb.layout.Type)
	}
	return b.String()
}

func (o *ObjectBuffer) String() string {
	return fmt.Sprintf("object<%s> %s @ 0x%x (0x%x)", o.goType, HumanBytes(o.Size()), o.ToAbsoluteAddress(), o.ToRelativeAddress())
}
