package memory

import (
	"fmt"
	"reflect"

	"go.uber.org/multierr"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/errors"
)

// MultiDimArrayBuffer places a slice of slices as one wrapper per inner
// slice plus an int64 table of their addresses. Kernels reach the inner
// buffers through the table, whose address is the wrapper's address.
type MultiDimArrayBuffer struct {
	alloc     *Allocator
	factory   WrapperFactory
	final     bool
	inner     []Wrapper
	addresses []int64
	table     *ArrayBuffer[int64]
	valid     bool
}

var _ Wrapper = (*MultiDimArrayBuffer)(nil)

// NewMultiDimArrayBuffer creates an unallocated multi-dimensional buffer.
// factory builds the inner wrappers; nil selects NewWrapper.
func NewMultiDimArrayBuffer(a *Allocator, factory WrapperFactory, final bool) *MultiDimArrayBuffer {
	if factory == nil {
		factory = NewWrapper
	}
	return &MultiDimArrayBuffer{
		alloc:   a,
		factory: factory,
		final:   final,
		table:   NewArrayBuffer[int64](a, final),
	}
}

func (m *MultiDimArrayBuffer) outer(value any) (reflect.Value, error) {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.Slice {
		return reflect.Value{}, errors.New(errors.OpBind, errors.KindInvalidArgument).
			GoType(typeName(value)).
			Detail("expected a slice of slices").
			Build()
	}
	if m.inner != nil && v.Len() != len(m.inner) {
		return reflect.Value{}, errors.New(errors.OpBind, errors.KindInvalidArgument).
			GoType(typeName(value)).
			Detail("outer length changed from %d to %d", len(m.inner), v.Len()).
			Build()
	}
	return v, nil
}

// Allocate places every inner slice and then the address table. Batching
// across inner slices is not supported.
func (m *MultiDimArrayBuffer) Allocate(value any, batchSize int64) error {
	if batchSize != 0 {
		return errors.InvalidBatchSize(errors.OpAllocate, typeName(value), batchSize, "batching is not supported for multi-dimensional arrays")
	}
	v, err := m.outer(value)
	if err != nil {
		return err
	}

	if m.inner == nil {
		m.inner = make([]Wrapper, v.Len())
		for i := range m.inner {
			w, err := m.factory(m.alloc, v.Index(i).Interface(), m.final)
			if err != nil {
				return fmt.Errorf("failed to wrap element %d: %w", i, err)
			}
			m.inner[i] = w
		}
		m.addresses = make([]int64, v.Len())
	}

	for i, w := range m.inner {
		if err := w.Allocate(v.Index(i).Interface(), 0); err != nil {
			return fmt.Errorf("failed to allocate element %d: %w", i, err)
		}
	}
	m.refreshAddresses()
	return m.table.AllocateSlice(m.addresses, 0)
}

func (m *MultiDimArrayBuffer) refreshAddresses() {
	for i, w := range m.inner {
		m.addresses[i] = addressOf(m.alloc, w)
	}
}

// Addresses returns the address table as last staged
func (m *MultiDimArrayBuffer) Addresses() []int64 { return m.addresses }

// Inner returns the inner wrappers in outer order
func (m *MultiDimArrayBuffer) Inner() []Wrapper { return m.inner }

// Table returns the address-table buffer
func (m *MultiDimArrayBuffer) Table() *ArrayBuffer[int64] { return m.table }

// Write writes the address table and then every inner slice
func (m *MultiDimArrayBuffer) Write(value any) error {
	v, err := m.outer(value)
	if err != nil {
		return err
	}
	if m.inner == nil {
		return errors.New(errors.OpWrite, errors.KindNotAllocated).
			GoType(typeName(value)).
			Detail("multi-dimensional buffer not allocated").
			Build()
	}

	m.refreshAddresses()
	if err := m.table.WriteSlice(m.addresses); err != nil {
		return fmt.Errorf("failed to write address table: %w", err)
	}
	for i, w := range m.inner {
		if err := w.Write(v.Index(i).Interface()); err != nil {
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
	}
	m.valid = true
	return nil
}

// EnqueueWrite enqueues the table and inner writes, then a barrier so a
// following launch sees every inner slice. The barrier is the only event
// returned.
func (m *MultiDimArrayBuffer) EnqueueWrite(value any, batchSize, hostOffset int64, waitEvents []device.Event, useDeps bool) ([]device.Event, error) {
	if batchSize != 0 {
		return nil, errors.InvalidBatchSize(errors.OpWrite, typeName(value), batchSize, "batching is not supported for multi-dimensional arrays")
	}
	v, err := m.outer(value)
	if err != nil {
		return nil, err
	}
	if m.inner == nil {
		return nil, errors.New(errors.OpWrite, errors.KindNotAllocated).
			GoType(typeName(value)).
			Detail("multi-dimensional buffer not allocated").
			Build()
	}

	m.refreshAddresses()
	if _, err := m.table.EnqueueWrite(m.addresses, 0, 0, waitEvents, false); err != nil {
		return nil, fmt.Errorf("failed to enqueue address table: %w", err)
	}
	for i, w := range m.inner {
		if _, err := w.EnqueueWrite(v.Index(i).Interface(), 0, 0, waitEvents, false); err != nil {
			return nil, fmt.Errorf("failed to enqueue element %d: %w", i, err)
		}
	}
	barrier := m.alloc.dev.EnqueueBarrier()
	m.valid = true

	if !useDeps {
		return nil, nil
	}
	return []device.Event{barrier}, nil
}

// Read reads every inner slice back. The table is device bookkeeping and
// never read.
func (m *MultiDimArrayBuffer) Read(value any) error {
	v, err := m.outer(value)
	if err != nil {
		return err
	}
	var errs error
	for i, w := range m.inner {
		if err := w.Read(v.Index(i).Interface()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("element %d: %w", i, err))
		}
	}
	return errs
}

// EnqueueRead enqueues every inner read and joins them with a marker
func (m *MultiDimArrayBuffer) EnqueueRead(value any, hostOffset int64, waitEvents []device.Event, useDeps bool) (device.Event, error) {
	v, err := m.outer(value)
	if err != nil {
		return device.NoEvent, err
	}

	events := make([]device.Event, 0, len(m.inner))
	var errs error
	for i, w := range m.inner {
		ev, err := w.EnqueueRead(v.Index(i).Interface(), 0, waitEvents, true)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	if errs != nil {
		return device.NoEvent, errs
	}

	marker := m.alloc.dev.EnqueueMarker(events)
	if !useDeps {
		return device.NoEvent, nil
	}
	return marker, nil
}

func (m *MultiDimArrayBuffer) ToAbsoluteAddress() int64 { return m.table.ToAbsoluteAddress() }

func (m *MultiDimArrayBuffer) ToRelativeAddress() int64 { return m.table.ToRelativeAddress() }

// Size returns the size of the address table
func (m *MultiDimArrayBuffer) Size() int64 { return m.table.Size() }

func (m *MultiDimArrayBuffer) IsValid() bool { return m.valid }

// Invalidate marks the table and every inner wrapper stale
func (m *MultiDimArrayBuffer) Invalidate() {
	m.valid = false
	m.table.Invalidate()
	for _, w := range m.inner {
		w.Invalidate()
	}
}

// HeapTrace lists the table and inner addresses
func (m *MultiDimArrayBuffer) HeapTrace() string {
	s := m.table.HeapTrace()
	for i, w := range m.inner {
		s += fmt.Sprintf("  [%d] 0x%x\n", i, w.ToAbsoluteAddress())
	}
	return s
}
