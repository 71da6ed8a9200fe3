// Package errors defines the structured error type shared by the heap
// allocator, the buffer wrappers and the device backends.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes the error
type Kind string

const (
	// KindOutOfMemory means the request does not fit the remaining region.
	// Callers may bail out to another device or a smaller batch.
	KindOutOfMemory      Kind = "out_of_memory"
	KindInvalidBatchSize Kind = "invalid_batch_size"
	KindInvalidFieldType Kind = "invalid_field_type"
	KindAddressOverflow  Kind = "address_overflow"
	KindAccessDenied     Kind = "access_denied"
	KindCycleDetected    Kind = "cycle_detected"
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotAllocated     Kind = "not_allocated"
	KindDeviceFailure    Kind = "device_failure"
)

// Op names the operation that failed
type Op string

const (
	OpAllocate  Op = "allocate"
	OpCallFrame Op = "call_frame"
	OpRegion    Op = "region"
	OpWrite     Op = "write"
	OpRead      Op = "read"
	OpLayout    Op = "layout"
	OpTranslate Op = "translate"
	OpTransfer  Op = "transfer"
	OpBind      Op = "bind"
	OpLaunch    Op = "launch"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Op     Op
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Op))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(op Op, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Op:   op,
			Kind: kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels usable with errors.Is
var (
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
	ErrInvalidBatchSize = &Error{Kind: KindInvalidBatchSize}
	ErrInvalidFieldType = &Error{Kind: KindInvalidFieldType}
	ErrAddressOverflow  = &Error{Kind: KindAddressOverflow}
	ErrAccessDenied     = &Error{Kind: KindAccessDenied}
	ErrCycleDetected    = &Error{Kind: KindCycleDetected}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrNotAllocated     = &Error{Kind: KindNotAllocated}
	ErrDeviceFailure    = &Error{Kind: KindDeviceFailure}
)

// OutOfMemory creates a bailout error for an exhausted region
func OutOfMemory(op Op, region string, requested, available int64) *Error {
	return &Error{
		Op:     op,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("%s exhausted: requested %d bytes, %d available", region, requested, available),
	}
}

// InvalidBatchSize creates an error for a batch size the wrapper cannot honour
func InvalidBatchSize(op Op, goType string, batchSize int64, reason string) *Error {
	return &Error{
		Op:     op,
		Kind:   KindInvalidBatchSize,
		GoType: goType,
		Detail: fmt.Sprintf("batch size %d: %s", batchSize, reason),
	}
}

// InvalidFieldType creates an error for a host type with no known wrapper
func InvalidFieldType(path []string, goType string) *Error {
	return &Error{
		Op:     OpLayout,
		Kind:   KindInvalidFieldType,
		Path:   path,
		GoType: goType,
		Detail: "no device representation",
	}
}

// AccessDenied creates an error for a field whose value cannot be reached
func AccessDenied(path []string, goType string) *Error {
	return &Error{
		Op:     OpLayout,
		Kind:   KindAccessDenied,
		Path:   path,
		GoType: goType,
		Detail: "field is not exported",
	}
}

// IsBailout reports whether err signals that the kernel cannot run on this
// device at this problem size. The caller may retry elsewhere.
func IsBailout(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// KindOf extracts the Kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
