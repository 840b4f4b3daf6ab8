package peripheral

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a class of peripheral failure
type ErrorKind string

const (
	KindUnknownService          ErrorKind = "unknown_service"
	KindUnknownCharacteristic   ErrorKind = "unknown_characteristic"
	KindUnknownDescriptor       ErrorKind = "unknown_descriptor"
	KindServiceAlreadyPublished ErrorKind = "service_already_published"
	KindDuplicateIdentifier     ErrorKind = "duplicate_identifier"
	KindMalformedDeclaration    ErrorKind = "malformed_declaration"
	KindPublicationFailed       ErrorKind = "publication_failed"
	KindAdvertisingFailed       ErrorKind = "advertising_failed"
	KindPublicationInProgress   ErrorKind = "publication_in_progress"
	KindPeripheralBusy          ErrorKind = "peripheral_busy"
	KindStackNotReady           ErrorKind = "stack_not_ready"
	KindAttributeNotFound       ErrorKind = "attribute_not_found"
	KindInternalProtocolError   ErrorKind = "internal_protocol_error"
)

// Error is the error type returned by every peripheral operation.
// Reason carries the stack-reported cause for PublicationFailed/AdvertisingFailed.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Reason error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Reason != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Reason)
	}
	return msg
}

// Unwrap exposes the stack reason to errors.Is/As
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Recoverable reports whether the caller may retry or repair after this error.
func (e *Error) Recoverable() bool {
	return e != nil && e.Kind != KindInternalProtocolError
}

// Predefined sentinel errors, one per kind
var (
	ErrUnknownService          = &Error{Kind: KindUnknownService}
	ErrUnknownCharacteristic   = &Error{Kind: KindUnknownCharacteristic}
	ErrUnknownDescriptor       = &Error{Kind: KindUnknownDescriptor}
	ErrServiceAlreadyPublished = &Error{Kind: KindServiceAlreadyPublished}
	ErrDuplicateIdentifier     = &Error{Kind: KindDuplicateIdentifier}
	ErrMalformedDeclaration    = &Error{Kind: KindMalformedDeclaration}
	ErrPublicationFailed       = &Error{Kind: KindPublicationFailed}
	ErrAdvertisingFailed       = &Error{Kind: KindAdvertisingFailed}
	ErrPublicationInProgress   = &Error{Kind: KindPublicationInProgress}
	ErrPeripheralBusy          = &Error{Kind: KindPeripheralBusy}
	ErrStackNotReady           = &Error{Kind: KindStackNotReady}
	ErrAttributeNotFound       = &Error{Kind: KindAttributeNotFound}
	ErrInternalProtocol        = &Error{Kind: KindInternalProtocolError}

	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("peripheral closed")
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func failedError(kind ErrorKind, reason error) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// IsKind reports whether err is a peripheral Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or an empty kind for foreign errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}
