package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an orchestration failure
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindPlatform     Kind = "platform"
	KindTimeout      Kind = "timeout"
	KindPartial      Kind = "partial_failure"
	KindInternal     Kind = "internal"
)

// Resources named in NotFound errors
const (
	ResourceServer    = "server"
	ResourceContainer = "container"
	ResourceStack     = "stack"
	ResourceProxy     = "proxy"
	ResourceFile      = "file"
	ResourceDNS       = "dns"
)

// Error is the structured error returned by the orchestration layer
type Error struct {
	Kind     Kind
	Resource string
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports missing or malformed input
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent resource
func NotFound(resource, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports an operation that is invalid for the current state
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// StateConflict reports an operation attempted from an invalid container state
func StateConflict(op string, state fmt.Stringer) *Error {
	return &Error{
		Kind:     KindConflict,
		Resource: ResourceContainer,
		Message:  fmt.Sprintf("cannot %s, current state: %s", op, state),
	}
}

// Forbidden reports an operation rejected by policy
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a missing or invalid identity
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Platform wraps a failure returned by the container, file or DNS backend
func Platform(op string, err error) *Error {
	return &Error{Kind: KindPlatform, Op: op, Err: err}
}

// Timeout reports a bounded wait that did not converge
func Timeout(what string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: "timeout " + what, Err: err}
}

// Partial reports a teardown in which some steps failed
func Partial(message string) *Error {
	return &Error{Kind: KindPartial, Message: message}
}

// WithOp returns a copy of err annotated with the failing step
func WithOp(op string, err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		cp := *appErr
		cp.Op = op
		return &cp
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf extracts the Kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ResourceOf extracts the resource named by err
func ResourceOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Resource
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error for resource.
// An empty resource matches any NotFound error.
func IsNotFound(err error, resource string) bool {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Kind != KindNotFound {
		return false
	}
	return resource == "" || appErr.Resource == resource
}

// HTTPStatus maps err to the status code used at the HTTP boundary
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPlatform:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}
