package webdav

import (
	"fmt"

	"github.com/Goopil/fast-dav-rs/internal"
)

// HTTPError is returned for non-2xx HTTP responses, carrying the method
// and path of the failed request alongside the server's status code.
type HTTPError = internal.HTTPError

// HTTPErrorf is a convenience constructor, mirrored from the internal
// package for callers outside it.
func HTTPErrorf(code int, format string, a ...interface{}) *HTTPError {
	return internal.HTTPErrorf(code, format, a...)
}

// IsNotFound reports whether err represents a 404 Not Found condition.
func IsNotFound(err error) bool {
	return internal.IsNotFound(err)
}

// ParseError is returned when a multistatus response body is malformed,
// has an unexpected root element, or is truncated. Its Kind field says
// which.
type ParseError = internal.ParseError

// ParseErrorKind categorizes a ParseError.
type ParseErrorKind = internal.ParseErrorKind

const (
	ParseErrorMalformedXML   = internal.ParseErrorMalformedXML
	ParseErrorUnexpectedRoot = internal.ParseErrorUnexpectedRoot
	ParseErrorTruncatedBody  = internal.ParseErrorTruncatedBody
	ParseErrorInvalidStatus  = internal.ParseErrorInvalidStatus
)

// TimeoutError is returned when a request is canceled for exceeding its
// default or per-call timeout. See WithTimeout and the Context-suffixed
// method variants (GetContext, PutContext, DeleteContext, GetRangeContext)
// for setting and overriding that deadline.
type TimeoutError = internal.TimeoutError

// PreconditionFailedError is returned when a conditional PUT or DELETE
// fails its If-Match precondition (HTTP 412 or 428). A failed
// If-None-Match precondition is reported as ConflictError instead.
type PreconditionFailedError struct {
	// Path is the resource the conditional request targeted.
	Path string
	// ExpectedETag is the ETag the caller's condition required, as
	// formatted on the wire (including quotes and any W/ weak prefix).
	ExpectedETag string
	// Code is the HTTP status the server returned: 412 Precondition
	// Failed or 428 Precondition Required.
	Code int
}

func (err *PreconditionFailedError) Error() string {
	return fmt.Sprintf("webdav: precondition failed for %v (expected ETag %v): HTTP %v", err.Path, err.ExpectedETag, err.Code)
}

// ConflictError is returned when a conditional PUT sent with
// If-None-Match: * fails because a resource already exists at Path (HTTP
// 412 or 428).
type ConflictError struct {
	// Path is the resource the conditional request targeted.
	Path string
	// Code is the HTTP status the server returned: 412 Precondition
	// Failed or 428 Precondition Required.
	Code int
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("webdav: resource already exists at %v: HTTP %v", err.Path, err.Code)
}

// UnsupportedOperationError is returned when a server doesn't support an
// operation the caller asked for: carddav's Mkaddressbook returns it when
// the server rejects both MKADDRESSBOOK and the MKCOL fallback with 501 or
// 405. A sync-collection REPORT the server rejects is reported as a plain
// error, not as this type.
type UnsupportedOperationError struct {
	Operation string
	Path      string
	Err       error
}

func (err *UnsupportedOperationError) Error() string {
	s := fmt.Sprintf("webdav: server doesn't support %v on %v", err.Operation, err.Path)
	if err.Err != nil {
		s += ": " + err.Err.Error()
	}
	return s
}

func (err *UnsupportedOperationError) Unwrap() error {
	return err.Err
}
