// Package apperrors provides the error vocabulary shared by the advx client packages.
// Errors are chainable: a sentinel can be used as a template for more specific errors
// that still match the sentinel with errors.Is, and each error can carry the HTTP
// status code that produced it.
package apperrors

// Error extends the standard error interface with wrapping and status code helpers.
// All methods return a new Error and leave the receiver untouched.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // fresh message, current error as base
	Msg(msg string) Error                  // new message, wraps the current error
	MsgErr(msg string, err ...error) Error // new message, wraps the current error and errs
	Err(err ...error) Error                // same message, attaches errs
	SetStatusCode(int) Error
	StatusCode() int
	ErrorAll() string   // message followed by every wrapped error
	UnwrapAll() []error // wrapped errors in attachment order
}

// Client-side error taxonomy.
var (
	// ErrNetwork is the base for failures where no response was received.
	ErrNetwork = New("network error")
	// ErrHTTPStatus is the base for responses carrying an error status.
	ErrHTTPStatus = New("server returned an error status")
	// ErrValidation is the base for malformed caller input rejected before dispatch.
	ErrValidation = New("invalid input")
)
