package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Status codes reported by every releasectl operation. The set is closed:
// callers switch on these values and scripts depend on the exit statuses
// returned by ExitStatus.
const (
	OK                  = "OK"
	ErrFailure          = "FAILURE"
	ErrAppNotFound      = "APP_NOT_FOUND"
	ErrEnvNotFound      = "ENV_NOT_FOUND"
	ErrDepsNotMet       = "DEPS_NOT_MET"
	ErrGit              = "GIT_ERROR"
	ErrRemoteAccess     = "REMOTE_ACCESS_ERROR"
	ErrDeployment       = "DEPLOYMENT_ERROR"
	ErrTesting          = "TESTING_ERROR"
	ErrTestingFailure   = "TESTING_FAILURE"
	ErrConfig           = "CONFIG_ERROR"
	ErrRemoteCmdInvalid = "REMOTE_COMMAND_INVALID"
)

var exitStatuses = map[string]int{
	OK:                  0,
	ErrFailure:          2,
	ErrAppNotFound:      3,
	ErrEnvNotFound:      4,
	ErrDepsNotMet:       5,
	ErrGit:              6,
	ErrRemoteAccess:     7,
	ErrDeployment:       8,
	ErrTesting:          9,
	ErrTestingFailure:   10,
	ErrConfig:           11,
	ErrRemoteCmdInvalid: 12,
}

// Codes returns every status code in exit-status order.
func Codes() []string {
	return []string{
		OK, ErrFailure, ErrAppNotFound, ErrEnvNotFound, ErrDepsNotMet, ErrGit,
		ErrRemoteAccess, ErrDeployment, ErrTesting, ErrTestingFailure,
		ErrConfig, ErrRemoteCmdInvalid,
	}
}

// ExitStatus maps a status code to the process exit status. Unknown codes
// map to the generic FAILURE status.
func ExitStatus(code string) int {
	if status, ok := exitStatuses[code]; ok {
		return status
	}
	return exitStatuses[ErrFailure]
}

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error

	// Host attributes the failure to a single remote host, when known.
	Host string
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message. The code of a wrapped
// structured error is kept; anything else becomes FAILURE.
func Wrap(err error, message string) *Error {
	code := ErrFailure
	var inner *Error
	if errors.As(err, &inner) {
		code = inner.Code
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// OnHost returns the error attributed to host.
func (e *Error) OnHost(host string) *Error {
	e.Host = host
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Host != "" {
		b.WriteString(fmt.Sprintf("✗ %s: %s\n", e.Host, e.Message))
	} else {
		b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// CodeOf returns the status code carried by err. A nil error is OK and an
// unstructured error is FAILURE.
func CodeOf(err error) string {
	if err == nil {
		return OK
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return ErrFailure
}
