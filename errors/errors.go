// Package errors defines the error taxonomy for the offramp module.
//
// All errors produced by the module are represented as OfframpError, which provides:
//   - Code: Machine-readable error identifier
//   - Message: Human-readable error description
//   - Layer: Which component layer produced the error (core, client, flow, store)
//   - Cause: Underlying error, if any
//   - Context: Additional error details (session id, result code, etc.)
//
// Six codes are error kinds that callers branch on (CONFIG_INVALID, AUTH_FAILED,
// ASSET_UNSUPPORTED, ANCHOR_PROTOCOL_ERROR, WATCH_TIMEOUT, LEDGER_SUBMISSION_FAILED).
// Every error returned by the withdrawal flow carries one of them, except INVALID_REQUEST
// for caller input rejected before any network call; KindOf finds it. The remaining codes
// describe lower-level causes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a machine-readable error identifier.
type Code string

// Error kinds surfaced to callers of the withdrawal flow.
const (
	CONFIG_INVALID           Code = "CONFIG_INVALID"
	AUTH_FAILED              Code = "AUTH_FAILED"
	ASSET_UNSUPPORTED        Code = "ASSET_UNSUPPORTED"
	ANCHOR_PROTOCOL_ERROR    Code = "ANCHOR_PROTOCOL_ERROR"
	WATCH_TIMEOUT            Code = "WATCH_TIMEOUT"
	LEDGER_SUBMISSION_FAILED Code = "LEDGER_SUBMISSION_FAILED"
)

// Error codes - Core Layer
const (
	TOML_FETCH_FAILED Code = "TOML_FETCH_FAILED"
	TOML_INVALID      Code = "TOML_INVALID"
	NETWORK_ERROR     Code = "NETWORK_ERROR"
	ACCOUNT_NOT_FOUND Code = "ACCOUNT_NOT_FOUND"
	SEAL_FAILED       Code = "SEAL_FAILED"
)

// Error codes - Flow and Store Layers
const (
	INVALID_REQUEST        Code = "INVALID_REQUEST"
	TRANSITION_INVALID     Code = "TRANSITION_INVALID"
	REMITTANCE_IN_PROGRESS Code = "REMITTANCE_IN_PROGRESS"
	STORE_ERROR            Code = "STORE_ERROR"
	NOT_FOUND              Code = "NOT_FOUND"
)

var kinds = map[Code]bool{
	CONFIG_INVALID:           true,
	AUTH_FAILED:              true,
	ASSET_UNSUPPORTED:        true,
	ANCHOR_PROTOCOL_ERROR:    true,
	WATCH_TIMEOUT:            true,
	LEDGER_SUBMISSION_FAILED: true,
}

// OfframpError is the base error type for all module errors.
type OfframpError struct {
	Code    Code
	Message string
	Layer   string // "core", "client", "flow", "store"
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string.
func (e *OfframpError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Layer, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error, enabling error chain inspection.
func (e *OfframpError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error is an OfframpError with the same code.
func (e *OfframpError) Is(target error) bool {
	if target == nil {
		return false
	}
	other, ok := target.(*OfframpError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// With adds a context entry and returns the error for chaining.
func (e *OfframpError) With(key string, value any) *OfframpError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(layer string, code Code, message string, cause error) *OfframpError {
	return &OfframpError{
		Code:    code,
		Message: message,
		Layer:   layer,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// NewCoreError creates a core layer error.
func NewCoreError(code Code, message string, cause error) *OfframpError {
	return newError("core", code, message, cause)
}

// NewClientError creates a client (anchor SDK) layer error.
func NewClientError(code Code, message string, cause error) *OfframpError {
	return newError("client", code, message, cause)
}

// NewFlowError creates a withdrawal flow layer error.
func NewFlowError(code Code, message string, cause error) *OfframpError {
	return newError("flow", code, message, cause)
}

// NewStoreError creates a store layer error.
func NewStoreError(code Code, message string, cause error) *OfframpError {
	return newError("store", code, message, cause)
}

// Sentinel returns a code-only error for use with errors.Is.
func Sentinel(code Code) error {
	return &OfframpError{Code: code}
}

// As checks if err, or any error in its chain, is an OfframpError and assigns it.
func As(err error, target **OfframpError) bool {
	if err == nil {
		return false
	}
	return stderrors.As(err, target)
}

// HasCode reports whether any error in the chain carries the code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, Sentinel(code))
}

// IsKind reports whether code is one of the six caller-facing kinds.
func IsKind(code Code) bool {
	return kinds[code]
}

// KindOf returns the outermost caller-facing kind in the error chain, or "" if the chain
// carries none.
func KindOf(err error) Code {
	for err != nil {
		if e, ok := err.(*OfframpError); ok && kinds[e.Code] {
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}

// EnsureKind returns err unchanged if it already carries a caller-facing kind, and
// otherwise wraps it under code.
func EnsureKind(err error, code Code, layer, message string) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	return newError(layer, code, message, err)
}
