package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrNotInitialized       = errors.New("ledger not initialized")
	ErrMalformedRequest     = errors.New("malformed request")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrIdentity             = errors.New("caller identity unavailable")
	ErrCorruptState         = errors.New("corrupt world state")
	ErrStateConflict        = errors.New("world state conflict")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Stable machine-readable codes for error kinds.
const (
	CodeInvalidAmount      = "invalid_amount"
	CodeInsufficientFunds  = "insufficient_funds"
	CodePermissionDenied   = "permission_denied"
	CodeNotInitialized     = "not_initialized"
	CodeMalformedRequest   = "malformed_request"
	CodeArithmeticOverflow = "arithmetic_overflow"
	CodeIdentity           = "identity_error"
	CodeStateConflict      = "state_conflict"
	CodeInternal           = "internal"
)

var errorCodes = []struct {
	target error
	code   string
}{
	{target: ErrInvalidAmount, code: CodeInvalidAmount},
	{target: ErrInsufficientFunds, code: CodeInsufficientFunds},
	{target: ErrPermissionDenied, code: CodePermissionDenied},
	{target: ErrNotInitialized, code: CodeNotInitialized},
	{target: ErrMalformedRequest, code: CodeMalformedRequest},
	{target: ErrArithmeticOverflow, code: CodeArithmeticOverflow},
	{target: ErrIdentity, code: CodeIdentity},
	{target: ErrStateConflict, code: CodeStateConflict},
}

// ErrorCode classifies err into one of the stable codes. Unknown errors are internal.
func ErrorCode(err error) string {
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.target) {
			return candidate.code
		}
	}
	return CodeInternal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
