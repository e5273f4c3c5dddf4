package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13

	// Swap-engine outcome codes. These mirror the distinct user-visible
	// failure modes of the quote/execute pipeline, so callers can branch on
	// them without string matching.
	CodeInvalidAmount         Code = 20
	CodeNoRoute               Code = 21
	CodeStaleQuote            Code = 22
	CodeApprovalRejected      Code = 23
	CodeInsufficientAllowance Code = 24
	CodeNetworkSwitchRejected Code = 25
	CodeNetworkSwitchTimeout  Code = 26
	CodeTransactionReverted   Code = 27
	CodeSameWalletTransfer    Code = 28
	CodeInsufficientBalance   Code = 29
	CodeNoRecoverableRoute    Code = 30
	CodeSigner                Code = 31
	CodeTimeout               Code = 32
)

// Error is a typed engine error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err is a typed error with the given code.
func HasCode(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
