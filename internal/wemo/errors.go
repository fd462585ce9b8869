package wemo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeBadResponse indicates the device answered with something unusable
	ErrTypeBadResponse ErrorType = iota
	// ErrTypeNetwork indicates a socket-level failure (refused, unreachable, reset)
	ErrTypeNetwork
	// ErrTypeTimeout indicates the caller's budget ran out
	ErrTypeTimeout
	// ErrTypeProtocol indicates a device-reported failure or unexpected shape
	ErrTypeProtocol
	// ErrTypeParse indicates a value could not be parsed
	ErrTypeParse
	// ErrTypeNoLocalIP indicates no usable local IPv4 address was found
	ErrTypeNoLocalIP
	// ErrTypeLock indicates a synchronization failure
	ErrTypeLock
	// ErrTypeSubscription indicates a SUBSCRIBE exchange failed
	ErrTypeSubscription
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeBadResponse:
		return "Bad Response"
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeProtocol:
		return "Protocol Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeNoLocalIP:
		return "No Local IP"
	case ErrTypeLock:
		return "Lock Error"
	case ErrTypeSubscription:
		return "Subscription Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is the error returned by every public operation in this module.
type Error struct {
	Type    ErrorType // Category of error
	Op      string    // Operation that failed, e.g. "GetBinaryState"
	Message string    // Human-readable error message
	Err     error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same type, so that
// errors.Is(err, wemo.ErrTimeout) matches any timeout.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrBadResponse  = &Error{Type: ErrTypeBadResponse}
	ErrNetwork      = &Error{Type: ErrTypeNetwork}
	ErrTimeout      = &Error{Type: ErrTypeTimeout}
	ErrProtocol     = &Error{Type: ErrTypeProtocol}
	ErrParse        = &Error{Type: ErrTypeParse}
	ErrNoLocalIP    = &Error{Type: ErrTypeNoLocalIP}
	ErrLock         = &Error{Type: ErrTypeLock}
	ErrSubscription = &Error{Type: ErrTypeSubscription}
)

// NewNetworkError classifies a socket error. Deadline and context expiry
// become Timeout, everything else is Network.
func NewNetworkError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrTypeTimeout, Op: op, Message: "operation timed out", Err: err}
	}

	msg := "network failure"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			msg = "device refused connection"
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			msg = "host unreachable"
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			msg = "network unreachable"
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			msg = "connection reset by device"
		}
	}
	return &Error{Type: ErrTypeNetwork, Op: op, Message: msg, Err: err}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(op, message string) *Error {
	return &Error{Type: ErrTypeTimeout, Op: op, Message: message}
}

// NewProtocolError creates a protocol error
func NewProtocolError(op, message string) *Error {
	return &Error{Type: ErrTypeProtocol, Op: op, Message: message}
}

// NewParseError creates a parse error
func NewParseError(op, message string, err error) *Error {
	return &Error{Type: ErrTypeParse, Op: op, Message: message, Err: err}
}

// NewBadResponseError creates a bad response error
func NewBadResponseError(op, message string) *Error {
	return &Error{Type: ErrTypeBadResponse, Op: op, Message: message}
}

// NewSubscriptionError creates a subscription error
func NewSubscriptionError(host, message string, err error) *Error {
	return &Error{Type: ErrTypeSubscription, Op: "SUBSCRIBE " + host, Message: message, Err: err}
}

// NewNoLocalIPError creates an error for a missing local address
func NewNoLocalIPError(err error) *Error {
	return &Error{Type: ErrTypeNoLocalIP, Op: "local-ip", Message: "no usable local IPv4 address", Err: err}
}

// TypeOf returns the ErrorType carried by err and whether one was found.
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return 0, false
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsProtocolError checks if an error is a protocol error
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
