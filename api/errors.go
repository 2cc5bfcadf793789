// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the socket, reactor, session, server and client layers.

package api

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Outcome sentinels. Callers match them with errors.Is.
var (
	// ErrCancelled reports a wait released by Cancel/Unblock. It is a clean
	// shutdown signal, not a failure.
	ErrCancelled = errors.New("operation cancelled")
	// ErrTimedOut reports a wait whose caller-supplied timeout elapsed.
	ErrTimedOut = errors.New("operation timed out")
	// ErrWouldBlock reports a write the kernel refused without blocking.
	ErrWouldBlock = errors.New("operation would block")
	// ErrConnectionReset reports that the peer closed the connection.
	ErrConnectionReset = errors.New("connection reset by peer")
	// ErrNotFound reports a socket path that does not exist.
	ErrNotFound = errors.New("socket path not found")
	// ErrIO is the kind of every unexpected read/write failure.
	ErrIO = errors.New("i/o error")
	// ErrNotConnected reports a client operation issued while disconnected.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidSocket reports an operation on a released descriptor.
	ErrInvalidSocket = errors.New("invalid socket descriptor")
	// ErrInvalidArgument reports a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed reports use of a closed multiplexer, server or worker.
	ErrClosed = errors.New("resource closed")
	// ErrSystem is the kind of resource-allocation failures (socket, bind, listen...).
	ErrSystem = errors.New("system call failed")
)

// SysError carries the failing operation and the underlying errno.
// errors.Is matches both Kind and Errno.
type SysError struct {
	Op    string
	Errno unix.Errno
	Kind  error
}

// NewSysError builds a SysError of kind ErrSystem, keeping the errno if err is one.
func NewSysError(op string, err error) *SysError {
	return newKinded(op, err, ErrSystem)
}

// NewIOError builds a SysError of kind ErrIO.
func NewIOError(op string, err error) *SysError {
	return newKinded(op, err, ErrIO)
}

func newKinded(op string, err error, kind error) *SysError {
	e := &SysError{Op: op, Kind: kind}
	var errno unix.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

// Error implements the error interface.
func (e *SysError) Error() string {
	if e.Errno == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Errno)
}

// Unwrap exposes both the kind sentinel and the errno.
func (e *SysError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Errno != 0 {
		errs = append(errs, e.Errno)
	}
	return errs
}

// ErrorCode classifies an error into the public outcome taxonomy.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeCancelled
	ErrCodeTimedOut
	ErrCodeWouldBlock
	ErrCodeConnectionReset
	ErrCodeNotFound
	ErrCodeNotConnected
	ErrCodeIO
	ErrCodeSystem
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeCancelled:       "cancelled",
	ErrCodeTimedOut:        "timed_out",
	ErrCodeWouldBlock:      "would_block",
	ErrCodeConnectionReset: "connection_reset",
	ErrCodeNotFound:        "not_found",
	ErrCodeNotConnected:    "not_connected",
	ErrCodeIO:              "io_error",
	ErrCodeSystem:          "system_error",
	ErrCodeInternal:        "internal",
}

// String returns the metric/log label of the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Code maps err onto an ErrorCode.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.Is(err, ErrCancelled):
		return ErrCodeCancelled
	case errors.Is(err, ErrTimedOut):
		return ErrCodeTimedOut
	case errors.Is(err, ErrWouldBlock):
		return ErrCodeWouldBlock
	case errors.Is(err, ErrConnectionReset):
		return ErrCodeConnectionReset
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, ErrIO):
		return ErrCodeIO
	case errors.Is(err, ErrSystem):
		return ErrCodeSystem
	default:
		return ErrCodeInternal
	}
}
