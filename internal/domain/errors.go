package domain

import (
	"errors"
	"fmt"
)

// Transport-level sentinels. These are handled inside the connection manager
// and never reach callers except through ErrorCodeOf-labelled metrics.
var (
	ErrConnectionRefused = fmt.Errorf("connection refused")
	ErrConnectionClosed  = fmt.Errorf("connection closed by peer")
	ErrWouldBlock        = fmt.Errorf("no data available before read deadline")
	ErrIO                = fmt.Errorf("i/o fault")
	ErrProtocol          = fmt.Errorf("protocol error")
	ErrHandshake         = fmt.Errorf("handshake failed")
)

// Caller-visible sentinels.
var (
	ErrCommandFailed    = fmt.Errorf("command failed")
	ErrChannelClosed    = fmt.Errorf("internal queue closed")
	ErrRetriesExhausted = fmt.Errorf("connection retries exhausted")
	ErrClosed           = fmt.Errorf("client closed")
	ErrNotStarted       = fmt.Errorf("client not started")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Transport.Dial")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CommandError is returned when the peer answers a request with an ERROR event.
type CommandError struct {
	Cmd     Command
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s (code %d)", e.Cmd, ErrCommandFailed, e.Code)
	}
	return fmt.Sprintf("%s: %s (code %d): %s", e.Cmd, ErrCommandFailed, e.Code, e.Message)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

// IsTransient reports whether err means the peer is simply not listening yet.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnectionRefused)
}

// IsDisconnect reports whether err should tear down the current connection.
func IsDisconnect(err error) bool {
	if err == nil || errors.Is(err, ErrWouldBlock) {
		return false
	}
	return true
}

// ErrorCode is a machine-parseable error category for metrics labels.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	CodeConnectionClosed  ErrorCode = "CONNECTION_CLOSED"
	CodeWouldBlock        ErrorCode = "WOULD_BLOCK"
	CodeIO                ErrorCode = "IO_FAULT"
	CodeProtocol          ErrorCode = "PROTOCOL"
	CodeHandshake         ErrorCode = "HANDSHAKE"
	CodeCommandFailed     ErrorCode = "COMMAND_FAILED"
	CodeChannelClosed     ErrorCode = "CHANNEL_FAULT"
	CodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
	CodeClosed            ErrorCode = "CLOSED"
	CodeNotStarted        ErrorCode = "NOT_STARTED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
)

// errorCodes is ordered: more specific sentinels first, since a handshake
// failure usually also wraps a protocol or i/o error.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrCommandFailed, CodeCommandFailed},
	{ErrHandshake, CodeHandshake},
	{ErrConnectionRefused, CodeConnectionRefused},
	{ErrConnectionClosed, CodeConnectionClosed},
	{ErrWouldBlock, CodeWouldBlock},
	{ErrProtocol, CodeProtocol},
	{ErrIO, CodeIO},
	{ErrChannelClosed, CodeChannelClosed},
	{ErrRetriesExhausted, CodeRetriesExhausted},
	{ErrClosed, CodeClosed},
	{ErrNotStarted, CodeNotStarted},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
