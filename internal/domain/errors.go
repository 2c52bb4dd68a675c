package domain

import (
	"errors"
	"fmt"
)

// RetriableError is implemented by errors that know whether the failed call may be repeated.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable walks the error chain and reports the first RetriableError verdict.
// Errors without one are treated as permanent.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError wraps a failed feed or settlement call.
// StatusCode is set when the peer answered with an HTTP status; zero means transport failure.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
	Retriable  bool
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool { return e.Retriable }

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError marks a transport failure as retriable.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError marks a failure that repeating the call cannot fix.
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// NewStatusError classifies an HTTP answer: 5xx and 429 are retriable, everything else is fatal.
func NewStatusError(op string, code int, err error) *NetworkError {
	return &NetworkError{
		Op:         op,
		StatusCode: code,
		Err:        err,
		Retriable:  code >= 500 || code == 429,
	}
}

// ConfigError points at the config field that failed validation. Never retriable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool { return false }

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	// ErrConnectionFailed is returned when the feed websocket cannot be established. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected is returned when a write is attempted without an open connection.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidSymbol is returned when a ticker is empty or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidSide is returned when a side is neither long nor short.
	ErrInvalidSide = errors.New("invalid side")

	// ErrOrderNotFound is returned when a wallet has no active order with the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
