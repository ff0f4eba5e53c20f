package model

import "fmt"

// InvalidConfigError is returned by a factory when a typed configuration
// value is missing or malformed.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: field %q: %s", e.Field, e.Reason)
}

// NotStartedError is returned when an operation requires a running
// transport but Start has not (yet) succeeded.
type NotStartedError struct {
	Kind TransportKind
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("transport %s: not started", e.Kind)
}

// AlreadyStartedError is returned by Start on a transport that is already
// Running. A transport that is still Starting is not detected.
type AlreadyStartedError struct {
	Kind TransportKind
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("transport %s: already started", e.Kind)
}

// UnsupportedTargetError is returned when no transport can reach a target.
type UnsupportedTargetError struct {
	Reason string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("unsupported target: %s", e.Reason)
}

// MessageTooLargeError is returned when a payload exceeds a transport's
// advertised MaxMessageSize. Selection continues to the next candidate;
// it is surfaced to the caller only if every candidate rejects the size.
type MessageTooLargeError struct {
	Kind  TransportKind
	Size  int
	Limit int64
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("transport %s: message too large: size=%d limit=%d", e.Kind, e.Size, e.Limit)
}

// CircuitOpenError is returned by a breaker permit check while Open.
type CircuitOpenError struct {
	Kind TransportKind
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("transport %s: circuit open", e.Kind)
}

// TimeoutError is returned when a per-attempt operation timeout expires.
type TimeoutError struct {
	Kind TransportKind
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport %s: timeout", e.Kind)
}

// TransportIOError wraps a connect/read/write failure.
type TransportIOError struct {
	Kind   TransportKind
	Detail string
}

func (e *TransportIOError) Error() string {
	return fmt.Sprintf("transport %s: io error: %s", e.Kind, e.Detail)
}

// SerializationError wraps a codec, framing or parsing failure: a message
// that cannot be encoded on send or decoded on receive.
type SerializationError struct {
	Detail string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %s", e.Detail)
}

// AllTransportsFailedError is the terminal Send error: every candidate
// transport was tried (or excluded) and none succeeded.
type AllTransportsFailedError struct {
	Reasons map[TransportKind]error
}

func (e *AllTransportsFailedError) Error() string {
	msg := "all transports failed:"
	for _, k := range AllKinds {
		if err, ok := e.Reasons[k]; ok {
			msg += fmt.Sprintf(" %s=%q", k, err.Error())
		}
	}
	return msg
}
