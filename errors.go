package actorlink

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Transport-face errors: the vocabulary surfaced to local callers (spec.md
// §4.8). Sentinel values follow the teacher's Err* convention so callers
// can classify with errors.Is.
var (
	ErrBluetoothUnavailable = errors.New("actorlink: link unavailable")
	ErrUnauthorized         = errors.New("actorlink: unauthorized")
	ErrPoweredOff           = errors.New("actorlink: link powered off")
	ErrConnectionTimeout    = errors.New("actorlink: connection timeout")
	ErrDisconnected         = errors.New("actorlink: disconnected")
	ErrInvalidData          = errors.New("actorlink: invalid data")
	ErrQuotaExceeded        = errors.New("actorlink: quota exceeded")
	ErrOperationNotSupported = errors.New("actorlink: operation not supported")
)

// PeripheralNotFoundError reports that a scanned/targeted peer could not be
// located. Carries the peer id so callers can log/inspect it.
type PeripheralNotFoundError struct{ ID ActorId }

func (e *PeripheralNotFoundError) Error() string {
	return fmt.Sprintf("actorlink: peripheral not found: %s", e.ID)
}

// ServiceNotFoundError reports that discovery found no matching service.
type ServiceNotFoundError struct{ ID ServiceId }

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("actorlink: service not found: %s", e.ID)
}

// CharacteristicNotFoundError reports that discovery found no RPC
// characteristic on an otherwise-matching service.
type CharacteristicNotFoundError struct{ ID CharacteristicId }

func (e *CharacteristicNotFoundError) Error() string {
	return fmt.Sprintf("actorlink: characteristic not found: %s", e.ID)
}

// ConnectionFailedError wraps a driver-reported connection failure.
type ConnectionFailedError struct{ Msg string }

func (e *ConnectionFailedError) Error() string { return "actorlink: connection failed: " + e.Msg }

// IncompatibleVersionError reports a codec version mismatch detected
// locally (mirrors VersionMismatch on the runtime face).
type IncompatibleVersionError struct{ Detected, Required uint32 }

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("actorlink: incompatible version: detected %d, required %d", e.Detected, e.Required)
}

// MethodNotSupportedError reports that a target names a method the local
// dispatch table has no handler for.
type MethodNotSupportedError struct{ Name string }

func (e *MethodNotSupportedError) Error() string {
	return "actorlink: method not supported: " + e.Name
}

// ActorNotFoundError reports a recipient id absent from the registry.
type ActorNotFoundError struct{ ID ActorId }

func (e *ActorNotFoundError) Error() string {
	return fmt.Sprintf("actorlink: actor not found: %s", e.ID)
}

// RpcFailedError wraps an otherwise-unclassified RPC failure (e.g. a
// runtime-face error converted at the call boundary with no closer local
// match).
type RpcFailedError struct{ Msg string }

func (e *RpcFailedError) Error() string { return "actorlink: rpc failed: " + e.Msg }

// RuntimeError is the codable, wire-crossing face of C8: it is what a
// ResponseEnvelope's Failure variant carries. Kind selects which of the
// other fields are meaningful (e.g. Name and Message for actor_not_found,
// Expected and Actual for version_mismatch).
type RuntimeError struct {
	Kind      RuntimeErrorKind `json:"kind"`
	Message   string           `json:"message,omitempty"`
	Name      string           `json:"name,omitempty"`
	Underlying string          `json:"underlying,omitempty"`
	Seconds   float64          `json:"seconds,omitempty"`
	Expected  uint32           `json:"expected,omitempty"`
	Actual    uint32           `json:"actual,omitempty"`
}

// RuntimeErrorKind enumerates the closed runtime-face taxonomy from
// spec.md §4.8.
type RuntimeErrorKind string

const (
	RuntimeActorNotFound     RuntimeErrorKind = "actor_not_found"
	RuntimeActorDeallocated  RuntimeErrorKind = "actor_deallocated"
	RuntimeMethodNotFound    RuntimeErrorKind = "method_not_found"
	RuntimeExecutionFailed   RuntimeErrorKind = "execution_failed"
	RuntimeSerializationFail RuntimeErrorKind = "serialization_failed"
	RuntimeTransportFailed   RuntimeErrorKind = "transport_failed"
	RuntimeTimeout           RuntimeErrorKind = "timeout"
	RuntimeInvalidEnvelope   RuntimeErrorKind = "invalid_envelope"
	RuntimeVersionMismatch   RuntimeErrorKind = "version_mismatch"
)

func (r *RuntimeError) Error() string {
	return fmt.Sprintf("actorlink: remote error (%s): %s", r.Kind, r.Message)
}

// newRuntimeError builds a RuntimeError of the given kind with a message,
// for handlers producing a Failure response.
func newRuntimeError(kind RuntimeErrorKind, msg string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: msg}
}

// toTransportError converts a RuntimeError received in a response envelope
// into the transport-face vocabulary, per spec.md §4.8's propagation
// policy: "errors flowing back from a remote peer arrive as runtime-face
// variants and are converted to transport-face at the kernel/call
// boundary so callers see a single vocabulary."
func toTransportError(re *RuntimeError) error {
	if re == nil {
		return nil
	}
	switch re.Kind {
	case RuntimeActorNotFound:
		id, err := uuid.Parse(re.Name)
		if err != nil {
			return &RpcFailedError{Msg: re.Message}
		}
		return &ActorNotFoundError{ID: id}
	case RuntimeActorDeallocated:
		return &RpcFailedError{Msg: "actor deallocated: " + re.Name}
	case RuntimeMethodNotFound:
		return &MethodNotSupportedError{Name: re.Name}
	case RuntimeTimeout:
		return ErrConnectionTimeout
	case RuntimeVersionMismatch:
		return &IncompatibleVersionError{Detected: re.Actual, Required: re.Expected}
	case RuntimeInvalidEnvelope:
		return fmt.Errorf("%w: %s", ErrInvalidData, re.Message)
	case RuntimeSerializationFail:
		return fmt.Errorf("%w: %s", ErrInvalidData, re.Message)
	case RuntimeTransportFailed:
		return &RpcFailedError{Msg: re.Message}
	case RuntimeExecutionFailed:
		return &RpcFailedError{Msg: fmt.Sprintf("%s (%s)", re.Message, re.Underlying)}
	default:
		return &RpcFailedError{Msg: re.Message}
	}
}

// toRuntimeError converts a local error encountered while dispatching an
// incoming invocation (C7.handle_incoming) into the wire-crossing face, so
// it can be embedded in a ResponseEnvelope's Failure variant.
func toRuntimeError(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	var notFound *ActorNotFoundError
	if errors.As(err, &notFound) {
		return &RuntimeError{Kind: RuntimeActorNotFound, Name: notFound.ID.String(), Message: err.Error()}
	}
	var noMethod *MethodNotSupportedError
	if errors.As(err, &noMethod) {
		return &RuntimeError{Kind: RuntimeMethodNotFound, Name: noMethod.Name, Message: err.Error()}
	}
	var verMismatch *IncompatibleVersionError
	if errors.As(err, &verMismatch) {
		return &RuntimeError{Kind: RuntimeVersionMismatch, Expected: verMismatch.Required, Actual: verMismatch.Detected}
	}
	if errors.Is(err, ErrInvalidData) {
		return &RuntimeError{Kind: RuntimeInvalidEnvelope, Message: err.Error()}
	}
	return &RuntimeError{Kind: RuntimeExecutionFailed, Message: "execution failed", Underlying: err.Error()}
}
