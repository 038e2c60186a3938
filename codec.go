package actorlink

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EnvelopeVersion is the protocol major version this codec produces and
// accepts. spec.md §4.3 requires schema compatibility across versions that
// share a major version; this module ships exactly one, per the open
// question in spec.md §9 ("pick one envelope shape and version it").
const EnvelopeVersion uint32 = 1

// InvocationEnvelope is the self-describing wire form of a remote method
// call (spec.md §3/§4.3). Args is carried as opaque, already-encoded
// bytes: the codec does not know or care what argument type produced
// them, only that the caller and callee agree on it.
type InvocationEnvelope struct {
	CallID      uuid.UUID  `json:"call_id"`
	SenderID    *uuid.UUID `json:"sender_id,omitempty"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	Target      string     `json:"target"`
	Args        json.RawMessage `json:"args"`
	Version     uint32     `json:"version"`
}

// ResultKind tags which variant of ResponseEnvelope.Result is populated.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultVoid    ResultKind = "void"
	ResultFailure ResultKind = "failure"
)

// ResponseEnvelope is the self-describing wire form of an RPC's outcome
// (spec.md §3/§4.3).
type ResponseEnvelope struct {
	CallID  uuid.UUID       `json:"call_id"`
	Result  ResultKind      `json:"result"`
	Success json.RawMessage `json:"success,omitempty"`
	Failure *RuntimeError   `json:"failure,omitempty"`
}

// EncodeInvocation serializes an invocation envelope. JSON is the
// self-describing format this codec standardizes on (spec.md §4.3 allows
// "JSON or a tag-length-value binary form"; the teacher already encodes
// its SessionTokens as JSON across the wire in aznet.go, so this keeps the
// teacher's convention rather than introducing a second encoder).
func EncodeInvocation(env InvocationEnvelope) ([]byte, error) {
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return data, nil
}

// DecodeInvocation parses an invocation envelope and checks its major
// version. A decode failure or version mismatch becomes a runtime-face
// error per spec.md §4.3, ready to be embedded in a Failure response or
// surfaced locally depending on which side is decoding.
func DecodeInvocation(data []byte) (InvocationEnvelope, error) {
	var env InvocationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InvocationEnvelope{}, &RuntimeError{Kind: RuntimeInvalidEnvelope, Message: err.Error()}
	}
	if env.Version != EnvelopeVersion {
		return InvocationEnvelope{}, &RuntimeError{
			Kind: RuntimeVersionMismatch, Expected: EnvelopeVersion, Actual: env.Version,
		}
	}
	return env, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(env ResponseEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return data, nil
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return env, nil
}

// Target builds the "TypeName.methodName" convention named in spec.md
// §4.3, the opaque string both sides of a call must agree on.
func Target(typeName, method string) string {
	return typeName + "." + method
}

// successEnvelope builds a Success response for callID.
func successEnvelope(callID uuid.UUID, result any) (ResponseEnvelope, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return ResponseEnvelope{CallID: callID, Result: ResultSuccess, Success: data}, nil
}

// voidEnvelope builds a Void response for callID.
func voidEnvelope(callID uuid.UUID) ResponseEnvelope {
	return ResponseEnvelope{CallID: callID, Result: ResultVoid}
}

// failureEnvelope builds a Failure response for callID.
func failureEnvelope(callID uuid.UUID, re *RuntimeError) ResponseEnvelope {
	return ResponseEnvelope{CallID: callID, Result: ResultFailure, Failure: re}
}
