package actorlink

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInvocationRoundTrip(t *testing.T) {
	env := InvocationEnvelope{
		CallID:      NewCallId(),
		RecipientID: NewActorId(),
		Target:      Target("Greeter", "greet"),
		Args:        json.RawMessage(`{"name":"world"}`),
	}
	data, err := EncodeInvocation(env)
	require.NoError(t, err)

	decoded, err := DecodeInvocation(data)
	require.NoError(t, err)
	require.Equal(t, env.CallID, decoded.CallID)
	require.Equal(t, env.RecipientID, decoded.RecipientID)
	require.Equal(t, env.Target, decoded.Target)
	require.Equal(t, EnvelopeVersion, decoded.Version)
	require.JSONEq(t, string(env.Args), string(decoded.Args))
}

func TestDecodeInvocationVersionMismatch(t *testing.T) {
	env := InvocationEnvelope{CallID: NewCallId(), RecipientID: NewActorId(), Target: "T.m", Version: EnvelopeVersion + 1}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecodeInvocation(data)
	var runtimeErr *RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	require.Equal(t, RuntimeVersionMismatch, runtimeErr.Kind)
}

func TestResponseEnvelopeVariants(t *testing.T) {
	callID := NewCallId()

	success, err := successEnvelope(callID, map[string]int{"value": 7})
	require.NoError(t, err)
	data, err := EncodeResponse(success)
	require.NoError(t, err)
	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, decoded.Result)
	require.JSONEq(t, `{"value":7}`, string(decoded.Success))

	void := voidEnvelope(callID)
	require.Equal(t, ResultVoid, void.Result)
	require.Nil(t, void.Success)

	failure := failureEnvelope(callID, newRuntimeError(RuntimeMethodNotFound, "no such method"))
	require.Equal(t, ResultFailure, failure.Result)
	require.Equal(t, RuntimeMethodNotFound, failure.Failure.Kind)
}

func TestDeriveServiceAndCharacteristicIdsAreStableAndDistinct(t *testing.T) {
	svc1 := DeriveServiceId("Greeter")
	svc2 := DeriveServiceId("Greeter")
	char := DeriveCharacteristicId("Greeter")

	require.Equal(t, svc1, svc2, "derivation must be deterministic for the same type name")
	require.NotEqual(t, svc1, char, "service and characteristic ids must never collide")
	require.NotEqual(t, svc1, DeriveServiceId("Counter"))
}
