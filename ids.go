package actorlink

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ActorId is a 128-bit opaque identifier, unique per actor instance and
// stable for the actor's lifetime. When the actor is remote, it doubles as
// the link-layer peer identifier.
type ActorId = uuid.UUID

// ServiceId identifies a peer's advertised endpoint for one actor type.
type ServiceId = uuid.UUID

// CharacteristicId identifies the distinguished RPC characteristic that
// carries all in-band traffic for an actor type.
type CharacteristicId = uuid.UUID

// idNamespace roots the deterministic service/characteristic id derivation.
// Any fixed namespace works as long as both ends of a connection compute
// ids the same way (spec requirement); this one has no meaning beyond
// being a stable constant for this module.
var idNamespace = uuid.MustParse("6f9c2b2e-6e8a-4e33-9d9a-6b7b9a2f9b10")

// rpcCharacteristicSuffix names the RPC characteristic derivation input,
// matching the "__rpc__" convention named in spec.md §6.
const rpcCharacteristicSuffix = "__rpc__"

// NewActorId mints a fresh actor identity.
func NewActorId() ActorId { return uuid.New() }

// NewCallId mints a fresh call correlation id.
func NewCallId() uuid.UUID { return uuid.New() }

// NewMsgId mints a fresh fragmentation message id.
func NewMsgId() uuid.UUID { return uuid.New() }

// DeriveServiceId computes the 128-bit service id for an actor type from
// its declared type name. The mapping is a stable hash into UUID space
// (SHA-1-based, version 5) so that a central and a peripheral compute the
// identical id without any prior handshake.
func DeriveServiceId(typeName string) ServiceId {
	return uuid.NewSHA1(idNamespace, []byte(typeName))
}

// DeriveCharacteristicId computes the id of the RPC characteristic for an
// actor type, derived the same way as DeriveServiceId but salted with the
// "__rpc__" suffix so it never collides with the service id itself.
func DeriveCharacteristicId(typeName string) CharacteristicId {
	return uuid.NewSHA1(idNamespace, []byte(typeName+rpcCharacteristicSuffix))
}

var traceSeq atomic.Uint64

// nextTraceSeq gives observability.go a monotonic fallback ordering hint
// when two trace ids are generated within the same xid tick.
func nextTraceSeq() uint64 { return traceSeq.Add(1) }
