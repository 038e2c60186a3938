package actorlink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLocalIdempotent(t *testing.T) {
	reg := NewRegistry()
	id := NewActorId()

	require.NoError(t, reg.RegisterLocal(id, "instance", "Greeter"))
	require.NoError(t, reg.RegisterLocal(id, "instance", "Greeter"))

	rec, ok := reg.Find(id)
	require.True(t, ok)
	require.Equal(t, ActorKindLocal, rec.Kind)
}

func TestRegistryRejectsConflictingKind(t *testing.T) {
	reg := NewRegistry()
	id := NewActorId()
	require.NoError(t, reg.RegisterLocal(id, "instance", "Greeter"))

	err := reg.RegisterRemote(id, NewActorId(), "Greeter")
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestRegistryGetAllOfType(t *testing.T) {
	reg := NewRegistry()
	a, b, c := NewActorId(), NewActorId(), NewActorId()
	require.NoError(t, reg.RegisterLocal(a, nil, "Greeter"))
	require.NoError(t, reg.RegisterLocal(b, nil, "Greeter"))
	require.NoError(t, reg.RegisterLocal(c, nil, "Counter"))

	greeters := reg.GetAllOfType("Greeter")
	require.Len(t, greeters, 2)

	counters := reg.GetAllOfType("Counter")
	require.Len(t, counters, 1)
}

func TestRegistryUnregisterPeerEvictsOnlyThatPeersRemotes(t *testing.T) {
	reg := NewRegistry()
	peerA, peerB := NewActorId(), NewActorId()
	remoteA1, remoteA2, remoteB := NewActorId(), NewActorId(), NewActorId()

	require.NoError(t, reg.RegisterRemote(remoteA1, peerA, "Greeter"))
	require.NoError(t, reg.RegisterRemote(remoteA2, peerA, "Counter"))
	require.NoError(t, reg.RegisterRemote(remoteB, peerB, "Greeter"))

	removed := reg.UnregisterPeer(peerA)
	require.ElementsMatch(t, []ActorId{remoteA1, remoteA2}, removed)

	_, ok := reg.Find(remoteA1)
	require.False(t, ok)
	_, ok = reg.Find(remoteB)
	require.True(t, ok, "peer B's actor record must survive peer A's eviction")
}
