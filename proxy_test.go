package actorlink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProxyManager(t *testing.T) (*ProxyManager, Peripheral) {
	t.Helper()
	cfg, err := NewConfig(WithRPCTimeout(time.Second))
	require.NoError(t, err)

	peripheral, err := NewPeripheral(LoopbackDriverName, cfg)
	require.NoError(t, err)
	require.NoError(t, peripheral.Initialize(context.Background()))
	_, err = peripheral.WaitPoweredOn(context.Background())
	require.NoError(t, err)

	central, err := NewCentral(LoopbackDriverName, cfg)
	require.NoError(t, err)

	rea := NewReassembler(cfg)
	pending := NewPendingCallTable(cfg)
	reg := NewRegistry()
	return NewProxyManager(central, rea, pending, reg, cfg), peripheral
}

func advertiseGreeter(t *testing.T, peripheral Peripheral) {
	t.Helper()
	svcID := DeriveServiceId("Greeter")
	charID := DeriveCharacteristicId("Greeter")
	require.NoError(t, peripheral.AddService(ServiceMetadata{
		ID: svcID,
		Characteristics: []CharMetadata{
			{ID: charID, Properties: CharPropertyWrite | CharPropertyNotify},
		},
	}))
	require.NoError(t, peripheral.StartAdvertising(AdvertisementData{ServiceID: svcID, LocalName: "Greeter"}))
}

func TestProxyManagerSetupIsIdempotent(t *testing.T) {
	pm, peripheral := newTestProxyManager(t)
	defer peripheral.Close()
	advertiseGreeter(t, peripheral)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := pm.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	first, err := pm.Setup(ctx, peers[0], "Greeter")
	require.NoError(t, err)

	second, err := pm.Setup(ctx, peers[0], "Greeter")
	require.NoError(t, err)
	require.Same(t, first, second, "a second Setup on an already-live peer must return the existing proxy, not rebuild it")
}

func TestProxyManagerSetupFailsWithoutRegisteringOnMissingCharacteristic(t *testing.T) {
	pm, peripheral := newTestProxyManager(t)
	defer peripheral.Close()

	svcID := DeriveServiceId("Greeter")
	require.NoError(t, peripheral.AddService(ServiceMetadata{ID: svcID}))
	require.NoError(t, peripheral.StartAdvertising(AdvertisementData{ServiceID: svcID, LocalName: "Greeter"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := pm.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Empty(t, peers, "discovery must skip a peer whose characteristic never shows up, leaving no half-built proxy")

	_, ok := pm.Get(peers2(peers))
	require.False(t, ok)
}

// peers2 tolerates an empty slice so the lookup above stays a no-op rather
// than panicking on out-of-range access.
func peers2(peers []ActorId) ActorId {
	if len(peers) == 0 {
		return ActorId{}
	}
	return peers[0]
}

func TestProxyManagerTeardownEvictsProxyAndPendingCalls(t *testing.T) {
	pm, peripheral := newTestProxyManager(t)
	defer peripheral.Close()
	advertiseGreeter(t, peripheral)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := pm.Discover(ctx, "Greeter", time.Second)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	peer := peers[0]

	ch := pm.pending.Store(NewCallId(), peer, time.Hour)

	pm.Teardown(peer, nil)

	_, ok := pm.Get(peer)
	require.False(t, ok, "teardown must evict the proxy")

	select {
	case result := <-ch:
		require.ErrorIs(t, result.Err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("teardown must cancel pending calls for the torn-down peer")
	}

	// Setup again must be able to rebuild cleanly, proving teardown left
	// no stale state behind.
	again, err := pm.Setup(ctx, peer, "Greeter")
	require.NoError(t, err)
	require.Equal(t, peer, again.PeerID)
}
