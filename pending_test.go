package actorlink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPendingTable(t *testing.T) *PendingCallTable {
	t.Helper()
	cfg, err := NewConfig(WithRPCTimeout(time.Second))
	require.NoError(t, err)
	return NewPendingCallTable(cfg)
}

func TestPendingCallStoreResolve(t *testing.T) {
	table := newTestPendingTable(t)
	callID, peerID := NewCallId(), NewActorId()

	ch := table.Store(callID, peerID, 0)
	require.True(t, table.Resolve(callID, []byte(`{"ok":true}`)))

	result := <-ch
	require.NoError(t, result.Err)
	require.JSONEq(t, `{"ok":true}`, string(result.Data))
}

func TestPendingCallCancelBeforeStoreResolvesImmediately(t *testing.T) {
	table := newTestPendingTable(t)
	callID, peerID := NewCallId(), NewActorId()
	wantErr := errors.New("boom")

	// The race spec.md calls out: cancel arrives before the matching store.
	table.Cancel(callID, wantErr)

	ch := table.Store(callID, peerID, time.Hour)
	select {
	case result := <-ch:
		require.ErrorIs(t, result.Err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("store did not resolve immediately from the pre-resolution")
	}
}

func TestPendingCallTimeout(t *testing.T) {
	table := newTestPendingTable(t)
	callID, peerID := NewCallId(), NewActorId()

	ch := table.Store(callID, peerID, 10*time.Millisecond)
	select {
	case result := <-ch:
		require.ErrorIs(t, result.Err, ErrConnectionTimeout)
	case <-time.After(time.Second):
		t.Fatal("pending call did not time out")
	}
}

func TestPendingCallCancelOldestForPeerFIFO(t *testing.T) {
	table := newTestPendingTable(t)
	peerID := NewActorId()

	first, second := NewCallId(), NewCallId()
	chFirst := table.Store(first, peerID, time.Hour)
	chSecond := table.Store(second, peerID, time.Hour)

	wantErr := errors.New("link dropped an unkeyed frame")
	require.True(t, table.CancelOldestForPeer(peerID, wantErr))

	select {
	case result := <-chFirst:
		require.ErrorIs(t, result.Err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("oldest call was not cancelled")
	}

	select {
	case <-chSecond:
		t.Fatal("second call should remain pending")
	default:
	}
}

func TestPendingCallCancelAllForPeerIsolatesOtherPeers(t *testing.T) {
	table := newTestPendingTable(t)
	peerA, peerB := NewActorId(), NewActorId()
	callA, callB := NewCallId(), NewCallId()

	chA := table.Store(callA, peerA, time.Hour)
	chB := table.Store(callB, peerB, time.Hour)

	table.CancelAllForPeer(peerA, ErrDisconnected)

	select {
	case result := <-chA:
		require.ErrorIs(t, result.Err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("peer A's call should have been cancelled")
	}

	select {
	case <-chB:
		t.Fatal("peer B's call must not be affected by peer A's disconnect")
	default:
	}
}
