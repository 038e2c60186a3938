package actorlink

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFragmentRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("actor-rpc-payload-"), 50)
	packets := Fragment(payload, 64)
	require.Greater(t, len(packets), 1)

	cfg, err := NewConfig()
	require.NoError(t, err)
	rea := NewReassembler(cfg)
	defer rea.Close()

	peer := NewActorId()
	var assembled []byte
	var complete bool
	for _, pkt := range packets {
		assembled, complete = rea.Insert(peer, pkt)
	}
	require.True(t, complete)
	require.Equal(t, payload, assembled)
}

func TestFragmentOutOfOrder(t *testing.T) {
	payload := []byte("order independence within one reassembly group")
	packets := Fragment(payload, 32)
	require.Greater(t, len(packets), 2)

	cfg, err := NewConfig()
	require.NoError(t, err)
	rea := NewReassembler(cfg)
	defer rea.Close()

	peer := NewActorId()
	reversed := make([]Packet, len(packets))
	for i, p := range packets {
		reversed[len(packets)-1-i] = p
	}

	var assembled []byte
	var complete bool
	for _, pkt := range reversed {
		assembled, complete = rea.Insert(peer, pkt)
	}
	require.True(t, complete)
	require.Equal(t, payload, assembled)
}

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	pkt := Packet{MsgID: NewMsgId(), Seq: 1, Total: 3, Payload: []byte("hello")}
	var buf bytes.Buffer
	EncodePacket(&buf, pkt)

	decoded, err := DecodePacket(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, pkt.MsgID, decoded.MsgID)
	require.Equal(t, pkt.Seq, decoded.Seq)
	require.Equal(t, pkt.Total, decoded.Total)
	require.Equal(t, pkt.Payload, decoded.Payload)
}

func TestDecodePacketChecksumMismatch(t *testing.T) {
	pkt := Packet{MsgID: NewMsgId(), Seq: 0, Total: 1, Payload: []byte("integrity")}
	var buf bytes.Buffer
	EncodePacket(&buf, pkt)

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := DecodePacket(corrupted)
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestDecodePacketShortHeader(t *testing.T) {
	_, err := DecodePacket([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestReassemblerEvictPeerDropsEntriesAndMTU(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	rea := NewReassembler(cfg)
	defer rea.Close()

	peer := NewActorId()
	rea.SetMTU(peer, 100)
	require.True(t, rea.HasMTU(peer))

	packets := Fragment([]byte("partial message that never completes, across two fragments"), 64)
	require.Greater(t, len(packets), 1)
	_, complete := rea.Insert(peer, packets[0])
	require.False(t, complete)

	rea.EvictPeer(peer)
	require.False(t, rea.HasMTU(peer))

	// The in-flight entry for this peer is gone too: feeding the remaining
	// fragment starts a brand new (still incomplete) entry rather than
	// completing the evicted one.
	_, complete = rea.Insert(peer, packets[1])
	require.False(t, complete)
}

func TestReassemblerGCSweepsExpiredEntries(t *testing.T) {
	cfg, err := NewConfig(WithReassemblyTimeout(20*time.Millisecond), WithCleanupInterval(5*time.Millisecond))
	require.NoError(t, err)
	rea := NewReassembler(cfg)
	defer rea.Close()

	peer := NewActorId()
	packets := Fragment([]byte("this message will never complete before GC sweeps it"), 16)
	require.Greater(t, len(packets), 1)
	_, complete := rea.Insert(peer, packets[0])
	require.False(t, complete)

	require.Eventually(t, func() bool {
		rea.mu.Lock()
		_, stillPresent := rea.entries[packets[0].MsgID]
		rea.mu.Unlock()
		return !stillPresent
	}, 200*time.Millisecond, 10*time.Millisecond, "GC should evict the partial entry once its deadline passes")
}
