package actorlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Packet is one on-the-wire fragment, exactly as spec.md §4.2 defines it:
// a 24-byte big-endian header (msg_id, seq, total, checksum) followed by
// the fragment's payload. Framing follows the teacher's BuildFrame/
// bytes.Buffer style in frame.go, generalized from a 5-byte length+type
// header to the spec's 24-byte reassembly header.
type Packet struct {
	MsgID    uuid.UUID
	Seq      uint16
	Total    uint16
	Checksum uint32
	Payload  []byte
}

// checksum computes the modular sum of payload bytes as u32, wrapping on
// overflow. Non-cryptographic: its only job is to catch framing-layer
// corruption within one reassembly group (spec.md §4.2).
func checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// EncodePacket appends p's wire representation to buf. Caller must ensure
// buf is protected from concurrent access, as with the teacher's
// BuildFrame.
func EncodePacket(buf *bytes.Buffer, p Packet) {
	buf.Grow(FrameHeaderSize + len(p.Payload))
	idBytes, _ := p.MsgID.MarshalBinary()
	buf.Write(idBytes)
	var rest [8]byte
	binary.BigEndian.PutUint16(rest[0:2], p.Seq)
	binary.BigEndian.PutUint16(rest[2:4], p.Total)
	binary.BigEndian.PutUint32(rest[4:8], checksum(p.Payload))
	buf.Write(rest[:])
	buf.Write(p.Payload)
}

// DecodePacket attempts to parse data as a single Packet. It fails if the
// header doesn't fit, the checksum doesn't match, or seq/total are
// inconsistent — in all of those cases the caller should fall back to
// treating data as a raw, unfragmented message (spec.md §4.2's backward
// path for un-fragmented senders).
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < FrameHeaderSize {
		return Packet{}, fmt.Errorf("%w: short packet header", ErrInvalidData)
	}
	var msgID uuid.UUID
	if err := msgID.UnmarshalBinary(data[0:16]); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	seq := binary.BigEndian.Uint16(data[16:18])
	total := binary.BigEndian.Uint16(data[18:20])
	sum := binary.BigEndian.Uint32(data[20:24])
	payload := data[24:]

	if total < 1 || seq >= total {
		return Packet{}, fmt.Errorf("%w: seq %d out of range for total %d", ErrInvalidData, seq, total)
	}
	if checksum(payload) != sum {
		return Packet{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidData)
	}
	return Packet{MsgID: msgID, Seq: seq, Total: total, Checksum: sum, Payload: payload}, nil
}

// payloadSize returns the per-packet payload capacity for a given peer
// MTU, per spec.md §4.2: max(1, mtu-24).
func payloadSize(mtu int) int {
	n := mtu - FrameHeaderSize
	if n < 1 {
		return 1
	}
	return n
}

// Fragment splits payload into a sequence of framed packets sized for
// mtu. A single-packet message is still framed (total=1, seq=0) so the
// inbound side can parse it unambiguously, per spec.md §4.2.
func Fragment(payload []byte, mtu int) []Packet {
	size := payloadSize(mtu)
	msgID := NewMsgId()

	if len(payload) == 0 {
		return []Packet{{MsgID: msgID, Seq: 0, Total: 1, Payload: nil}}
	}

	total := (len(payload) + size - 1) / size
	packets := make([]Packet, 0, total)
	for seq := 0; seq < total; seq++ {
		start := seq * size
		end := min(start+size, len(payload))
		packets = append(packets, Packet{
			MsgID: msgID,
			Seq:   uint16(seq),
			Total: uint16(total),
			Payload: payload[start:end],
		})
	}
	return packets
}

// reassemblyEntry tracks the fragments received so far for one msg_id.
// Owned exclusively by Reassembler (spec.md §3).
type reassemblyEntry struct {
	total     uint16
	received  map[uint16][]byte
	peer      ActorId
	startTime time.Time
}

func (e *reassemblyEntry) complete() bool { return uint16(len(e.received)) == e.total }

func (e *reassemblyEntry) assemble() []byte {
	var buf bytes.Buffer
	for seq := uint16(0); seq < e.total; seq++ {
		buf.Write(e.received[seq])
	}
	return buf.Bytes()
}

// Reassembler owns all reassembly entries and per-peer MTU state (C2 in
// spec.md §3 — "C2 exclusively owns reassembly entries and per-peer MTU
// state"). Safe for concurrent use; a background goroutine evicts entries
// whose deadline has passed.
type Reassembler struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*reassemblyEntry
	mtu     map[ActorId]int

	reassemblyTimeout time.Duration
	cleanupInterval   time.Duration
	defaultMTU        int
	metrics           Metrics

	stop chan struct{}
	once sync.Once
}

// NewReassembler builds a Reassembler from cfg and starts its background
// GC sweep. Call Close to stop the sweep.
func NewReassembler(cfg *Config) *Reassembler {
	r := &Reassembler{
		entries:           make(map[uuid.UUID]*reassemblyEntry),
		mtu:               make(map[ActorId]int),
		reassemblyTimeout: cfg.reassemblyTimeout,
		cleanupInterval:   cfg.cleanupInterval,
		defaultMTU:        cfg.defaultWriteLen,
		metrics:           cfg.metrics,
		stop:              make(chan struct{}),
	}
	go r.gcLoop(cfg)
	return r
}

// MTU returns the cached MTU for peer, or the configured default if the
// link hasn't reported one yet.
func (r *Reassembler) MTU(peer ActorId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mtu[peer]; ok {
		return m
	}
	return r.defaultMTU
}

// SetMTU caches the negotiated MTU for peer, refreshed on connection per
// spec.md §3.
func (r *Reassembler) SetMTU(peer ActorId, mtu int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mtu[peer] = mtu
}

// HasMTU reports whether an MTU entry for peer exists — used by the
// "cleanup on failure" testable property in spec.md §8.
func (r *Reassembler) HasMTU(peer ActorId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.mtu[peer]
	return ok
}

// EvictMTU drops the cached MTU for peer.
func (r *Reassembler) EvictMTU(peer ActorId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mtu, peer)
}

// Insert adds pkt to the reassembly table, keyed by its msg_id, tagging
// the entry with the originating peer so EvictPeer can find it later.
// Returns the assembled payload and true once every sequence number in
// [0,total) has arrived; otherwise returns (nil, false) — "pending", per
// spec.md §4.2.
func (r *Reassembler) Insert(peer ActorId, pkt Packet) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[pkt.MsgID]
	if !ok {
		entry = &reassemblyEntry{
			total:     pkt.Total,
			received:  make(map[uint16][]byte, pkt.Total),
			peer:      peer,
			startTime: time.Now(),
		}
		r.entries[pkt.MsgID] = entry
	}
	if _, dup := entry.received[pkt.Seq]; !dup {
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		entry.received[pkt.Seq] = payload
	}

	if !entry.complete() {
		return nil, false
	}

	delete(r.entries, pkt.MsgID)
	if r.metrics != nil {
		r.metrics.IncrementReassembliesCompleted()
	}
	return entry.assemble(), true
}

// EvictPeer discards every in-flight reassembly entry and the cached MTU
// belonging to peer, per spec.md §4.2's "peer disconnect MUST evict all
// reassembly entries for that peer."
func (r *Reassembler) EvictPeer(peer ActorId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.entries {
		if entry.peer == peer {
			delete(r.entries, id)
		}
	}
	delete(r.mtu, peer)
}

// gcLoop periodically discards reassembly entries older than
// reassemblyTimeout.
func (r *Reassembler) gcLoop(cfg *Config) {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cfg.ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(cfg)
		}
	}
}

func (r *Reassembler) sweep(cfg *Config) {
	now := time.Now()
	r.mu.Lock()
	var expired []uuid.UUID
	for id, entry := range r.entries {
		if now.Sub(entry.startTime) > r.reassemblyTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		entry := r.entries[id]
		delete(r.entries, id)
		if r.metrics != nil {
			r.metrics.IncrementReassembliesExpired()
		}
		if cfg.logger != nil {
			logReassemblyTimeout(cfg.logger, id.String(), len(entry.received), int(entry.total))
		}
	}
	r.mu.Unlock()
}

// Close stops the background GC sweep.
func (r *Reassembler) Close() {
	r.once.Do(func() { close(r.stop) })
}
