package actorlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
)

// PayloadCipher is an optional interposition point for encrypting
// invocation/response bytes before fragmentation and after reassembly.
// The mandatory core RPC path (spec.md §1/§9 scope the link's own
// security model out of this module) never constructs one; a caller that
// wants payload confidentiality over an insecure link wraps its own
// sendToPeer/replyToSender path with one, which is why Encrypt/Decrypt
// operate on already-encoded envelope bytes rather than on
// the Packet or Runtime types directly.
type PayloadCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// noiseOverhead is the encryption overhead: 4-byte length prefix + 16-byte
// AES-GCM tag.
const noiseOverhead = 4 + 16

var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var (
	ErrHandshakeFailed     = errors.New("actorlink: handshake failed")
	ErrHandshakeIncomplete = errors.New("actorlink: handshake not complete")
	ErrDecryptionFailed    = errors.New("actorlink: decryption failed")
)

// NoiseCipher implements PayloadCipher over a completed Noise NN handshake
// (no static keys — an anonymous, unauthenticated channel suited to a
// discovery-only pairing model where neither side has a prior identity).
type NoiseCipher struct {
	hs          *noise.HandshakeState
	send, recv  *noise.CipherState
	isInitiator bool
}

// NewNoiseInitiator begins a Noise NN handshake as the calling side.
func NewNoiseInitiator() (*NoiseCipher, error) {
	hs, err := noise.NewHandshakeState(noise.Config{CipherSuite: noiseCipherSuite, Pattern: noise.HandshakeNN, Initiator: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return &NoiseCipher{hs: hs, isInitiator: true}, nil
}

// NewNoiseResponder begins a Noise NN handshake as the callee side.
func NewNoiseResponder() (*NoiseCipher, error) {
	hs, err := noise.NewHandshakeState(noise.Config{CipherSuite: noiseCipherSuite, Pattern: noise.HandshakeNN, Initiator: false})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return &NoiseCipher{hs: hs, isInitiator: false}, nil
}

// WriteMessage produces the next handshake message carrying payload.
func (n *NoiseCipher) WriteMessage(payload []byte) ([]byte, error) {
	msg, cs1, cs2, err := n.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if cs1 != nil && cs2 != nil {
		n.send, n.recv = cs1, cs2
	}
	return msg, nil
}

// ReadMessage consumes a handshake message from the peer.
func (n *NoiseCipher) ReadMessage(msg []byte) ([]byte, error) {
	payload, cs1, cs2, err := n.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if cs1 != nil && cs2 != nil {
		n.send, n.recv = cs1, cs2
	}
	return payload, nil
}

// IsComplete reports whether both cipher states are established.
func (n *NoiseCipher) IsComplete() bool { return n.send != nil && n.recv != nil }

// Encrypt seals plaintext and prefixes a 4-byte big-endian length, ready
// to hand to Fragment as a single message.
func (n *NoiseCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if !n.IsComplete() {
		return nil, ErrHandshakeIncomplete
	}
	cs := n.send
	if !n.isInitiator {
		cs = n.recv
	}
	ciphertext, err := cs.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	out := make([]byte, 4+len(ciphertext))
	binary.BigEndian.PutUint32(out[:4], uint32(len(ciphertext)))
	copy(out[4:], ciphertext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (n *NoiseCipher) Decrypt(data []byte) ([]byte, error) {
	if !n.IsComplete() {
		return nil, ErrHandshakeIncomplete
	}
	if len(data) < 4 {
		return nil, io.ErrShortBuffer
	}
	length := int(binary.BigEndian.Uint32(data[:4]))
	if len(data) < 4+length {
		return nil, io.ErrShortBuffer
	}
	cs := n.recv
	if !n.isInitiator {
		cs = n.send
	}
	plaintext, err := cs.Decrypt(nil, nil, data[4:4+length])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
