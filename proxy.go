package actorlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"
)

// Proxy is C6's entity (spec.md §4.6): a live, connected handle to one
// remote actor. Created only after discovery, characteristic discovery,
// and notification-enable have all succeeded.
type Proxy struct {
	PeerID   ActorId
	RPCChar  CharacteristicId
	TypeTag  string
	Central  Central
}

// ProxyManager owns every live Proxy and drives the connect/discover/
// subscribe transaction and its inverse teardown (spec.md §4.6).
// Exclusively owns the proxy table; C4, C5, and C2 are reached through
// their own interfaces during setup and teardown, never mutated directly.
type ProxyManager struct {
	mu      sync.Mutex
	proxies map[ActorId]*Proxy

	central Central
	rea     *Reassembler
	pending *PendingCallTable
	reg     *Registry

	discoveryTimeout  time.Duration
	connectionTimeout time.Duration
	logger            *slog.Logger
	metrics           Metrics
}

// NewProxyManager builds a ProxyManager wired to the given central role and
// its sibling components.
func NewProxyManager(central Central, rea *Reassembler, pending *PendingCallTable, reg *Registry, cfg *Config) *ProxyManager {
	return &ProxyManager{
		proxies:           make(map[ActorId]*Proxy),
		central:           central,
		rea:               rea,
		pending:           pending,
		reg:               reg,
		discoveryTimeout:  cfg.discoveryTimeout,
		connectionTimeout: cfg.connectionTimeout,
		logger:            cfg.logger,
		metrics:           cfg.metrics,
	}
}

// Get returns the live proxy for peerID, if any.
func (m *ProxyManager) Get(peerID ActorId) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[peerID]
	return p, ok
}

// Setup runs the three-phase connect transaction for peerID against actor
// type typeName, per spec.md §4.6. A no-op if a proxy for peerID already
// exists (idempotence requirement).
func (m *ProxyManager) Setup(ctx context.Context, peerID ActorId, typeName string) (*Proxy, error) {
	if p, ok := m.Get(peerID); ok {
		return p, nil
	}

	trace := newTraceID()

	connectCtx, cancel := context.WithTimeout(ctx, m.connectionTimeout)
	defer cancel()
	if err := m.central.Connect(connectCtx, peerID, m.connectionTimeout); err != nil {
		logDiscoveryFailure(m.logger, trace, peerID, typeName, err)
		return nil, &ConnectionFailedError{Msg: err.Error()}
	}

	// Phase 1: discovery. Any failure here requires a disconnect and no
	// registration (spec.md §4.6).
	proxy, err := m.discover(ctx, peerID, typeName, trace)
	if err != nil {
		_ = m.central.Disconnect(peerID)
		logDiscoveryFailure(m.logger, trace, peerID, typeName, err)
		return nil, err
	}

	if mtu, ok := m.central.MaxWriteValueLength(peerID, WriteWithResponse); ok {
		m.rea.SetMTU(peerID, mtu)
	}

	// Phase 2: enable notifications.
	subCtx, subCancel := context.WithTimeout(ctx, m.discoveryTimeout)
	defer subCancel()
	if err := m.central.SetNotifyValue(subCtx, true, proxy.RPCChar, peerID); err != nil {
		_ = m.central.Disconnect(peerID)
		m.rea.EvictMTU(peerID)
		logDiscoveryFailure(m.logger, trace, peerID, typeName, err)
		return nil, &ConnectionFailedError{Msg: err.Error()}
	}

	// Phase 3: register proxy, then the actor record. Only after this does
	// the reference become visible to the caller.
	m.mu.Lock()
	m.proxies[peerID] = proxy
	m.mu.Unlock()

	if err := m.reg.RegisterRemote(peerID, peerID, typeName); err != nil {
		m.teardownLocked(peerID)
		return nil, err
	}

	logDiscoverySuccess(m.logger, trace, peerID, typeName)
	return proxy, nil
}

func (m *ProxyManager) discover(ctx context.Context, peerID ActorId, typeName string, trace traceID) (*Proxy, error) {
	svcID := DeriveServiceId(typeName)
	charID := DeriveCharacteristicId(typeName)

	discCtx, cancel := context.WithTimeout(ctx, m.discoveryTimeout)
	defer cancel()

	services, err := m.central.DiscoverServices(discCtx, peerID, []ServiceId{svcID})
	if err != nil {
		return nil, &ConnectionFailedError{Msg: err.Error()}
	}
	if len(services) == 0 {
		return nil, &ServiceNotFoundError{ID: svcID}
	}

	chars, err := m.central.DiscoverCharacteristics(discCtx, svcID, peerID, []CharacteristicId{charID})
	if err != nil {
		return nil, &ConnectionFailedError{Msg: err.Error()}
	}
	if len(chars) == 0 {
		return nil, &CharacteristicNotFoundError{ID: charID}
	}

	return &Proxy{PeerID: peerID, RPCChar: charID, TypeTag: typeName, Central: m.central}, nil
}

// Discover runs ScanFor and, for each hit, the full setup transaction.
// Failed peers are logged and skipped; successful peers come back
// connected and ready for immediate use — the first RPC on a returned
// peer id MUST succeed (spec.md §4.6).
func (m *ProxyManager) Discover(ctx context.Context, typeName string, timeout time.Duration) ([]ActorId, error) {
	svcID := DeriveServiceId(typeName)
	hits, err := m.central.ScanFor(ctx, []ServiceId{svcID}, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBluetoothUnavailable, err)
	}

	var ready []ActorId
	for hit := range hits {
		if _, err := m.Setup(ctx, hit.Peer, typeName); err != nil {
			continue
		}
		ready = append(ready, hit.Peer)
	}
	return ready, nil
}

// Teardown runs disconnect(peer_id): cancels all pending calls for that
// peer, evicts the proxy, evicts actor records owned by the peer, evicts
// the MTU entry, and commands the link to disconnect (spec.md §4.6).
func (m *ProxyManager) Teardown(peerID ActorId, cause error) {
	if cause == nil {
		cause = ErrDisconnected
	}
	m.pending.CancelAllForPeer(peerID, cause)
	m.teardownLocked(peerID)
	_ = m.central.Disconnect(peerID)
	logConnectionStateChange(m.logger, peerID, "disconnected")
}

func (m *ProxyManager) teardownLocked(peerID ActorId) {
	m.mu.Lock()
	delete(m.proxies, peerID)
	m.mu.Unlock()
	m.reg.UnregisterPeer(peerID)
	m.rea.EvictPeer(peerID)
}
