package actorlink

import (
	"context"
	"sync"
	"time"
)

// LoopbackDriverName is the registered name of the in-process link used by
// this module's own tests, and by any caller exercising the kernel
// without a real BLE stack.
const LoopbackDriverName = "loopback"

func init() {
	hub := newLoopbackHub()
	RegisterPeripheralFactory(LoopbackDriverName, hub)
	RegisterCentralFactory(LoopbackDriverName, hub)
}

// loopbackHub is both factories for the loopback driver. It plays the part
// of the air between a real peripheral and a real central: every
// peripheral and central constructed against it gets its own identity and
// registers with the hub, the cooperative-scheduling bridge spec.md §9
// describes for a callback-centric driver ("run the driver on its own
// serial queue and translate each callback into a message on a bounded
// channel"). A central can discover and connect to any peripheral
// advertising through the same hub, matching real BLE's broadcast model
// rather than pairing exactly one peripheral to exactly one central.
type loopbackHub struct {
	mu          sync.Mutex
	peripherals map[ActorId]*loopbackPeripheral
	centrals    map[ActorId]*loopbackCentral
	active      map[ActorId]AdvertisementData
}

func newLoopbackHub() *loopbackHub {
	return &loopbackHub{
		peripherals: make(map[ActorId]*loopbackPeripheral),
		centrals:    make(map[ActorId]*loopbackCentral),
		active:      make(map[ActorId]AdvertisementData),
	}
}

func (h *loopbackHub) NewPeripheral(cfg *Config) (Peripheral, error) {
	p := &loopbackPeripheral{id: NewActorId(), hub: h, events: make(chan PeripheralEvent, 64)}
	h.mu.Lock()
	h.peripherals[p.id] = p
	h.mu.Unlock()
	return p, nil
}

func (h *loopbackHub) NewCentral(cfg *Config) (Central, error) {
	c := &loopbackCentral{id: NewActorId(), hub: h, events: make(chan CentralEvent, 64), connected: make(map[ActorId]bool)}
	h.mu.Lock()
	h.centrals[c.id] = c
	h.mu.Unlock()
	return c, nil
}

// broadcastAdvertisement pushes a discovery event to every central
// currently registered with the hub.
func (h *loopbackHub) broadcastAdvertisement(peripheralID ActorId, adv AdvertisementData) {
	h.mu.Lock()
	centrals := make([]*loopbackCentral, 0, len(h.centrals))
	for _, c := range h.centrals {
		centrals = append(centrals, c)
	}
	h.mu.Unlock()

	for _, c := range centrals {
		select {
		case c.events <- CentralEvent{Kind: CentralPeripheralDiscovered, Peer: peripheralID, Advertisement: adv}:
		default:
		}
	}
}

func (h *loopbackHub) snapshotActive() map[ActorId]AdvertisementData {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[ActorId]AdvertisementData, len(h.active))
	for id, adv := range h.active {
		out[id] = adv
	}
	return out
}

func (h *loopbackHub) peripheralByID(id ActorId) (*loopbackPeripheral, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peripherals[id]
	return p, ok
}

type loopbackSubscription struct {
	char      CharacteristicId
	centralID ActorId
}

type loopbackPeripheral struct {
	id  ActorId
	hub *loopbackHub

	mu          sync.Mutex
	initialized bool
	services    []ServiceMetadata
	advertising bool
	subscribers []loopbackSubscription
	events      chan PeripheralEvent
	closed      bool
}

func (p *loopbackPeripheral) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

func (p *loopbackPeripheral) WaitPoweredOn(ctx context.Context) (LinkState, error) {
	select {
	case p.events <- PeripheralEvent{Kind: PeripheralStateChanged, State: LinkStatePoweredOn}:
	default:
	}
	return LinkStatePoweredOn, nil
}

func (p *loopbackPeripheral) AddService(svc ServiceMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, svc)
	return nil
}

func (p *loopbackPeripheral) StartAdvertising(adv AdvertisementData) error {
	p.mu.Lock()
	p.advertising = true
	p.mu.Unlock()

	p.hub.mu.Lock()
	p.hub.active[p.id] = adv
	p.hub.mu.Unlock()

	p.hub.broadcastAdvertisement(p.id, adv)
	return nil
}

func (p *loopbackPeripheral) StopAdvertising() error {
	p.mu.Lock()
	p.advertising = false
	p.mu.Unlock()
	p.hub.mu.Lock()
	delete(p.hub.active, p.id)
	p.hub.mu.Unlock()
	return nil
}

func (p *loopbackPeripheral) IsAdvertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

func (p *loopbackPeripheral) UpdateValue(data []byte, characteristic CharacteristicId, to []ActorId) (bool, error) {
	p.mu.Lock()
	targets := p.matchingSubscribersLocked(characteristic, to)
	p.mu.Unlock()

	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	for _, centralID := range targets {
		c, ok := p.hub.centrals[centralID]
		if !ok {
			continue
		}
		select {
		case c.events <- CentralEvent{Kind: CentralCharacteristicValueUpdated, Peer: p.id, Characteristic: characteristic, Data: data}:
		default:
		}
	}
	return true, nil
}

func (p *loopbackPeripheral) matchingSubscribersLocked(char CharacteristicId, to []ActorId) []ActorId {
	var out []ActorId
	for _, sub := range p.subscribers {
		if sub.char != char {
			continue
		}
		if to == nil {
			out = append(out, sub.centralID)
			continue
		}
		for _, want := range to {
			if want == sub.centralID {
				out = append(out, sub.centralID)
				break
			}
		}
	}
	return out
}

func (p *loopbackPeripheral) subscribe(centralID ActorId, char CharacteristicId) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, loopbackSubscription{char: char, centralID: centralID})
	p.mu.Unlock()
	select {
	case p.events <- PeripheralEvent{Kind: PeripheralSubscribed, Peer: centralID, Characteristic: char}:
	default:
	}
}

func (p *loopbackPeripheral) receiveWrite(centralID ActorId, char CharacteristicId, data []byte) {
	select {
	case p.events <- PeripheralEvent{Kind: PeripheralWriteRequestReceived, Peer: centralID, Characteristic: char, Data: data}:
	default:
	}
}

func (p *loopbackPeripheral) servicesMatching(filter []ServiceId) []ServiceMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	if filter == nil {
		return append([]ServiceMetadata(nil), p.services...)
	}
	var out []ServiceMetadata
	for _, svc := range p.services {
		for _, want := range filter {
			if want == svc.ID {
				out = append(out, svc)
				break
			}
		}
	}
	return out
}

func (p *loopbackPeripheral) Events() <-chan PeripheralEvent { return p.events }

func (p *loopbackPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.hub.mu.Lock()
	delete(p.hub.peripherals, p.id)
	delete(p.hub.active, p.id)
	p.hub.mu.Unlock()
	close(p.events)
	return nil
}

// loopbackMTU is the fixed MTU the in-process driver reports; real BLE
// negotiates this per connection.
const loopbackMTU = 185

type loopbackCentral struct {
	id  ActorId
	hub *loopbackHub

	mu        sync.Mutex
	connected map[ActorId]bool
	events    chan CentralEvent
	closed    bool
}

func (c *loopbackCentral) ScanFor(ctx context.Context, services []ServiceId, timeout time.Duration) (<-chan Discovered, error) {
	out := make(chan Discovered, 8)
	go func() {
		defer close(out)

		seen := make(map[ActorId]bool)
		emit := func(peer ActorId, adv AdvertisementData) bool {
			for _, want := range services {
				if want == adv.ServiceID {
					if seen[peer] {
						return true
					}
					seen[peer] = true
					select {
					case out <- Discovered{Peer: peer, Advertisement: adv}:
					case <-ctx.Done():
						return false
					}
					return true
				}
			}
			return true
		}

		for peer, adv := range c.hub.snapshotActive() {
			if !emit(peer, adv) {
				return
			}
		}

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline.C:
				return
			case ev, ok := <-c.events:
				if !ok {
					return
				}
				if ev.Kind != CentralPeripheralDiscovered {
					continue
				}
				if !emit(ev.Peer, ev.Advertisement) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *loopbackCentral) StopScan() {}

func (c *loopbackCentral) Connect(ctx context.Context, peer ActorId, timeout time.Duration) error {
	if _, ok := c.hub.peripheralByID(peer); !ok {
		return &PeripheralNotFoundError{ID: peer}
	}
	c.mu.Lock()
	c.connected[peer] = true
	c.mu.Unlock()
	select {
	case c.events <- CentralEvent{Kind: CentralPeripheralConnected, Peer: peer}:
	default:
	}
	return nil
}

func (c *loopbackCentral) Disconnect(peer ActorId) error {
	c.mu.Lock()
	delete(c.connected, peer)
	c.mu.Unlock()
	if p, ok := c.hub.peripheralByID(peer); ok {
		p.mu.Lock()
		kept := p.subscribers[:0]
		for _, sub := range p.subscribers {
			if sub.centralID != c.id {
				kept = append(kept, sub)
			}
		}
		p.subscribers = kept
		p.mu.Unlock()
	}
	select {
	case c.events <- CentralEvent{Kind: CentralPeripheralDisconnected, Peer: peer}:
	default:
	}
	return nil
}

func (c *loopbackCentral) isConnected(peer ActorId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected[peer]
}

func (c *loopbackCentral) DiscoverServices(ctx context.Context, peer ActorId, filter []ServiceId) ([]ServiceMetadata, error) {
	if !c.isConnected(peer) {
		return nil, ErrDisconnected
	}
	p, ok := c.hub.peripheralByID(peer)
	if !ok {
		return nil, &PeripheralNotFoundError{ID: peer}
	}
	return p.servicesMatching(filter), nil
}

func (c *loopbackCentral) DiscoverCharacteristics(ctx context.Context, service ServiceId, peer ActorId, filter []CharacteristicId) ([]CharMetadata, error) {
	services, err := c.DiscoverServices(ctx, peer, []ServiceId{service})
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, nil
	}
	if filter == nil {
		return services[0].Characteristics, nil
	}
	var out []CharMetadata
	for _, ch := range services[0].Characteristics {
		for _, want := range filter {
			if want == ch.ID {
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

func (c *loopbackCentral) WriteValue(ctx context.Context, peer ActorId, characteristic CharacteristicId, data []byte, withResponse bool) error {
	if !c.isConnected(peer) {
		return ErrDisconnected
	}
	p, ok := c.hub.peripheralByID(peer)
	if !ok {
		return &PeripheralNotFoundError{ID: peer}
	}
	p.receiveWrite(c.id, characteristic, data)
	return nil
}

func (c *loopbackCentral) SetNotifyValue(ctx context.Context, enabled bool, characteristic CharacteristicId, peer ActorId) error {
	if !enabled {
		return nil
	}
	p, ok := c.hub.peripheralByID(peer)
	if !ok {
		return &PeripheralNotFoundError{ID: peer}
	}
	p.subscribe(c.id, characteristic)
	return nil
}

func (c *loopbackCentral) MaxWriteValueLength(peer ActorId, writeType WriteType) (int, bool) {
	if !c.isConnected(peer) {
		return 0, false
	}
	return loopbackMTU, true
}

func (c *loopbackCentral) Events() <-chan CentralEvent { return c.events }

func (c *loopbackCentral) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.hub.mu.Lock()
	delete(c.hub.centrals, c.id)
	c.hub.mu.Unlock()
	close(c.events)
	return nil
}
