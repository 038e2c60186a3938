package actorlink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LinkState mirrors the driver-reported power/availability state of the
// underlying link (spec.md §4.1).
type LinkState int

const (
	LinkStateUnknown LinkState = iota
	LinkStateResetting
	LinkStateUnsupported
	LinkStateUnauthorized
	LinkStatePoweredOff
	LinkStatePoweredOn
)

func (s LinkState) String() string {
	switch s {
	case LinkStateResetting:
		return "resetting"
	case LinkStateUnsupported:
		return "unsupported"
	case LinkStateUnauthorized:
		return "unauthorized"
	case LinkStatePoweredOff:
		return "powered_off"
	case LinkStatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// CharProperty is a bitmask of GATT-style characteristic properties. The
// RPC characteristic declared by an actor type always carries Write and
// Notify (spec.md §6).
type CharProperty uint8

const (
	CharPropertyWrite CharProperty = 1 << iota
	CharPropertyNotify
)

// CharMetadata describes one characteristic on a discovered service.
type CharMetadata struct {
	ID         CharacteristicId
	Properties CharProperty
}

// ServiceMetadata describes one service, with its characteristics,
// advertised or discovered over the link (spec.md §4.1/§6).
type ServiceMetadata struct {
	ID              ServiceId
	Characteristics []CharMetadata
}

// AdvertisementData is what a peripheral broadcasts: its service id and a
// local name equal to the actor type's declared name (spec.md §6).
type AdvertisementData struct {
	ServiceID ServiceId
	LocalName string
}

// Discovered is one scan hit: a peer id plus the advertisement it was
// seen broadcasting.
type Discovered struct {
	Peer          ActorId
	Advertisement AdvertisementData
}

// WriteType distinguishes write-with-response from write-without-response
// for MaxWriteValueLength queries (spec.md §4.1).
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteWithoutResponse
)

// PeripheralEvent is the closed set of events a Peripheral emits (spec.md
// §4.1).
type PeripheralEvent struct {
	Kind          PeripheralEventKind
	State         LinkState
	Peer          ActorId
	Characteristic CharacteristicId
	Data          []byte
}

type PeripheralEventKind int

const (
	PeripheralStateChanged PeripheralEventKind = iota
	PeripheralWriteRequestReceived
	PeripheralSubscribed
	PeripheralUnsubscribed
	PeripheralReadyToUpdate
)

// CentralEvent is the closed set of events a Central emits (spec.md §4.1).
type CentralEvent struct {
	Kind          CentralEventKind
	State         LinkState
	Peer          ActorId
	Advertisement AdvertisementData
	Characteristic CharacteristicId
	Data          []byte
	Err           error
}

type CentralEventKind int

const (
	CentralStateChanged CentralEventKind = iota
	CentralPeripheralDiscovered
	CentralPeripheralConnected
	CentralPeripheralDisconnected
	CentralCharacteristicValueUpdated
)

// Peripheral is the server-role contract of C1. A driver fails every
// operation with ErrBluetoothUnavailable before Initialize/WaitPoweredOn
// succeed; the loopback driver does not track readiness and never fails
// for that reason.
// The link is a message-sequential actor: each operation runs to its
// first suspension point under exclusive access to link state, and no
// callback is invoked outside the Events() channel.
type Peripheral interface {
	Initialize(ctx context.Context) error
	WaitPoweredOn(ctx context.Context) (LinkState, error)
	AddService(svc ServiceMetadata) error
	StartAdvertising(adv AdvertisementData) error
	StopAdvertising() error
	IsAdvertising() bool
	// UpdateValue notifies the characteristic's value to the listed
	// subscribers, or to all subscribers when to is nil. It returns false
	// if the driver's send queue is saturated; the caller's cue to retry
	// is a subsequent ReadyToUpdate event.
	UpdateValue(data []byte, characteristic CharacteristicId, to []ActorId) (bool, error)
	Events() <-chan PeripheralEvent
	Close() error
}

// Central is the client-role contract of C1.
type Central interface {
	ScanFor(ctx context.Context, services []ServiceId, timeout time.Duration) (<-chan Discovered, error)
	StopScan()
	Connect(ctx context.Context, peer ActorId, timeout time.Duration) error
	Disconnect(peer ActorId) error
	DiscoverServices(ctx context.Context, peer ActorId, filter []ServiceId) ([]ServiceMetadata, error)
	DiscoverCharacteristics(ctx context.Context, service ServiceId, peer ActorId, filter []CharacteristicId) ([]CharMetadata, error)
	WriteValue(ctx context.Context, peer ActorId, characteristic CharacteristicId, data []byte, withResponse bool) error
	SetNotifyValue(ctx context.Context, enabled bool, characteristic CharacteristicId, peer ActorId) error
	MaxWriteValueLength(peer ActorId, writeType WriteType) (int, bool)
	Events() <-chan CentralEvent
	Close() error
}

// PeripheralFactory constructs a Peripheral for a named driver, the way
// aznet.Factory constructs a storage Driver for a registered scheme. The
// concrete BLE driver is out of scope for this module (spec.md §1); this
// registry exists so a real driver can be plugged in without this module
// knowing about it, and so tests can register LoopbackLink instead.
type PeripheralFactory interface {
	NewPeripheral(cfg *Config) (Peripheral, error)
}

// CentralFactory constructs a Central for a named driver.
type CentralFactory interface {
	NewCentral(cfg *Config) (Central, error)
}

var (
	peripheralFactories = make(map[string]PeripheralFactory)
	centralFactories    = make(map[string]CentralFactory)
	factoryMu           sync.RWMutex
)

// ErrUnsupportedLinkDriver is returned when no factory is registered for
// the requested driver name.
var ErrUnsupportedLinkDriver = errors.New("actorlink: unsupported link driver")

// RegisterPeripheralFactory registers a Peripheral factory under name.
func RegisterPeripheralFactory(name string, f PeripheralFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := peripheralFactories[name]; dup {
		panic("actorlink: peripheral factory already registered for " + name)
	}
	peripheralFactories[name] = f
}

// RegisterCentralFactory registers a Central factory under name.
func RegisterCentralFactory(name string, f CentralFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := centralFactories[name]; dup {
		panic("actorlink: central factory already registered for " + name)
	}
	centralFactories[name] = f
}

// NewPeripheral resolves and constructs the named Peripheral driver.
func NewPeripheral(name string, cfg *Config) (Peripheral, error) {
	factoryMu.RLock()
	f, ok := peripheralFactories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLinkDriver, name)
	}
	return f.NewPeripheral(cfg)
}

// NewCentral resolves and constructs the named Central driver.
func NewCentral(name string, cfg *Config) (Central, error) {
	factoryMu.RLock()
	f, ok := centralFactories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLinkDriver, name)
	}
	return f.NewCentral(cfg)
}

// LinkDrivers lists the names of registered link drivers, peripheral and
// central combined, for diagnostics.
func LinkDrivers() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	seen := make(map[string]struct{})
	for name := range peripheralFactories {
		seen[name] = struct{}{}
	}
	for name := range centralFactories {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
