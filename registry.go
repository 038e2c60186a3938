package actorlink

import (
	"fmt"
	"sync"
	"time"
)

// ActorKind distinguishes a locally-owned actor instance from a proxy
// standing in for one owned by a remote peer (spec.md §3).
type ActorKind int

const (
	ActorKindLocal ActorKind = iota
	ActorKindRemote
)

// ActorRecord is C4's primary entity. A local record is owned by the
// current process and may be invoked concurrently; a remote record
// implies a live proxy in the Peer/Proxy Manager with a matching PeerID.
type ActorRecord struct {
	ID           ActorId
	Kind         ActorKind
	Instance     any // non-nil only for ActorKindLocal
	TypeTag      string
	PeerID       ActorId // meaningful only for ActorKindRemote
	RegisteredAt time.Time
}

// Registry holds ActorId → ActorRecord plus secondary indices by type tag
// and by owning peer, maintained atomically with the primary map (spec.md
// §4.4). Exclusively owned by C4; no other component mutates it directly.
type Registry struct {
	mu      sync.RWMutex
	records map[ActorId]ActorRecord
	byType  map[string]map[ActorId]struct{}
	byPeer  map[ActorId]map[ActorId]struct{}
}

// NewRegistry builds an empty actor registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[ActorId]ActorRecord),
		byType:  make(map[string]map[ActorId]struct{}),
		byPeer:  make(map[ActorId]map[ActorId]struct{}),
	}
}

// RegisterLocal registers a locally-owned actor instance. Idempotent for
// the same id+kind pair; registering a different kind under an id already
// present is rejected as InvalidData (spec.md §4.4).
func (r *Registry) RegisterLocal(id ActorId, instance any, typeTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[id]; ok && existing.Kind != ActorKindLocal {
		return fmt.Errorf("%w: actor %s already registered as remote", ErrInvalidData, id)
	}
	rec := ActorRecord{ID: id, Kind: ActorKindLocal, Instance: instance, TypeTag: typeTag, RegisteredAt: time.Now()}
	r.insertLocked(rec)
	return nil
}

// RegisterRemote registers a proxy-backed actor reference owned by peerID.
func (r *Registry) RegisterRemote(id ActorId, peerID ActorId, typeTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[id]; ok && existing.Kind != ActorKindRemote {
		return fmt.Errorf("%w: actor %s already registered as local", ErrInvalidData, id)
	}
	rec := ActorRecord{ID: id, Kind: ActorKindRemote, TypeTag: typeTag, PeerID: peerID, RegisteredAt: time.Now()}
	r.insertLocked(rec)
	return nil
}

func (r *Registry) insertLocked(rec ActorRecord) {
	r.records[rec.ID] = rec

	if r.byType[rec.TypeTag] == nil {
		r.byType[rec.TypeTag] = make(map[ActorId]struct{})
	}
	r.byType[rec.TypeTag][rec.ID] = struct{}{}

	if rec.Kind == ActorKindRemote {
		if r.byPeer[rec.PeerID] == nil {
			r.byPeer[rec.PeerID] = make(map[ActorId]struct{})
		}
		r.byPeer[rec.PeerID][rec.ID] = struct{}{}
	}
}

// Find looks up a record by id.
func (r *Registry) Find(id ActorId) (ActorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// GetAllOfType returns every record registered under typeTag.
func (r *Registry) GetAllOfType(typeTag string) []ActorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byType[typeTag]
	out := make([]ActorRecord, 0, len(ids))
	for id := range ids {
		out = append(out, r.records[id])
	}
	return out
}

// Unregister removes a single actor record by id.
func (r *Registry) Unregister(id ActorId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id ActorId) {
	rec, ok := r.records[id]
	if !ok {
		return
	}
	delete(r.records, id)
	if set := r.byType[rec.TypeTag]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byType, rec.TypeTag)
		}
	}
	if rec.Kind == ActorKindRemote {
		if set := r.byPeer[rec.PeerID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byPeer, rec.PeerID)
			}
		}
	}
}

// UnregisterPeer evicts every remote record owned by peerID, returning the
// actor ids that were removed — used on disconnect (spec.md §4.4/§4.6).
func (r *Registry) UnregisterPeer(peerID ActorId) []ActorId {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byPeer[peerID]
	removed := make([]ActorId, 0, len(ids))
	for id := range ids {
		removed = append(removed, id)
	}
	for _, id := range removed {
		r.removeLocked(id)
	}
	return removed
}
