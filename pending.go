package actorlink

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallResult is what a pending call's channel eventually delivers: either
// a Success payload, a Void marker (both nil fields), or an error.
type CallResult struct {
	Data json.RawMessage
	Err  error
}

// pendingEntry is one outstanding client-side RPC (spec.md §3's "Pending
// Call"), indexed both by call id and by peer id.
type pendingEntry struct {
	callID ActorId
	peerID ActorId
	ch     chan CallResult
	timer  *time.Timer
}

// PendingCallTable is C5: tracks outstanding client-side RPCs by call id,
// enforces per-call timeouts, resolves on response or cancels on
// failure/disconnect, and resolves a FIFO ordering per peer for
// unattributable link errors (spec.md §4.5). Exclusively owns its three
// indices; all operations below are atomic relative to one another.
type PendingCallTable struct {
	mu sync.Mutex

	pending map[uuid.UUID]*pendingEntry
	peerIdx map[ActorId]map[uuid.UUID]struct{}
	fifo    map[ActorId][]uuid.UUID

	// preResolved records a cancel() that arrived before the matching
	// store() — the race spec.md §4.5/§8 calls out. A subsequent store()
	// for the same call id resolves immediately with this error instead
	// of waiting on a timer that will never fire a resolve.
	preResolved map[uuid.UUID]preResolution

	rpcTimeout time.Duration
	metrics    Metrics
}

type preResolution struct {
	err       error
	createdAt time.Time
}

// preResolutionTTL bounds how long a pre-resolution may sit unclaimed
// before it is pruned, so a cancel() for a call id that never gets
// store()'d doesn't leak memory forever.
const preResolutionTTL = 2 * time.Minute

// NewPendingCallTable builds an empty pending-call table.
func NewPendingCallTable(cfg *Config) *PendingCallTable {
	return &PendingCallTable{
		pending:     make(map[uuid.UUID]*pendingEntry),
		peerIdx:     make(map[ActorId]map[uuid.UUID]struct{}),
		fifo:        make(map[ActorId][]uuid.UUID),
		preResolved: make(map[uuid.UUID]preResolution),
		rpcTimeout:  cfg.rpcTimeout,
		metrics:     cfg.metrics,
	}
}

// Store registers a new pending call and arms its timeout timer. If a
// pre-resolution is already recorded for callID (cancel arrived first),
// Store consumes it and returns a channel that is immediately ready with
// that outcome — the fix for the race in spec.md §4.5/§8.
func (t *PendingCallTable) Store(callID, peerID ActorId, timeout time.Duration) <-chan CallResult {
	if timeout <= 0 {
		timeout = t.rpcTimeout
	}

	t.mu.Lock()
	if pre, ok := t.preResolved[callID]; ok {
		delete(t.preResolved, callID)
		t.mu.Unlock()
		ch := make(chan CallResult, 1)
		ch <- CallResult{Err: pre.err}
		return ch
	}

	ch := make(chan CallResult, 1)
	entry := &pendingEntry{callID: callID, peerID: peerID, ch: ch}
	entry.timer = time.AfterFunc(timeout, func() { t.timeout(callID) })

	t.pending[callID] = entry
	if t.peerIdx[peerID] == nil {
		t.peerIdx[peerID] = make(map[uuid.UUID]struct{})
	}
	t.peerIdx[peerID][callID] = struct{}{}
	t.fifo[peerID] = append(t.fifo[peerID], callID)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.IncrementCallsSent()
	}
	return ch
}

// Resolve delivers a successful (or void) result for callID, if present.
// Returns false if no such call is pending (already resolved, cancelled,
// or never stored).
func (t *PendingCallTable) Resolve(callID ActorId, data json.RawMessage) bool {
	entry := t.remove(callID)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.ch <- CallResult{Data: data}
	if t.metrics != nil {
		t.metrics.IncrementCallsResolved()
	}
	return true
}

// Cancel resolves callID with a failure, like Resolve but for the error
// path. If callID is not currently pending, the error is recorded as a
// pre-resolution so a subsequent Store for the same id resolves
// immediately instead of waiting out its timer.
func (t *PendingCallTable) Cancel(callID ActorId, err error) {
	entry := t.remove(callID)
	if entry == nil {
		t.mu.Lock()
		t.preResolved[callID] = preResolution{err: err, createdAt: time.Now()}
		t.pruneStalePreResolutionsLocked()
		t.mu.Unlock()
		return
	}
	entry.timer.Stop()
	entry.ch <- CallResult{Err: err}
	if t.metrics != nil {
		t.metrics.IncrementCallsFailed()
	}
}

// CancelOldestForPeer cancels the oldest still-pending call for peerID,
// used when the link reports an error whose offending request cannot be
// identified (spec.md §4.5/§5's best-effort FIFO attribution policy).
// Returns false if peerID has no pending calls.
func (t *PendingCallTable) CancelOldestForPeer(peerID ActorId, err error) bool {
	t.mu.Lock()
	queue := t.fifo[peerID]
	var oldest uuid.UUID
	found := false
	for len(queue) > 0 {
		candidate := queue[0]
		queue = queue[1:]
		if _, ok := t.pending[candidate]; ok {
			oldest = candidate
			found = true
			break
		}
	}
	t.fifo[peerID] = queue
	t.mu.Unlock()

	if !found {
		return false
	}
	t.Cancel(oldest, err)
	return true
}

// CancelAllForPeer cancels every call currently pending against peerID —
// used on disconnect (spec.md §4.5/§4.6).
func (t *PendingCallTable) CancelAllForPeer(peerID ActorId, err error) {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.peerIdx[peerID]))
	for id := range t.peerIdx[peerID] {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Cancel(id, err)
	}
}

// timeout is invoked by a pendingEntry's timer. It removes the entry and
// resolves it with ConnectionTimeout, per spec.md §4.5/§5.
func (t *PendingCallTable) timeout(callID ActorId) {
	entry := t.remove(callID)
	if entry == nil {
		return
	}
	entry.ch <- CallResult{Err: ErrConnectionTimeout}
	if t.metrics != nil {
		t.metrics.IncrementCallsTimedOut()
	}
}

// remove detaches and returns the pending entry for callID from every
// index, or nil if it is not (or no longer) present.
func (t *PendingCallTable) remove(callID ActorId) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[callID]
	if !ok {
		return nil
	}
	delete(t.pending, callID)
	if set := t.peerIdx[entry.peerID]; set != nil {
		delete(set, callID)
		if len(set) == 0 {
			delete(t.peerIdx, entry.peerID)
		}
	}
	if q := t.fifo[entry.peerID]; len(q) > 0 {
		for i, id := range q {
			if id == callID {
				q = append(q[:i], q[i+1:]...)
				break
			}
		}
		if len(q) == 0 {
			delete(t.fifo, entry.peerID)
		} else {
			t.fifo[entry.peerID] = q
		}
	}
	return entry
}

func (t *PendingCallTable) pruneStalePreResolutionsLocked() {
	if len(t.preResolved) < 64 {
		return
	}
	cutoff := time.Now().Add(-preResolutionTTL)
	for id, pre := range t.preResolved {
		if pre.createdAt.Before(cutoff) {
			delete(t.preResolved, id)
		}
	}
}
