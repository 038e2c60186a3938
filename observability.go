package actorlink

import (
	"log/slog"

	"github.com/rs/xid"
)

// Log categories named in spec.md §6.
const (
	logCategoryTransport   = "transport"
	logCategoryActorSystem = "actor_system"
	logCategoryRPC         = "rpc"
	logCategoryConnection  = "connection"
)

// traceID is a compact, sortable id attached to structured log lines.
// ProxyManager.Setup uses one id for every line of a peer's setup
// transaction; the kernel mints a fresh id for each decode, encode and
// retry-exhausted line, so those are not tied to the setup that preceded
// them. Reassembly-timeout, connection-state and actor-event lines carry no
// trace id. xid's encoding already sorts by generation time, which is the
// property a log correlation id needs (grounded on runZeroInc-sockstats, the one
// pack repo that pulls in rs/xid for this exact purpose).
type traceID = xid.ID

func newTraceID() traceID { return xid.New() }

// categoryLogger returns a logger pre-tagged with a log category and trace
// id, so every call site just logs the event-specific fields. trace_seq
// disambiguates two trace ids minted within the same xid tick, since xid's
// time component alone isn't enough to order them.
func categoryLogger(base *slog.Logger, category string, trace traceID) *slog.Logger {
	return base.With("category", category, "trace_id", trace.String(), "trace_seq", nextTraceSeq())
}

func logDiscoverySuccess(l *slog.Logger, trace traceID, peer ActorId, typeName string) {
	categoryLogger(l, logCategoryConnection, trace).Info("peer setup succeeded",
		"peer", peer.String(), "actor_type", typeName)
}

func logDiscoveryFailure(l *slog.Logger, trace traceID, peer ActorId, typeName string, err error) {
	categoryLogger(l, logCategoryConnection, trace).Warn("peer setup failed",
		"peer", peer.String(), "actor_type", typeName, "error", err)
}

func logEncodeError(l *slog.Logger, trace traceID, target string, err error) {
	categoryLogger(l, logCategoryRPC, trace).Error("envelope encode failed", "target", target, "error", err)
}

func logDecodeError(l *slog.Logger, trace traceID, err error) {
	categoryLogger(l, logCategoryRPC, trace).Error("envelope decode failed", "error", err)
}

func logReassemblyTimeout(l *slog.Logger, msgID string, received, total int) {
	l.With("category", logCategoryTransport).Debug("reassembly timed out",
		"msg_id", msgID, "received", received, "total", total)
}

func logRetryExhausted(l *slog.Logger, trace traceID, msgID string, seq uint16, attempts int) {
	categoryLogger(l, logCategoryTransport, trace).Warn("packet retry exhausted",
		"msg_id", msgID, "seq", seq, "attempts", attempts)
}

func logConnectionStateChange(l *slog.Logger, peer ActorId, state string) {
	l.With("category", logCategoryConnection).Info("connection state changed",
		"peer", peer.String(), "state", state)
}

func logActorEvent(l *slog.Logger, event string, id ActorId, extra ...any) {
	args := append([]any{"category", logCategoryActorSystem, "event", event, "actor", id.String()}, extra...)
	l.Info("actor system event", args...)
}
