package actorlink

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks runtime-wide RPC and transport statistics. Components
// call Increment*; collectors read via Get*. Generalized from the
// teacher's connection/transaction counters to the call/packet/reassembly
// counters this runtime actually produces.
type Metrics interface {
	IncrementCallsSent()
	IncrementCallsResolved()
	IncrementCallsTimedOut()
	IncrementCallsFailed()
	IncrementPacketsSent()
	IncrementPacketsRetried()
	IncrementPacketsDropped()
	IncrementReassembliesCompleted()
	IncrementReassembliesExpired()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetCallsSent() int64
	GetCallsResolved() int64
	GetCallsTimedOut() int64
	GetCallsFailed() int64
	GetPacketsSent() int64
	GetPacketsRetried() int64
	GetPacketsDropped() int64
	GetReassembliesCompleted() int64
	GetReassembliesExpired() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with plain atomic counters, the same
// shape as the teacher's DefaultMetrics.
type DefaultMetrics struct {
	callsSent             int64
	callsResolved         int64
	callsTimedOut         int64
	callsFailed           int64
	packetsSent           int64
	packetsRetried        int64
	packetsDropped        int64
	reassembliesCompleted int64
	reassembliesExpired   int64
	bytesSent             int64
	bytesReceived         int64
}

// NewDefaultMetrics creates an in-process DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementCallsSent()              { atomic.AddInt64(&m.callsSent, 1) }
func (m *DefaultMetrics) IncrementCallsResolved()           { atomic.AddInt64(&m.callsResolved, 1) }
func (m *DefaultMetrics) IncrementCallsTimedOut()           { atomic.AddInt64(&m.callsTimedOut, 1) }
func (m *DefaultMetrics) IncrementCallsFailed()             { atomic.AddInt64(&m.callsFailed, 1) }
func (m *DefaultMetrics) IncrementPacketsSent()             { atomic.AddInt64(&m.packetsSent, 1) }
func (m *DefaultMetrics) IncrementPacketsRetried()          { atomic.AddInt64(&m.packetsRetried, 1) }
func (m *DefaultMetrics) IncrementPacketsDropped()          { atomic.AddInt64(&m.packetsDropped, 1) }
func (m *DefaultMetrics) IncrementReassembliesCompleted()   { atomic.AddInt64(&m.reassembliesCompleted, 1) }
func (m *DefaultMetrics) IncrementReassembliesExpired()     { atomic.AddInt64(&m.reassembliesExpired, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)        { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64)    { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetCallsSent() int64             { return atomic.LoadInt64(&m.callsSent) }
func (m *DefaultMetrics) GetCallsResolved() int64         { return atomic.LoadInt64(&m.callsResolved) }
func (m *DefaultMetrics) GetCallsTimedOut() int64         { return atomic.LoadInt64(&m.callsTimedOut) }
func (m *DefaultMetrics) GetCallsFailed() int64           { return atomic.LoadInt64(&m.callsFailed) }
func (m *DefaultMetrics) GetPacketsSent() int64           { return atomic.LoadInt64(&m.packetsSent) }
func (m *DefaultMetrics) GetPacketsRetried() int64        { return atomic.LoadInt64(&m.packetsRetried) }
func (m *DefaultMetrics) GetPacketsDropped() int64        { return atomic.LoadInt64(&m.packetsDropped) }
func (m *DefaultMetrics) GetReassembliesCompleted() int64 { return atomic.LoadInt64(&m.reassembliesCompleted) }
func (m *DefaultMetrics) GetReassembliesExpired() int64   { return atomic.LoadInt64(&m.reassembliesExpired) }
func (m *DefaultMetrics) GetBytesSent() int64             { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64         { return atomic.LoadInt64(&m.bytesReceived) }

// PrometheusMetrics implements Metrics on top of prometheus counters,
// registered against the caller-supplied registry. Built for deployments
// that already scrape Prometheus, mirroring how runZeroInc-sockstats and
// ghjramos-aistore expose their own counters through client_golang.
type PrometheusMetrics struct {
	calls        *prometheus.CounterVec
	packets      *prometheus.CounterVec
	reassemblies *prometheus.CounterVec
	bytes        *prometheus.CounterVec

	local *DefaultMetrics
}

// NewPrometheusMetrics registers this runtime's counters against reg and
// returns a Metrics implementation backed by them. Local atomic mirrors
// are kept so Get* remains cheap and lock-free regardless of the
// Prometheus client's internal bookkeeping.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actorlink",
			Name:      "calls_total",
			Help:      "Outbound RPC calls by terminal outcome.",
		}, []string{"outcome"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actorlink",
			Name:      "packets_total",
			Help:      "Outbound packet writes by outcome.",
		}, []string{"outcome"}),
		reassemblies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actorlink",
			Name:      "reassemblies_total",
			Help:      "Inbound reassembly outcomes.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actorlink",
			Name:      "bytes_total",
			Help:      "Bytes moved across the link.",
		}, []string{"direction"}),
		local: NewDefaultMetrics(),
	}
	reg.MustRegister(pm.calls, pm.packets, pm.reassemblies, pm.bytes)
	return pm
}

func (p *PrometheusMetrics) IncrementCallsSent() {
	p.calls.WithLabelValues("sent").Inc()
	p.local.IncrementCallsSent()
}
func (p *PrometheusMetrics) IncrementCallsResolved() {
	p.calls.WithLabelValues("resolved").Inc()
	p.local.IncrementCallsResolved()
}
func (p *PrometheusMetrics) IncrementCallsTimedOut() {
	p.calls.WithLabelValues("timed_out").Inc()
	p.local.IncrementCallsTimedOut()
}
func (p *PrometheusMetrics) IncrementCallsFailed() {
	p.calls.WithLabelValues("failed").Inc()
	p.local.IncrementCallsFailed()
}
func (p *PrometheusMetrics) IncrementPacketsSent() {
	p.packets.WithLabelValues("sent").Inc()
	p.local.IncrementPacketsSent()
}
func (p *PrometheusMetrics) IncrementPacketsRetried() {
	p.packets.WithLabelValues("retried").Inc()
	p.local.IncrementPacketsRetried()
}
func (p *PrometheusMetrics) IncrementPacketsDropped() {
	p.packets.WithLabelValues("dropped").Inc()
	p.local.IncrementPacketsDropped()
}
func (p *PrometheusMetrics) IncrementReassembliesCompleted() {
	p.reassemblies.WithLabelValues("completed").Inc()
	p.local.IncrementReassembliesCompleted()
}
func (p *PrometheusMetrics) IncrementReassembliesExpired() {
	p.reassemblies.WithLabelValues("expired").Inc()
	p.local.IncrementReassembliesExpired()
}
func (p *PrometheusMetrics) IncrementBytesSent(n int64) {
	p.bytes.WithLabelValues("sent").Add(float64(n))
	p.local.IncrementBytesSent(n)
}
func (p *PrometheusMetrics) IncrementBytesReceived(n int64) {
	p.bytes.WithLabelValues("received").Add(float64(n))
	p.local.IncrementBytesReceived(n)
}

func (p *PrometheusMetrics) GetCallsSent() int64             { return p.local.GetCallsSent() }
func (p *PrometheusMetrics) GetCallsResolved() int64         { return p.local.GetCallsResolved() }
func (p *PrometheusMetrics) GetCallsTimedOut() int64         { return p.local.GetCallsTimedOut() }
func (p *PrometheusMetrics) GetCallsFailed() int64           { return p.local.GetCallsFailed() }
func (p *PrometheusMetrics) GetPacketsSent() int64           { return p.local.GetPacketsSent() }
func (p *PrometheusMetrics) GetPacketsRetried() int64        { return p.local.GetPacketsRetried() }
func (p *PrometheusMetrics) GetPacketsDropped() int64        { return p.local.GetPacketsDropped() }
func (p *PrometheusMetrics) GetReassembliesCompleted() int64 { return p.local.GetReassembliesCompleted() }
func (p *PrometheusMetrics) GetReassembliesExpired() int64   { return p.local.GetReassembliesExpired() }
func (p *PrometheusMetrics) GetBytesSent() int64             { return p.local.GetBytesSent() }
func (p *PrometheusMetrics) GetBytesReceived() int64         { return p.local.GetBytesReceived() }
