package actorlink

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultRPCTimeout is the per-call deadline (spec.md §6).
	DefaultRPCTimeout = 10 * time.Second
	// DefaultConnectionTimeout bounds a central's connect attempt.
	DefaultConnectionTimeout = 10 * time.Second
	// DefaultDiscoveryTimeout bounds service/characteristic discovery
	// within one peer's setup transaction.
	DefaultDiscoveryTimeout = 5 * time.Second
	// DefaultReassemblyTimeout is how long a partial message may sit in
	// the reassembly table before the garbage collector discards it.
	DefaultReassemblyTimeout = 30 * time.Second
	// DefaultCleanupInterval is how often the reassembly GC runs.
	DefaultCleanupInterval = 10 * time.Second
	// DefaultWriteLength is the MTU assumed for a peer before the link
	// reports an actual negotiated value.
	DefaultWriteLength = 512
	// DefaultMaxRetryAttempts bounds packet write retries.
	DefaultMaxRetryAttempts = 3
	// DefaultRetryDelay is the base backoff between packet write retries;
	// each failed write waits DefaultRetryDelay, doubling per failure and
	// capped at maxRetryAttempts times DefaultRetryDelay (50ms, 100ms,
	// 150ms with the defaults).
	DefaultRetryDelay = 50 * time.Millisecond
	// DefaultScanTimeout bounds a discovery scan.
	DefaultScanTimeout = 10 * time.Second
	// DefaultInterPacketPause throttles outbound fragment writes to match
	// typical link queue service rates (spec.md §4.2).
	DefaultInterPacketPause = 10 * time.Millisecond
	// FrameHeaderSize is the fixed packet header size: msg_id(16) +
	// seq(2) + total(2) + checksum(4).
	FrameHeaderSize = 16 + 2 + 2 + 4
)

// Option configures a Runtime. NewConfig starts from the defaults above
// and applies options on top, exactly as the teacher's Option type
// configures a Conn/Listener.
type Option func(*Config)

// Config holds every tunable named in spec.md §6. Construct with
// NewConfig(opts...); do not build a Config literal directly, since the
// zero value omits the context/logger/metrics wiring.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	metrics Metrics

	rpcTimeout        time.Duration
	connectionTimeout time.Duration
	discoveryTimeout  time.Duration
	reassemblyTimeout time.Duration
	cleanupInterval   time.Duration
	defaultWriteLen   int
	maxRetryAttempts  int
	retryDelay        time.Duration
	scanTimeout       time.Duration
	allowDuplicates   bool
	interPacketPause  time.Duration
	linkDriver        string
}

// Validate checks invariants across tunables (none today are mutually
// exclusive the way the teacher's endpoint/prefix collision is, but the
// hook exists for the same reason: a single place new constraints land).
func (c *Config) Validate() error {
	if c.maxRetryAttempts < 1 {
		return ErrInvalidData
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:               ctx,
		cancel:            cancel,
		logger:            slog.Default(),
		metrics:           NewDefaultMetrics(),
		rpcTimeout:        DefaultRPCTimeout,
		connectionTimeout: DefaultConnectionTimeout,
		discoveryTimeout:  DefaultDiscoveryTimeout,
		reassemblyTimeout: DefaultReassemblyTimeout,
		cleanupInterval:   DefaultCleanupInterval,
		defaultWriteLen:   DefaultWriteLength,
		maxRetryAttempts:  DefaultMaxRetryAttempts,
		retryDelay:        DefaultRetryDelay,
		scanTimeout:       DefaultScanTimeout,
		allowDuplicates:   false,
		interPacketPause:  DefaultInterPacketPause,
		linkDriver:        LoopbackDriverName,
	}
}

// NewConfig builds a runtime config by applying opts on top of defaults.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithContext sets the base context for the reassembly GC sweep and for
// dispatching inbound invocations. Discovery scans use the caller's
// context, and pending-call timers do not watch any context.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithLogger sets the structured logger used for the categories in
// spec.md §6 (transport, actor_system, rpc, connection).
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics injects a custom Metrics implementation, e.g. one backed by
// Prometheus via NewPrometheusMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRPCTimeout sets the per-call deadline.
func WithRPCTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.rpcTimeout = d
		}
	}
}

// WithConnectionTimeout sets how long a central waits for a connect to
// complete before cancelling the attempt.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectionTimeout = d
		}
	}
}

// WithDiscoveryTimeout sets how long service/characteristic discovery may
// take within one peer's setup transaction.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.discoveryTimeout = d
		}
	}
}

// WithReassemblyTimeout sets the deadline after which a partial message is
// discarded by the reassembly GC.
func WithReassemblyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.reassemblyTimeout = d
		}
	}
}

// WithCleanupInterval sets how often the reassembly GC sweeps.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithDefaultWriteLength sets the assumed MTU before a peer's actual value
// is known.
func WithDefaultWriteLength(n int) Option {
	return func(c *Config) {
		if n > FrameHeaderSize {
			c.defaultWriteLen = n
		}
	}
}

// WithMaxRetryAttempts bounds packet write retries.
func WithMaxRetryAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxRetryAttempts = n
		}
	}
}

// WithRetryDelay sets the base backoff between packet write retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithScanTimeout sets the default discovery scan duration.
func WithScanTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.scanTimeout = d
		}
	}
}

// WithAllowDuplicatesInScan records whether a scan may re-report a peer it
// has already seen advertising. The setting is stored on Config only: the
// loopback driver ignores it and reports each peer at most once per scan.
func WithAllowDuplicatesInScan(allow bool) Option {
	return func(c *Config) { c.allowDuplicates = allow }
}

// WithInterPacketPause sets the throttle between consecutive outbound
// fragment writes of the same message.
func WithInterPacketPause(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.interPacketPause = d
		}
	}
}

// WithLinkDriver selects the registered Peripheral/Central driver pair a
// Runtime builds against. Defaults to the in-process LoopbackLink; a real
// deployment registers a BLE driver under its own name and selects it
// here (spec.md §1 leaves the concrete driver out of scope).
func WithLinkDriver(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.linkDriver = name
		}
	}
}
