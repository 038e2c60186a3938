package actorlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MethodHandler executes one method of a local actor against already
// decoded argument bytes and returns an already-encodable result (spec.md
// §4.7's "small dispatch table keyed by target").
type MethodHandler func(ctx context.Context, args json.RawMessage) (any, error)

// defaultFastRetryDelay is the initial backoff fragmentRetryBackoff starts
// from when no fast interval is given.
const defaultFastRetryDelay = 5 * time.Millisecond

// fragmentRetryBackoff is sendToPeer's exponential-backoff sleep between
// write-failure retries on one fragment (spec.md §4.2's "retry with
// backoff" requirement), counting the attempts it has slept through so a
// retry-exhausted log line can report how many were actually spent.
type fragmentRetryBackoff struct {
	cur, fast, steady time.Duration
	skip              bool
	attempts          int
}

// newFragmentRetryBackoff builds a poller initialized to the fast interval.
func newFragmentRetryBackoff(fast, steady time.Duration) *fragmentRetryBackoff {
	if fast <= 0 {
		fast = defaultFastRetryDelay
	}
	if steady < fast {
		steady = fast
	}
	return &fragmentRetryBackoff{cur: fast, fast: fast, steady: steady}
}

// sleep waits for the current interval, records the attempt, and backs off
// exponentially up to steady.
func (p *fragmentRetryBackoff) sleep() {
	p.attempts++
	if p.skip {
		p.skip = false
		return
	}
	time.Sleep(p.cur)
	if p.cur < p.steady {
		p.cur *= 2
		if p.cur > p.steady {
			p.cur = p.steady
		}
	}
}

// reset moves the current interval back to the fast value and clears the
// attempt count, ready for the next fragment.
func (p *fragmentRetryBackoff) reset() {
	p.cur = p.fast
	p.attempts = 0
}

// Runtime is C7, the Actor System Kernel: the only type application code
// is expected to construct directly. It owns C1 through C6 and exposes
// the public operations spec.md §4.7 names. Generalized from the
// teacher's Conn/Listener pair, which likewise sits atop a Transport/
// Driver and owns the read/write/keepalive loops around it.
type Runtime struct {
	cfg *Config

	reg     *Registry
	pending *PendingCallTable
	rea     *Reassembler
	proxies *ProxyManager

	peripheral Peripheral
	central    Central

	mu       sync.RWMutex
	handlers map[ActorId]map[string]MethodHandler

	wg sync.WaitGroup
}

// New builds a Runtime wired to the link driver selected by opts (or the
// LoopbackLink by default), starting its background event-consumption and
// reassembly-GC goroutines.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	peripheral, err := NewPeripheral(cfg.linkDriver, cfg)
	if err != nil {
		return nil, err
	}
	central, err := NewCentral(cfg.linkDriver, cfg)
	if err != nil {
		return nil, err
	}
	if err := peripheral.Initialize(cfg.ctx); err != nil {
		return nil, err
	}
	if _, err := peripheral.WaitPoweredOn(cfg.ctx); err != nil {
		return nil, err
	}

	reg := NewRegistry()
	pending := NewPendingCallTable(cfg)
	rea := NewReassembler(cfg)
	proxies := NewProxyManager(central, rea, pending, reg, cfg)

	rt := &Runtime{
		cfg:        cfg,
		reg:        reg,
		pending:    pending,
		rea:        rea,
		proxies:    proxies,
		peripheral: peripheral,
		central:    central,
		handlers:   make(map[ActorId]map[string]MethodHandler),
	}

	rt.wg.Add(2)
	go rt.consumePeripheralEvents()
	go rt.consumeCentralEvents()

	return rt, nil
}

var (
	defaultRuntime     *Runtime
	defaultRuntimeOnce sync.Once
	defaultRuntimeErr  error
)

// DefaultRuntime lazily builds and returns a process-wide Runtime using
// default options, mirroring the teacher's lazily-initialized package
// singletons for zero-config callers (spec.md §9).
func DefaultRuntime() (*Runtime, error) {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime, defaultRuntimeErr = New()
	})
	return defaultRuntime, defaultRuntimeErr
}

// AssignId mints a fresh actor id for typeName (spec.md §4.7). The type
// name isn't encoded in the id itself; it's carried separately into Ready.
func (rt *Runtime) AssignId(typeName string) ActorId {
	return NewActorId()
}

// Ready registers a local actor instance with C4 and installs its method
// dispatch table, making it reachable from HandleIncoming.
func (rt *Runtime) Ready(id ActorId, instance any, typeName string, handlers map[string]MethodHandler) error {
	if err := rt.reg.RegisterLocal(id, instance, typeName); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.handlers[id] = handlers
	rt.mu.Unlock()
	logActorEvent(rt.cfg.logger, "ready", id, "type", typeName)
	return nil
}

// Resign removes id from C4 and instructs C6 to drop any proxy it holds
// for it (spec.md §4.7).
func (rt *Runtime) Resign(id ActorId) {
	rt.reg.Unregister(id)
	rt.mu.Lock()
	delete(rt.handlers, id)
	rt.mu.Unlock()
	rt.proxies.Teardown(id, ErrDisconnected)
	logActorEvent(rt.cfg.logger, "resign", id)
}

// StartAdvertising derives ServiceMetadata for typeName (service uuid +
// RPC characteristic with write+notify), registers it with the
// peripheral role, and starts advertising (spec.md §4.7).
func (rt *Runtime) StartAdvertising(typeName string) error {
	svcID := DeriveServiceId(typeName)
	charID := DeriveCharacteristicId(typeName)

	svc := ServiceMetadata{
		ID: svcID,
		Characteristics: []CharMetadata{
			{ID: charID, Properties: CharPropertyWrite | CharPropertyNotify},
		},
	}
	if err := rt.peripheral.AddService(svc); err != nil {
		return err
	}
	return rt.peripheral.StartAdvertising(AdvertisementData{ServiceID: svcID, LocalName: typeName})
}

// Discover scans for actors of typeName and connects to every responder.
// Returned ids come back fully set up: the first RemoteCall against one
// MUST succeed (spec.md §4.6).
func (rt *Runtime) Discover(ctx context.Context, typeName string, timeout time.Duration) ([]ActorId, error) {
	if timeout <= 0 {
		timeout = rt.cfg.scanTimeout
	}
	return rt.proxies.Discover(ctx, typeName, timeout)
}

// RemoteCall performs target against actorRef, encoding args with JSON and
// returning the raw success payload bytes. If actorRef resolves locally in
// C4, dispatch happens in-process through the same codec path as a wire
// call, with no link traffic (spec.md §4.7). Callers that want a typed
// result should use the package-level Call helper instead.
func (rt *Runtime) RemoteCall(ctx context.Context, actorRef ActorId, target string, args any) (json.RawMessage, error) {
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if rec, ok := rt.reg.Find(actorRef); ok && rec.Kind == ActorKindLocal {
		result, isVoid, err := rt.dispatchLocal(ctx, actorRef, target, argsRaw)
		if err != nil {
			return nil, toTransportError(toRuntimeError(err))
		}
		if isVoid {
			return nil, nil
		}
		return result, nil
	}

	proxy, ok := rt.proxies.Get(actorRef)
	if !ok {
		return nil, &ActorNotFoundError{ID: actorRef}
	}

	callID := NewCallId()
	env := InvocationEnvelope{CallID: callID, RecipientID: actorRef, Target: target, Args: argsRaw, Version: EnvelopeVersion}
	payload, err := EncodeInvocation(env)
	if err != nil {
		return nil, err
	}

	resultCh := rt.pending.Store(callID, proxy.PeerID, rt.cfg.rpcTimeout)

	if err := rt.sendToPeer(ctx, proxy, payload); err != nil {
		rt.pending.Cancel(callID, err)
		return nil, err
	}

	select {
	case <-ctx.Done():
		rt.pending.Cancel(callID, ctx.Err())
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Data, nil
	}
}

// sendToPeer fragments payload for proxy's negotiated MTU and writes each
// packet to its RPC characteristic, retrying with backoff on write
// failure up to cfg.maxRetryAttempts (spec.md §4.2).
func (rt *Runtime) sendToPeer(ctx context.Context, proxy *Proxy, payload []byte) error {
	mtu := rt.rea.MTU(proxy.PeerID)
	packets := Fragment(payload, mtu)

	var buf bytes.Buffer
	backoff := newFragmentRetryBackoff(rt.cfg.retryDelay, rt.cfg.retryDelay*time.Duration(rt.cfg.maxRetryAttempts))

	for _, pkt := range packets {
		buf.Reset()
		EncodePacket(&buf, pkt)
		frame := append([]byte(nil), buf.Bytes()...)

		var lastErr error
		for attempt := 0; attempt < rt.cfg.maxRetryAttempts; attempt++ {
			if err := proxy.Central.WriteValue(ctx, proxy.PeerID, proxy.RPCChar, frame, true); err != nil {
				lastErr = err
				if rt.cfg.metrics != nil {
					rt.cfg.metrics.IncrementPacketsRetried()
				}
				backoff.sleep()
				continue
			}
			lastErr = nil
			backoff.reset()
			break
		}
		if lastErr != nil {
			if rt.cfg.metrics != nil {
				rt.cfg.metrics.IncrementPacketsDropped()
			}
			logRetryExhausted(rt.cfg.logger, newTraceID(), pkt.MsgID.String(), pkt.Seq, backoff.attempts)
			return &ConnectionFailedError{Msg: lastErr.Error()}
		}
		if rt.cfg.metrics != nil {
			rt.cfg.metrics.IncrementPacketsSent()
			rt.cfg.metrics.IncrementBytesSent(int64(len(frame)))
		}
		if rt.cfg.interPacketPause > 0 && pkt.Seq+1 < pkt.Total {
			time.Sleep(rt.cfg.interPacketPause)
		}
	}
	return nil
}

// replyToSender fragments and notifies payload back to peer on
// characteristic, the peripheral-role counterpart of sendToPeer. A
// notification the driver refuses (queue saturated) is retried with the
// same backoff as sendToPeer, up to cfg.maxRetryAttempts; after a driver
// error or exhausted retries the rest of the reply is dropped.
func (rt *Runtime) replyToSender(peer ActorId, characteristic CharacteristicId, payload []byte) {
	mtu := rt.rea.MTU(peer)
	packets := Fragment(payload, mtu)
	var buf bytes.Buffer
	for _, pkt := range packets {
		buf.Reset()
		EncodePacket(&buf, pkt)
		frame := append([]byte(nil), buf.Bytes()...)
		backoff := newFragmentRetryBackoff(rt.cfg.retryDelay, rt.cfg.retryDelay*time.Duration(rt.cfg.maxRetryAttempts))
		sent := false
		for attempt := 0; attempt < rt.cfg.maxRetryAttempts && !sent; attempt++ {
			ok, err := rt.peripheral.UpdateValue(frame, characteristic, []ActorId{peer})
			if err != nil {
				break
			}
			if sent = ok; !sent {
				if rt.cfg.metrics != nil {
					rt.cfg.metrics.IncrementPacketsRetried()
				}
				backoff.sleep()
			}
		}
		if !sent {
			if rt.cfg.metrics != nil {
				rt.cfg.metrics.IncrementPacketsDropped()
			}
			return
		}
		if rt.cfg.metrics != nil {
			rt.cfg.metrics.IncrementPacketsSent()
			rt.cfg.metrics.IncrementBytesSent(int64(len(frame)))
		}
		if rt.cfg.interPacketPause > 0 && pkt.Seq+1 < pkt.Total {
			time.Sleep(rt.cfg.interPacketPause)
		}
	}
}

// HandleIncoming takes an invocation envelope already decoded by C3 (see
// handleInboundBytes), looks up the recipient in C4, invokes the local
// method through the dispatch table, and wraps the outcome in a response
// envelope (spec.md §4.7).
func (rt *Runtime) HandleIncoming(ctx context.Context, env InvocationEnvelope) ResponseEnvelope {
	result, isVoid, err := rt.dispatchLocal(ctx, env.RecipientID, env.Target, env.Args)
	if err != nil {
		return failureEnvelope(env.CallID, toRuntimeError(err))
	}
	if isVoid {
		return voidEnvelope(env.CallID)
	}
	resp, err := successEnvelope(env.CallID, json.RawMessage(result))
	if err != nil {
		return failureEnvelope(env.CallID, toRuntimeError(err))
	}
	return resp
}

// dispatchLocal resolves recipient in C4 and invokes target through its
// handler table. Shared by RemoteCall's local fast path and HandleIncoming
// so local and remote calls share one execution model (spec.md §4.7).
func (rt *Runtime) dispatchLocal(ctx context.Context, recipient ActorId, target string, args json.RawMessage) (json.RawMessage, bool, error) {
	if _, ok := rt.reg.Find(recipient); !ok {
		return nil, false, &ActorNotFoundError{ID: recipient}
	}

	rt.mu.RLock()
	table := rt.handlers[recipient]
	rt.mu.RUnlock()
	if table == nil {
		return nil, false, &MethodNotSupportedError{Name: target}
	}
	handler, ok := table[target]
	if !ok {
		return nil, false, &MethodNotSupportedError{Name: target}
	}

	result, err := handler(ctx, args)
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, true, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return data, false, nil
}

// consumePeripheralEvents services write requests addressed to this
// process's locally-registered actors: reassemble, decode, dispatch,
// encode, and notify the response back to the caller.
func (rt *Runtime) consumePeripheralEvents() {
	defer rt.wg.Done()
	for ev := range rt.peripheral.Events() {
		switch ev.Kind {
		case PeripheralWriteRequestReceived:
			rt.handleInboundBytes(ev.Peer, ev.Characteristic, ev.Data)
		case PeripheralStateChanged:
			logConnectionStateChange(rt.cfg.logger, ActorId{}, ev.State.String())
		}
	}
}

func (rt *Runtime) handleInboundBytes(peer ActorId, characteristic CharacteristicId, data []byte) {
	payload, complete := rt.reassembleInbound(peer, data)
	if !complete {
		return
	}
	env, err := DecodeInvocation(payload)
	if err != nil {
		logDecodeError(rt.cfg.logger, newTraceID(), err)
		return
	}
	resp := rt.HandleIncoming(rt.cfg.ctx, env)
	respBytes, err := EncodeResponse(resp)
	if err != nil {
		logEncodeError(rt.cfg.logger, newTraceID(), env.Target, err)
		return
	}
	rt.replyToSender(peer, characteristic, respBytes)
}

// consumeCentralEvents services responses and connection-state changes
// for proxies this process holds as a client.
func (rt *Runtime) consumeCentralEvents() {
	defer rt.wg.Done()
	for ev := range rt.central.Events() {
		switch ev.Kind {
		case CentralCharacteristicValueUpdated:
			rt.handleResponseBytes(ev.Peer, ev.Data)
		case CentralPeripheralDisconnected:
			rt.proxies.Teardown(ev.Peer, ErrDisconnected)
		}
	}
}

func (rt *Runtime) handleResponseBytes(peer ActorId, data []byte) {
	payload, complete := rt.reassembleInbound(peer, data)
	if !complete {
		return
	}
	resp, err := DecodeResponse(payload)
	if err != nil {
		logDecodeError(rt.cfg.logger, newTraceID(), err)
		rt.pending.CancelOldestForPeer(peer, fmt.Errorf("%w: %v", ErrInvalidData, err))
		return
	}
	switch resp.Result {
	case ResultSuccess:
		rt.pending.Resolve(resp.CallID, resp.Success)
	case ResultVoid:
		rt.pending.Resolve(resp.CallID, nil)
	case ResultFailure:
		rt.pending.Cancel(resp.CallID, toTransportError(resp.Failure))
	default:
		rt.pending.Cancel(resp.CallID, fmt.Errorf("%w: unknown result kind %q", ErrInvalidData, resp.Result))
	}
}

// reassembleInbound tries to parse data as a framed Packet; a decode
// failure falls back to treating data as a complete, unfragmented message
// (spec.md §4.2's backward-compatible path).
func (rt *Runtime) reassembleInbound(peer ActorId, data []byte) ([]byte, bool) {
	pkt, err := DecodePacket(data)
	if err != nil {
		return data, true
	}
	if rt.cfg.metrics != nil {
		rt.cfg.metrics.IncrementBytesReceived(int64(len(data)))
	}
	return rt.rea.Insert(peer, pkt)
}

// Close stops the reassembly GC and closes both link roles. Event
// consumer goroutines exit once the driver closes their event channels.
func (rt *Runtime) Close() error {
	rt.rea.Close()
	perr := rt.peripheral.Close()
	cerr := rt.central.Close()
	rt.wg.Wait()
	if perr != nil {
		return perr
	}
	return cerr
}
