// Package relay implements the message relay and deduplication engine: for
// every inbound event it decides seen-before vs new, addressed-to-me vs
// opaque, delivers plaintext locally when it can, rebroadcasts to all
// connected peers except the sender, and keeps the bounded history used to
// answer catch-up requests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meshchat/internal/channel"
	"meshchat/internal/cryptobox"
	"meshchat/internal/eventlog"
	"meshchat/internal/metrics"
	"meshchat/internal/proto"
	"meshchat/internal/seen"
)

// PeerHandle identifies one connected peer. Handles are opaque to the
// engine; the transport owns their meaning.
type PeerHandle string

// Transport is the abstract send primitive supplied by the overlay layer.
// Peers is re-queried at rebroadcast time, so peers that disconnect
// mid-relay are simply skipped.
type Transport interface {
	Peers() []PeerHandle
	Send(ctx context.Context, peer PeerHandle, data []byte) error
}

// DeliverFunc receives decrypted content for the local subscriber (UI,
// IRC bridge). The engine does not define that consumer's shape.
type DeliverFunc func(kind proto.Kind, target string, plaintext []byte)

type Options struct {
	Transport Transport
	Deliver   DeliverFunc
	Keys      *cryptobox.KeyPair
	Nick      string

	SeenCapacity int
	LogCapacity  int
	SendTimeout  time.Duration

	// PeerEventRate caps inbound events per peer per second before any
	// crypto work; zero disables limiting.
	PeerEventRate  float64
	PeerEventBurst int

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Engine owns all shared relay state. It is internally synchronized and
// passed by handle to every inbound stream; construct a fresh instance per
// test.
type Engine struct {
	transport Transport
	deliver   DeliverFunc
	keys      *cryptobox.KeyPair
	nick      string
	selfHex   string

	seenCache *seen.Cache
	channels  *channel.Registry
	log       *eventlog.Log

	metrics *metrics.Metrics
	logger  *zap.Logger

	sendTimeout time.Duration

	rateLimit rate.Limit
	rateBurst int
	limMu     sync.Mutex
	limiters  map[PeerHandle]*rate.Limiter

	inflight sync.WaitGroup
	closed   atomic.Bool
}

func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("missing transport")
	}
	if opts.Keys == nil {
		return nil, errors.New("missing node keys")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	burst := opts.PeerEventBurst
	if burst <= 0 {
		burst = 2 * int(opts.PeerEventRate)
		if burst < 1 {
			burst = 1
		}
	}
	return &Engine{
		transport:   opts.Transport,
		deliver:     opts.Deliver,
		keys:        opts.Keys,
		nick:        opts.Nick,
		selfHex:     opts.Keys.PublicHex(),
		seenCache:   seen.New(opts.SeenCapacity),
		channels:    channel.NewRegistry(),
		log:         eventlog.New(opts.LogCapacity),
		metrics:     m,
		logger:      logger,
		sendTimeout: timeout,
		rateLimit:   rate.Limit(opts.PeerEventRate),
		rateBurst:   burst,
		limiters:    make(map[PeerHandle]*rate.Limiter),
	}, nil
}

// Channels exposes the registry for the control plane.
func (e *Engine) Channels() *channel.Registry { return e.channels }

// SelfKey returns the node public key in wire form.
func (e *Engine) SelfKey() string { return e.selfHex }

func (e *Engine) allow(origin PeerHandle) bool {
	if e.rateLimit <= 0 || origin == "" {
		return true
	}
	e.limMu.Lock()
	lim, ok := e.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(e.rateLimit, e.rateBurst)
		e.limiters[origin] = lim
	}
	e.limMu.Unlock()
	return lim.Allow()
}

// ForgetPeer drops per-peer limiter state once the transport loses the
// peer, keeping the limiter map bounded by the connected-peer set.
func (e *Engine) ForgetPeer(peer PeerHandle) {
	e.limMu.Lock()
	delete(e.limiters, peer)
	e.limMu.Unlock()
}

// OnEvent is the transport entry point, called once per received frame.
// Nothing here is fatal: malformed input is dropped and counted, duplicate
// input terminates silently, and per-peer send failures stay isolated.
func (e *Engine) OnEvent(origin PeerHandle, raw []byte) {
	if e.closed.Load() {
		return
	}
	if !e.allow(origin) {
		e.metrics.EventsReceived.WithLabelValues(metrics.ResultRateLimited).Inc()
		e.logger.Debug("event rate limited", zap.String("peer", string(origin)))
		return
	}
	ev, err := proto.DecodeEvent(raw)
	if err != nil {
		e.metrics.EventsReceived.WithLabelValues(metrics.ResultMalformed).Inc()
		e.logger.Debug("malformed event dropped",
			zap.String("peer", string(origin)), zap.Error(err))
		return
	}
	ev.Origin = string(origin)
	if e.seenCache.ContainsAndRecord(ev.ID) {
		e.metrics.EventsReceived.WithLabelValues(metrics.ResultDuplicate).Inc()
		return
	}
	e.metrics.EventsReceived.WithLabelValues(metrics.ResultAccepted).Inc()
	e.route(ev)
	e.rebroadcast(ev, raw)
	e.log.Append(ev)
}

// route decides local delivery. Relay never depends on the outcome: a
// missing key or failed decryption skips delivery and nothing else.
func (e *Engine) route(ev proto.Event) {
	if e.deliver == nil {
		return
	}
	switch ev.Kind {
	case proto.KindPrivateMessage:
		if ev.Target != e.selfHex {
			return
		}
		plain, err := cryptobox.Open(e.keys.Public, e.keys.Secret, ev.Payload)
		if err != nil {
			e.metrics.DecryptFailed.Inc()
			e.logger.Debug("private message decrypt failed", zap.String("id", fmt.Sprintf("%x", ev.ID[:8])))
			return
		}
		e.metrics.Delivered.Inc()
		e.deliver(ev.Kind, ev.Target, plain)
	case proto.KindChannelMessage, proto.KindJoin, proto.KindPart:
		key, joined := e.channels.KeyFor(ev.Target)
		if !joined {
			return
		}
		plain := ev.Payload
		if key != nil {
			var err error
			plain, err = cryptobox.OpenChannel(key, ev.Nonce[:], ev.Payload, ev.Target)
			if err != nil {
				e.metrics.DecryptFailed.Inc()
				e.logger.Debug("channel decrypt failed",
					zap.String("channel", ev.Target), zap.String("id", fmt.Sprintf("%x", ev.ID[:8])))
				return
			}
		}
		e.metrics.Delivered.Inc()
		e.deliver(ev.Kind, ev.Target, plain)
	}
}

// rebroadcast fans the original bytes out unmodified to every currently
// connected peer except the origin, one goroutine per peer. A failed send
// never affects the other peers and never rolls back dedup/log state.
func (e *Engine) rebroadcast(ev proto.Event, raw []byte) {
	peers := e.transport.Peers()
	for _, p := range peers {
		if string(p) == ev.Origin {
			continue
		}
		peer := p
		e.inflight.Add(1)
		e.metrics.PeerSends.Inc()
		go func() {
			defer e.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
			defer cancel()
			if err := e.transport.Send(ctx, peer, raw); err != nil {
				e.metrics.PeerSendFails.Inc()
				e.logger.Warn("peer send failed",
					zap.String("peer", string(peer)), zap.Error(err))
			}
		}()
	}
}

// broadcastLocal pushes a locally originated event through the committed
// half of the pipeline: record as seen, fan out (no origin to exclude),
// log. The local user is not echoed through the delivery callback.
func (e *Engine) broadcastLocal(ev proto.Event) error {
	if e.closed.Load() {
		return errors.New("engine closed")
	}
	raw, err := proto.EncodeEvent(ev)
	if err != nil {
		return err
	}
	// Receivers drop anything over the event cap, so committing a larger
	// event would black-hole it. Reject before any state changes.
	if len(raw) > proto.MaxEventSize {
		return fmt.Errorf("message too large: %d bytes on the wire, cap %d", len(raw), proto.MaxEventSize)
	}
	e.seenCache.ContainsAndRecord(ev.ID)
	e.rebroadcast(ev, raw)
	e.log.Append(ev)
	return nil
}

func (e *Engine) newOutbound(kind proto.Kind, target string, plaintext []byte, key *[cryptobox.KeySize]byte) (proto.Event, error) {
	nonce, err := proto.RandomNonce()
	if err != nil {
		return proto.Event{}, err
	}
	payload := plaintext
	if key != nil {
		payload, err = cryptobox.SealChannel(key, nonce[:], plaintext, target)
		if err != nil {
			return proto.Event{}, err
		}
	}
	ts := time.Now().UnixMilli()
	return proto.Event{
		ID:        proto.ComputeID(kind, target, payload, ts, nonce),
		Timestamp: ts,
		Kind:      kind,
		Target:    target,
		Nonce:     nonce,
		Payload:   payload,
	}, nil
}

// SendChannelMessage originates a message on a joined channel, sealing it
// when the channel carries a shared key.
func (e *Engine) SendChannelMessage(name string, text []byte) (proto.Event, error) {
	key, joined := e.channels.KeyFor(name)
	if !joined {
		return proto.Event{}, fmt.Errorf("not joined to %s", name)
	}
	ev, err := e.newOutbound(proto.KindChannelMessage, name, text, key)
	if err != nil {
		return proto.Event{}, err
	}
	return ev, e.broadcastLocal(ev)
}

// SendPrivateMessage seals text for the recipient key and floods it. Every
// node relays it; only the recipient can open it.
func (e *Engine) SendPrivateMessage(recipientHex string, text []byte) (proto.Event, error) {
	pub, err := cryptobox.ParsePublicKeyHex(recipientHex)
	if err != nil {
		return proto.Event{}, err
	}
	sealed, err := cryptobox.Seal(pub, text)
	if err != nil {
		return proto.Event{}, err
	}
	ev, err := e.newOutbound(proto.KindPrivateMessage, recipientHex, sealed, nil)
	if err != nil {
		return proto.Event{}, err
	}
	return ev, e.broadcastLocal(ev)
}

// Join registers the channel (rotating its key when already joined) and
// announces the join to the network.
func (e *Engine) Join(name string, key *[cryptobox.KeySize]byte) error {
	if name == "" {
		return errors.New("missing channel name")
	}
	e.channels.Join(name, key)
	ev, err := e.newOutbound(proto.KindJoin, name, []byte(e.nick), key)
	if err != nil {
		return err
	}
	return e.broadcastLocal(ev)
}

// Part announces departure while the channel key is still known, then
// drops the registration. Parting an unjoined channel is a no-op.
func (e *Engine) Part(name string) error {
	key, joined := e.channels.KeyFor(name)
	if !joined {
		return nil
	}
	ev, err := e.newOutbound(proto.KindPart, name, []byte(e.nick), key)
	if err != nil {
		return err
	}
	if err := e.broadcastLocal(ev); err != nil {
		return err
	}
	e.channels.Part(name)
	return nil
}

// SnapshotSince serves the catch-up surface from the event log.
func (e *Engine) SnapshotSince(cursor uint64) ([]proto.Event, bool) {
	e.metrics.HistoryServed.Inc()
	return e.log.SnapshotSince(cursor)
}

// Cursor returns the catch-up cursor of the newest logged event.
func (e *Engine) Cursor() uint64 { return e.log.Cursor() }

// Drain waits for in-flight peer sends to finish.
func (e *Engine) Drain() { e.inflight.Wait() }

// Close stops accepting new inbound events and lets in-flight sends drain.
func (e *Engine) Close() {
	e.closed.Store(true)
	e.inflight.Wait()
}
