// Package daemon wires the transport to the relay engine and runs the
// background loops: peer reconnect, mDNS discovery and catch-up requests
// toward freshly connected peers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"meshchat/internal/config"
	"meshchat/internal/cryptobox"
	"meshchat/internal/discovery"
	"meshchat/internal/metrics"
	"meshchat/internal/peers"
	"meshchat/internal/proto"
	"meshchat/internal/relay"
	"meshchat/internal/transport"
)

const (
	reconnectInterval = 15 * time.Second
	catchupTimeout    = 10 * time.Second
)

type Options struct {
	Registry prometheus.Registerer
	Deliver  relay.DeliverFunc
}

type Runner struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	engine    *relay.Engine
	transport *transport.QUIC
	book      *peers.Book
	disc      *discovery.Discovery

	cursorMu sync.Mutex
	cursors  map[relay.PeerHandle]uint64
}

func New(cfg config.Config, logger *zap.Logger, opts Options) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys, err := cryptobox.EnsureKeyPair(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("node identity: %w", err)
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := metrics.New(reg)
	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		book:    peers.NewBook(),
		cursors: make(map[relay.PeerHandle]uint64),
	}
	r.transport = transport.NewQUIC(r.recvData, logger.Named("transport"))
	engine, err := relay.New(relay.Options{
		Transport:      r.transport,
		Deliver:        opts.Deliver,
		Keys:           keys,
		Nick:           cfg.Nick,
		SeenCapacity:   cfg.SeenCacheCapacity,
		LogCapacity:    cfg.EventLogCapacity,
		SendTimeout:    cfg.SendTimeout,
		PeerEventRate:  cfg.PeerEventRate,
		PeerEventBurst: cfg.PeerEventBurst,
		Metrics:        m,
		Logger:         logger.Named("relay"),
	})
	if err != nil {
		return nil, err
	}
	r.engine = engine
	for _, ch := range cfg.Channels {
		key, err := ch.SharedKey()
		if err != nil {
			return nil, err
		}
		// Configured channels are joined quietly at boot; no join event
		// floods out before any peer is connected anyway.
		engine.Channels().Join(ch.Name, key)
	}
	for _, addr := range cfg.Peers {
		r.book.Add(addr, "bootstrap")
	}
	r.transport.OnConnect(r.requestCatchUp)
	r.transport.OnDisconnect(engine.ForgetPeer)
	return r, nil
}

func (r *Runner) Engine() *relay.Engine { return r.engine }

func (r *Runner) Transport() *transport.QUIC { return r.transport }

func (r *Runner) Book() *peers.Book { return r.book }

// recvData is the transport handler: one inbound message, optional
// response on the same stream.
func (r *Runner) recvData(peer relay.PeerHandle, data []byte) []byte {
	msgType, ok := proto.SniffType(data)
	if !ok {
		r.metrics.EventsReceived.WithLabelValues(metrics.ResultMalformed).Inc()
		r.logger.Debug("undecodable frame", zap.String("peer", string(peer)))
		return nil
	}
	if len(data) > proto.MaxSizeForType(msgType) {
		r.metrics.EventsReceived.WithLabelValues(metrics.ResultMalformed).Inc()
		r.logger.Debug("oversized message", zap.String("type", msgType), zap.Int("len", len(data)))
		return nil
	}
	switch msgType {
	case proto.MsgTypeEvent:
		r.engine.OnEvent(peer, data)
		return nil

	case proto.MsgTypeHistoryReq:
		req, err := proto.DecodeHistoryReq(data)
		if err != nil {
			r.logger.Debug("bad history request", zap.String("peer", string(peer)), zap.Error(err))
			return nil
		}
		events, gap := r.engine.SnapshotSince(req.Cursor)
		resp, err := proto.EncodeHistoryResp(r.engine.Cursor(), gap, events)
		if err != nil {
			r.logger.Warn("encode history response failed", zap.Error(err))
			return nil
		}
		return resp

	case proto.MsgTypeHistoryResp:
		// Responses arrive on Exchange streams; an unsolicited push is a
		// protocol violation and dropped.
		r.logger.Debug("unsolicited history response", zap.String("peer", string(peer)))
		return nil

	default:
		r.logger.Debug("unknown message type", zap.String("type", msgType), zap.String("peer", string(peer)))
		return nil
	}
}

// requestCatchUp asks a newly connected peer for events after the cursor
// we last saw from it. Replayed events re-enter the relay pipeline, so
// dedup and delivery rules apply unchanged.
func (r *Runner) requestCatchUp(peer relay.PeerHandle) {
	r.cursorMu.Lock()
	cursor := r.cursors[peer]
	r.cursorMu.Unlock()
	req, err := proto.EncodeHistoryReq(cursor)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catchupTimeout)
	defer cancel()
	raw, err := r.transport.Exchange(ctx, peer, req)
	if err != nil {
		r.logger.Debug("catch-up request failed", zap.String("peer", string(peer)), zap.Error(err))
		return
	}
	resp, err := proto.DecodeHistoryResp(raw)
	if err != nil {
		r.logger.Debug("bad catch-up response", zap.String("peer", string(peer)), zap.Error(err))
		return
	}
	if resp.Gap {
		r.logger.Info("catch-up gap: peer's ring overwrote part of the window",
			zap.String("peer", string(peer)), zap.Uint64("cursor", cursor))
	}
	for _, rawEv := range resp.Events {
		r.engine.OnEvent(peer, rawEv)
	}
	r.cursorMu.Lock()
	r.cursors[peer] = resp.Cursor
	r.cursorMu.Unlock()
	r.logger.Debug("catch-up complete",
		zap.String("peer", string(peer)), zap.Int("events", len(resp.Events)))
}

// Run blocks until ctx is done or the listener fails.
func (r *Runner) Run(ctx context.Context) error {
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.transport.Listen(ctx, r.cfg.Listen, ready)
	}()
	select {
	case addr := <-ready:
		r.logger.Info("node ready", zap.String("addr", addr), zap.String("key", r.engine.SelfKey()))
		if r.cfg.Discovery.Enabled {
			if err := r.startDiscovery(addr); err != nil {
				r.logger.Warn("discovery unavailable", zap.Error(err))
			}
		}
		go r.connectLoop(ctx)
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
	err := <-errCh
	r.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) startDiscovery(listenAddr string) error {
	_, port, err := splitPort(listenAddr)
	if err != nil {
		return err
	}
	name := r.cfg.Discovery.Name
	if name == "" {
		name = "meshchat-" + r.engine.SelfKey()[:12]
	}
	disc, err := discovery.New(name, port, func(p discovery.Peer) {
		r.book.Add(p.Addr, "mdns")
	})
	if err != nil {
		return err
	}
	r.disc = disc
	return nil
}

// connectLoop keeps dialing known addresses; Connect is a no-op for
// addresses already connected.
func (r *Runner) connectLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	r.dialKnown(ctx)
	for {
		select {
		case <-ticker.C:
			r.dialKnown(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) dialKnown(ctx context.Context) {
	for _, e := range r.book.List() {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := r.transport.Connect(dialCtx, e.Addr)
		cancel()
		if err != nil {
			r.logger.Debug("dial failed", zap.String("addr", e.Addr), zap.Error(err))
		}
	}
}

func (r *Runner) shutdown() {
	if r.disc != nil {
		_ = r.disc.Close()
	}
	r.engine.Close()
	_ = r.transport.Close()
}
