// Package transport carries meshchat frames over QUIC. One message per
// stream: the sender writes a length-prefixed frame and closes its write
// side; a response, if any, comes back on the same stream.
package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"meshchat/internal/proto"
	"meshchat/internal/relay"
)

const alpn = "meshchat/1"

var quicConfig = &quic.Config{
	// QUIC's 30s default idles out quiet chat links.
	MaxIdleTimeout:  5 * time.Minute,
	KeepAlivePeriod: 30 * time.Second,
}

// Handler consumes one inbound message and may return a response to write
// back on the same stream.
type Handler func(peer relay.PeerHandle, data []byte) []byte

// QUIC implements relay.Transport over quic-go. The connected-peer set is
// whatever connections are currently alive, inbound or dialed.
type QUIC struct {
	handler Handler
	logger  *zap.Logger

	mu       sync.RWMutex
	conns    map[relay.PeerHandle]quic.Connection
	listener *quic.Listener

	onConnect    func(peer relay.PeerHandle)
	onDisconnect func(peer relay.PeerHandle)
}

func NewQUIC(handler Handler, logger *zap.Logger) *QUIC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QUIC{
		handler: handler,
		logger:  logger,
		conns:   make(map[relay.PeerHandle]quic.Connection),
	}
}

// OnConnect registers a callback fired whenever a new peer connection is
// registered (used by the daemon to request catch-up).
func (t *QUIC) OnConnect(fn func(peer relay.PeerHandle)) { t.onConnect = fn }

// OnDisconnect registers a callback fired when a peer's connection is
// dropped (used to release per-peer relay state).
func (t *QUIC) OnDisconnect(fn func(peer relay.PeerHandle)) { t.onDisconnect = fn }

func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{alpn},
	}, nil
}

func clientTLS() *tls.Config {
	// Peer identity in this network is the sealed-box keypair, not the
	// transport cert; every node presents a self-signed cert.
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}
}

// Listen starts accepting connections and blocks until ctx is done or the
// listener fails. ready, when non-nil, receives the bound address.
func (t *QUIC) Listen(ctx context.Context, addr string, ready chan<- string) error {
	tlsConf, err := selfSignedTLS()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig)
	if err != nil {
		return fmt.Errorf("quic listen: %w", err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()
	t.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	if ready != nil {
		ready <- listener.Addr().String()
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("quic accept: %w", err)
		}
		t.register(conn)
	}
}

func (t *QUIC) register(conn quic.Connection) {
	peer := relay.PeerHandle(conn.RemoteAddr().String())
	t.mu.Lock()
	if old, ok := t.conns[peer]; ok && old != conn {
		_ = old.CloseWithError(0, "replaced")
	}
	t.conns[peer] = conn
	t.mu.Unlock()
	t.logger.Info("peer connected", zap.String("peer", string(peer)))
	go t.serveConn(peer, conn)
	if t.onConnect != nil {
		go t.onConnect(peer)
	}
}

func (t *QUIC) drop(peer relay.PeerHandle, conn quic.Connection) {
	t.mu.Lock()
	if cur, ok := t.conns[peer]; ok && cur == conn {
		delete(t.conns, peer)
	}
	t.mu.Unlock()
	t.logger.Info("peer disconnected", zap.String("peer", string(peer)))
	if t.onDisconnect != nil {
		go t.onDisconnect(peer)
	}
}

func (t *QUIC) serveConn(peer relay.PeerHandle, conn quic.Connection) {
	defer t.drop(peer, conn)
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go t.serveStream(peer, stream)
	}
}

func (t *QUIC) serveStream(peer relay.PeerHandle, stream quic.Stream) {
	defer stream.Close()
	data, err := proto.ReadFrame(stream)
	if err != nil {
		t.logger.Debug("frame read failed", zap.String("peer", string(peer)), zap.Error(err))
		return
	}
	if t.handler == nil {
		return
	}
	resp := t.handler(peer, data)
	if len(resp) == 0 {
		return
	}
	out, err := proto.EncodeFrame(resp)
	if err != nil {
		return
	}
	_, _ = stream.Write(out)
}

// Connect dials a peer and registers the connection so pushes flow both
// ways.
func (t *QUIC) Connect(ctx context.Context, addr string) (relay.PeerHandle, error) {
	t.mu.RLock()
	for peer, conn := range t.conns {
		if conn.RemoteAddr().String() == addr {
			t.mu.RUnlock()
			return peer, nil
		}
	}
	t.mu.RUnlock()
	conn, err := quic.DialAddr(ctx, addr, clientTLS(), quicConfig)
	if err != nil {
		return "", fmt.Errorf("quic dial %s: %w", addr, err)
	}
	t.register(conn)
	return relay.PeerHandle(conn.RemoteAddr().String()), nil
}

// Peers returns the currently connected peer handles.
func (t *QUIC) Peers() []relay.PeerHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]relay.PeerHandle, 0, len(t.conns))
	for peer := range t.conns {
		out = append(out, peer)
	}
	return out
}

// Send pushes one fire-and-forget message to a connected peer.
func (t *QUIC) Send(ctx context.Context, peer relay.PeerHandle, data []byte) error {
	t.mu.RLock()
	conn, ok := t.conns[peer]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peer not connected: %s", peer)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	out, err := proto.EncodeFrame(data)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	_, err = stream.Write(out)
	return err
}

// Exchange sends a request and waits for the single response frame on the
// same stream. Used for catch-up requests.
func (t *QUIC) Exchange(ctx context.Context, peer relay.PeerHandle, data []byte) ([]byte, error) {
	t.mu.RLock()
	conn, ok := t.conns[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("peer not connected: %s", peer)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	out, err := proto.EncodeFrame(data)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
		_ = stream.SetReadDeadline(deadline)
	}
	if _, err := stream.Write(out); err != nil {
		return nil, err
	}
	return proto.ReadFrame(stream)
}

// Close tears down the listener and every connection.
func (t *QUIC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	if t.listener != nil {
		if err := t.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for peer, conn := range t.conns {
		if err := conn.CloseWithError(0, "shutdown"); err != nil && firstErr == nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
		delete(t.conns, peer)
	}
	return firstErr
}
