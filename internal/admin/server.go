// Package admin is the local control plane: channel membership, sending
// messages, history reads, peer listing and prometheus metrics. It binds
// to loopback by default and carries no authentication of its own.
package admin

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meshchat/internal/cryptobox"
	"meshchat/internal/peers"
	"meshchat/internal/relay"
	"meshchat/internal/transport"
)

type Server struct {
	engine    *relay.Engine
	transport *transport.QUIC
	book      *peers.Book
	logger    *zap.Logger
}

func New(engine *relay.Engine, tr *transport.QUIC, book *peers.Book, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, transport: tr, book: book, logger: logger}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/node", s.handleNode).Methods(http.MethodGet)
	r.HandleFunc("/v1/peers", s.handlePeers).Methods(http.MethodGet)
	r.HandleFunc("/v1/channels", s.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/v1/channels/{name}/join", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/v1/channels/{name}/part", s.handlePart).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/private", s.handleSendPrivate).Methods(http.MethodPost)
	r.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the admin surface until the server errors out.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("admin listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"public_key": s.engine.SelfKey(),
		"cursor":     s.engine.Cursor(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	connected := s.transport.Peers()
	handles := make([]string, 0, len(connected))
	for _, p := range connected {
		handles = append(handles, string(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": handles,
		"known":     s.book.List(),
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.engine.Channels().List()})
}

type joinRequest struct {
	Key string `json:"key,omitempty"` // base64 shared key
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req joinRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	var key *[cryptobox.KeySize]byte
	if req.Key != "" {
		raw, err := base64.StdEncoding.DecodeString(req.Key)
		if err != nil || len(raw) != cryptobox.KeySize {
			writeErr(w, http.StatusBadRequest, "key must be base64 of 32 bytes")
			return
		}
		key = new([cryptobox.KeySize]byte)
		copy(key[:], raw)
	}
	if err := s.engine.Join(name, key); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"joined": name})
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.engine.Part(name); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"parted": name})
}

type sendMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Channel == "" || req.Text == "" {
		writeErr(w, http.StatusBadRequest, "channel and text are required")
		return
	}
	ev, err := s.engine.SendChannelMessage(req.Channel, []byte(req.Text))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hex.EncodeToString(ev.ID[:])})
}

type sendPrivateRequest struct {
	To   string `json:"to"` // hex recipient public key
	Text string `json:"text"`
}

func (s *Server) handleSendPrivate(w http.ResponseWriter, r *http.Request) {
	var req sendPrivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.To == "" || req.Text == "" {
		writeErr(w, http.StatusBadRequest, "to and text are required")
		return
	}
	ev, err := s.engine.SendPrivateMessage(req.To, []byte(req.Text))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hex.EncodeToString(ev.ID[:])})
}

type historyEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	cursor := uint64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad cursor")
			return
		}
		cursor = v
	}
	events, gap := s.engine.SnapshotSince(cursor)
	out := make([]historyEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, historyEntry{
			ID:        hex.EncodeToString(ev.ID[:]),
			Timestamp: ev.Timestamp,
			Kind:      ev.Kind.String(),
			Target:    ev.Target,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cursor": s.engine.Cursor(),
		"gap":    gap,
		"events": out,
	})
}
