package admin

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"meshchat/internal/cryptobox"
	"meshchat/internal/metrics"
	"meshchat/internal/peers"
	"meshchat/internal/relay"
	"meshchat/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *relay.Engine) {
	t.Helper()
	keys, err := cryptobox.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	tr := transport.NewQUIC(nil, nil)
	engine, err := relay.New(relay.Options{
		Transport: tr,
		Keys:      keys,
		Nick:      "tester",
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	book := peers.NewBook()
	book.Add("192.0.2.1:6465", "bootstrap")
	return New(engine, tr, book, nil), engine
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: non-json body %q", method, path, rr.Body.String())
	}
	return rr, out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rr, body := doJSON(t, s.Router(), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", rr.Code, body)
	}
}

func TestNodeInfo(t *testing.T) {
	s, engine := newTestServer(t)
	rr, body := doJSON(t, s.Router(), http.MethodGet, "/v1/node", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["public_key"] != engine.SelfKey() {
		t.Fatalf("public key mismatch: %v", body["public_key"])
	}
}

func TestJoinPartChannel(t *testing.T) {
	s, engine := newTestServer(t)
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	rr, _ := doJSON(t, s.Router(), http.MethodPost, "/v1/channels/%23dev/join", `{"key":"`+key+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("join: %d", rr.Code)
	}
	if !engine.Channels().IsJoined("#dev") {
		t.Fatalf("join did not register the channel")
	}

	rr, body := doJSON(t, s.Router(), http.MethodGet, "/v1/channels", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("channels: %d", rr.Code)
	}
	if chans, ok := body["channels"].([]any); !ok || len(chans) != 1 {
		t.Fatalf("channels listing: %v", body)
	}

	rr, _ = doJSON(t, s.Router(), http.MethodPost, "/v1/channels/%23dev/part", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("part: %d", rr.Code)
	}
	if engine.Channels().IsJoined("#dev") {
		t.Fatalf("part left the channel registered")
	}
}

func TestJoinRejectsBadKey(t *testing.T) {
	s, _ := newTestServer(t)
	rr, _ := doJSON(t, s.Router(), http.MethodPost, "/v1/channels/dev/join", `{"key":"c2hvcnQ="}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSendMessage(t *testing.T) {
	s, engine := newTestServer(t)
	engine.Channels().Join("#dev", nil)

	rr, body := doJSON(t, s.Router(), http.MethodPost, "/v1/messages", `{"channel":"#dev","text":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: %d %v", rr.Code, body)
	}
	if id, ok := body["id"].(string); !ok || len(id) != 64 {
		t.Fatalf("missing event id: %v", body)
	}
	engine.Drain()
	if engine.Cursor() != 1 {
		t.Fatalf("message not logged")
	}

	rr, _ = doJSON(t, s.Router(), http.MethodPost, "/v1/messages", `{"channel":"#ops","text":"hi"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unjoined channel send: %d, want 400", rr.Code)
	}
	rr, _ = doJSON(t, s.Router(), http.MethodPost, "/v1/messages", `{"channel":"#dev"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty text send: %d, want 400", rr.Code)
	}
}

func TestSendPrivate(t *testing.T) {
	s, _ := newTestServer(t)
	other, err := cryptobox.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	rr, body := doJSON(t, s.Router(), http.MethodPost, "/v1/private", `{"to":"`+other.PublicHex()+`","text":"psst"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: %d %v", rr.Code, body)
	}
	rr, _ = doJSON(t, s.Router(), http.MethodPost, "/v1/private", `{"to":"nothex","text":"psst"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad recipient: %d, want 400", rr.Code)
	}
}

func TestPeersListing(t *testing.T) {
	s, _ := newTestServer(t)
	rr, body := doJSON(t, s.Router(), http.MethodGet, "/v1/peers", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("peers: %d", rr.Code)
	}
	known, ok := body["known"].([]any)
	if !ok || len(known) != 1 {
		t.Fatalf("known peers: %v", body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, engine := newTestServer(t)
	engine.Channels().Join("#dev", nil)
	if _, err := engine.SendChannelMessage("#dev", []byte("one")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := engine.SendChannelMessage("#dev", []byte("two")); err != nil {
		t.Fatalf("send: %v", err)
	}
	engine.Drain()

	rr, body := doJSON(t, s.Router(), http.MethodGet, "/v1/history?cursor=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("history events: %v", body)
	}
	if body["cursor"].(float64) != 2 {
		t.Fatalf("cursor: %v", body["cursor"])
	}

	rr, _ = doJSON(t, s.Router(), http.MethodGet, "/v1/history?cursor=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: %d, want 400", rr.Code)
	}
}
