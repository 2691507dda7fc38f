package rtm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satorivideo/videobot/internal/reactor"
)

// fakeRTMServer implements just enough of the RTM protocol for tests.
type fakeRTMServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	server   *httptest.Server

	conns chan *websocket.Conn
}

func newFakeRTMServer(t *testing.T) *fakeRTMServer {
	s := &fakeRTMServer{t: t, conns: make(chan *websocket.Conn, 1)}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2" {
			http.NotFound(w, r)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.conns <- conn
	}))
	return s
}

func (s *fakeRTMServer) host() (endpoint, port string) {
	hostport := strings.TrimPrefix(s.server.URL, "http://")
	idx := strings.LastIndex(hostport, ":")
	return hostport[:idx], hostport[idx+1:]
}

func (s *fakeRTMServer) conn() *websocket.Conn {
	select {
	case c := <-s.conns:
		return c
	case <-time.After(time.Second):
		s.t.Fatal("no client connected")
		return nil
	}
}

func (s *fakeRTMServer) close() { s.server.Close() }

type recordingCallbacks struct {
	data chan json.RawMessage
	errs chan error
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{
		data: make(chan json.RawMessage, 16),
		errs: make(chan error, 16),
	}
}

func (r *recordingCallbacks) OnData(_ *Subscription, msg json.RawMessage) { r.data <- msg }
func (r *recordingCallbacks) OnError(err error)                           { r.errs <- err }

func startClient(t *testing.T, s *fakeRTMServer) (*Client, *reactor.Loop, *recordingCallbacks) {
	t.Helper()
	endpoint, port := s.host()
	loop := reactor.NewLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)

	cb := newRecordingCallbacks()
	client := NewClient(ClientConfig{
		Endpoint: endpoint,
		Port:     port,
		AppKey:   "test-key",
		Insecure: true,
	}, loop, cb)
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { client.Stop() })
	return client, loop, cb
}

func readPDU(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("server parse: %v", err)
	}
	return m
}

func TestSubscribeDataRoundTrip(t *testing.T) {
	server := newFakeRTMServer(t)
	defer server.close()

	client, _, _ := startClient(t, server)
	conn := server.conn()

	sub := &Subscription{}
	cb := newRecordingCallbacks()
	opts := &SubscriptionOptions{}
	opts.History.Count = 1
	if err := client.SubscribeChannel("camera/metadata", sub, cb, opts); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}

	req := readPDU(t, conn)
	if req["action"] != "rtm/subscribe" {
		t.Fatalf("action = %v, want rtm/subscribe", req["action"])
	}
	body := req["body"].(map[string]any)
	if body["channel"] != "camera/metadata" || body["subscription_id"] != "camera/metadata" {
		t.Errorf("subscribe body = %v", body)
	}
	history, ok := body["history"].(map[string]any)
	if !ok || history["count"] != float64(1) {
		t.Errorf("history = %v, want count 1", body["history"])
	}

	id := uint64(req["id"].(float64))
	ack := map[string]any{"action": "rtm/subscribe/ok", "id": id, "body": map[string]any{}}
	if err := conn.WriteJSON(ack); err != nil {
		t.Fatalf("server write: %v", err)
	}

	data := map[string]any{
		"action": "rtm/subscription/data",
		"body": map[string]any{
			"subscription_id": "camera/metadata",
			"messages":        []any{map[string]any{"codecName": "h264"}},
		},
	}
	if err := conn.WriteJSON(data); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case msg := <-cb.data:
		var parsed map[string]any
		if err := json.Unmarshal(msg, &parsed); err != nil {
			t.Fatalf("message parse: %v", err)
		}
		if parsed["codecName"] != "h264" {
			t.Errorf("message = %v", parsed)
		}
	case <-time.After(time.Second):
		t.Fatal("OnData not invoked")
	}
}

func TestPublishPDU(t *testing.T) {
	server := newFakeRTMServer(t)
	defer server.close()

	client, _, _ := startClient(t, server)
	conn := server.conn()

	if err := client.Publish("camera/analysis", map[string]any{"found": true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	req := readPDU(t, conn)
	if req["action"] != "rtm/publish" {
		t.Fatalf("action = %v, want rtm/publish", req["action"])
	}
	body := req["body"].(map[string]any)
	if body["channel"] != "camera/analysis" {
		t.Errorf("channel = %v", body["channel"])
	}
	msg := body["message"].(map[string]any)
	if msg["found"] != true {
		t.Errorf("message = %v", msg)
	}
}

func TestSubscribeErrorSurfacesToCallbacks(t *testing.T) {
	server := newFakeRTMServer(t)
	defer server.close()

	client, _, _ := startClient(t, server)
	conn := server.conn()

	sub := &Subscription{}
	cb := newRecordingCallbacks()
	if err := client.SubscribeChannel("denied", sub, cb, nil); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}

	req := readPDU(t, conn)
	id := uint64(req["id"].(float64))
	nack := map[string]any{"action": "rtm/subscribe/error", "id": id, "body": map[string]any{}}
	if err := conn.WriteJSON(nack); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case err := <-cb.errs:
		if err != ErrSubscribeError {
			t.Errorf("error = %v, want ErrSubscribeError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not invoked")
	}
}

func TestPublishWhenStoppedReturnsNotConnected(t *testing.T) {
	server := newFakeRTMServer(t)
	defer server.close()

	client, _, _ := startClient(t, server)
	server.conn()
	client.Stop()

	// the read pump transitions to stopped asynchronously
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := client.Publish("x", "y"); err != nil {
			if !strings.Contains(err.Error(), ErrNotConnected.Error()) {
				t.Fatalf("error = %v, want not connected", err)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Publish kept succeeding after Stop")
}
