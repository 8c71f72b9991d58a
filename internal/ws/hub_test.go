package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drowseguard/drowseguard/internal/engine"
	wsHub "github.com/drowseguard/drowseguard/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

// counter is a snapshot source whose value changes on every call.
type counter struct{ n atomic.Int64 }

func (c *counter) snapshot() any {
	return map[string]any{"seq": c.n.Add(1), "generated_at": time.Now().UTC().Format(time.RFC3339)}
}

// startHub serves hub over httptest and runs its broadcast loop with the
// given interval. Returns the ws:// URL and the hub.
func startHub(t *testing.T, src wsHub.SnapshotFunc, interval time.Duration) (string, *wsHub.Hub) {
	t.Helper()
	hub := wsHub.New(src, interval)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

// dial connects a WebSocket client to wsURL.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads and decodes one message with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// waitCount polls hub.Count until it equals want or the deadline passes.
func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	c := &counter{}
	wsURL, _ := startHub(t, c.snapshot, time.Hour)

	m := readMessage(t, dial(t, wsURL), 2*time.Second)
	if m["event"] != "snapshot" {
		t.Errorf("event: got %v, want snapshot", m["event"])
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	c := &counter{}
	wsURL, _ := startHub(t, c.snapshot, testInterval)

	conn := dial(t, wsURL)
	first := readMessage(t, conn, 2*time.Second)
	next := readMessage(t, conn, 2*time.Second)

	a := first["data"].(map[string]any)["seq"].(float64)
	b := next["data"].(map[string]any)["seq"].(float64)
	if b <= a {
		t.Errorf("seq: got %v then %v, want increasing", a, b)
	}
}

func TestHub_AlertEdgeTriggersBroadcast(t *testing.T) {
	c := &counter{}
	wsURL, hub := startHub(t, c.snapshot, time.Hour) // ticker never fires

	conn := dial(t, wsURL)
	readMessage(t, conn, 2*time.Second)
	waitCount(t, hub, 1)

	// A frame without an edge must not broadcast.
	hub.FrameProcessed("cab-1", engine.FrameResult{Alert: true})
	hub.FrameProcessed("cab-1", engine.FrameResult{Alert: true, AlertStarted: true})

	m := readMessage(t, conn, time.Second)
	if m["event"] != "snapshot" {
		t.Errorf("event: got %v, want snapshot", m["event"])
	}
}

func TestHub_CountClients(t *testing.T) {
	c := &counter{}
	wsURL, hub := startHub(t, c.snapshot, time.Hour)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i], 2*time.Second)
	}
	waitCount(t, hub, 3)

	conns[0].Close()
	waitCount(t, hub, 2)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	c := &counter{}
	hub := wsHub.New(c.snapshot, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	readMessage(t, conn, 2*time.Second)
	waitCount(t, hub, 1)

	cancel()
	<-done
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage after shutdown: expected close error")
	}
}
