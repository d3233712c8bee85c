package presence

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// testBridge is a websocket endpoint capturing every frame.
type testBridge struct {
	srv    *httptest.Server
	frames chan string
	dials  atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	b := &testBridge{frames: make(chan string, 32)}
	upgrader := websocket.Upgrader{}

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.dials.Add(1)
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.frames <- string(msg)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

// dropConnections closes every live server-side connection.
func (b *testBridge) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	b.conns = nil
}

func (b *testBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBridge) nextFrame(t *testing.T) gjson.Result {
	t.Helper()
	select {
	case msg := <-b.frames:
		return gjson.Parse(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		panic("unreachable")
	}
}

func newTestClient(t *testing.T, b *testBridge, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithURL(b.url()), WithDialTimeout(time.Second)}, opts...)
	c := New(opts...)
	t.Cleanup(c.Stop)
	return c
}

func waitStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", c.Status(), want)
}

func TestClientSendsActivity(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)
	c.Start()
	waitStatus(t, c, StatusReady)

	started := time.Unix(1700000000, 0)
	c.SetActivity(Activity{
		Details:    "Song One",
		State:      "Artist One",
		LargeImage: "https://img.example.com/a.jpg",
		StartedAt:  started,
	})

	f := b.nextFrame(t)
	if got := f.Get("cmd").String(); got != "SET_ACTIVITY" {
		t.Errorf("cmd = %q", got)
	}
	if got := f.Get("activity.details").String(); got != "Song One" {
		t.Errorf("details = %q", got)
	}
	if got := f.Get("activity.state").String(); got != "Artist One" {
		t.Errorf("state = %q", got)
	}
	if got := f.Get("activity.timestamps.start").Int(); got != started.Unix() {
		t.Errorf("timestamps.start = %d", got)
	}
	if got := f.Get("activity.assets.large_image").String(); got != "https://img.example.com/a.jpg" {
		t.Errorf("large_image = %q", got)
	}
}

func TestClientPausedOmitsTimestamps(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)
	c.Start()
	waitStatus(t, c, StatusReady)

	c.SetActivity(Activity{Details: "Song", State: "Artist", StartedAt: time.Now(), Paused: true})

	f := b.nextFrame(t)
	if f.Get("activity.timestamps").Exists() {
		t.Error("paused activity carried timestamps")
	}
}

func TestClientClearActivity(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)
	c.Start()
	waitStatus(t, c, StatusReady)

	c.SetActivity(Activity{Details: "Song"})
	b.nextFrame(t)

	c.ClearActivity()
	f := b.nextFrame(t)
	if f.Get("activity").Type != gjson.Null {
		t.Errorf("clear frame activity = %s, want null", f.Get("activity").Raw)
	}
}

func TestClientReplaysActivitySetWhileOffline(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)

	// No Start yet: the bridge is unreachable from the client's view.
	c.SetActivity(Activity{Details: "Song Offline", State: "Artist"})
	c.Start()

	f := b.nextFrame(t)
	if got := f.Get("activity.details").String(); got != "Song Offline" {
		t.Errorf("replayed details = %q", got)
	}
}

func TestClientReconnectsAndReplays(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)
	c.Start()
	waitStatus(t, c, StatusReady)

	c.SetActivity(Activity{Details: "Song"})
	b.nextFrame(t)

	// Kill the server side; the client must dial again and replay.
	b.dropConnections()

	f := b.nextFrame(t)
	if got := f.Get("activity.details").String(); got != "Song" {
		t.Errorf("replayed details = %q", got)
	}
	if b.dials.Load() < 2 {
		t.Errorf("dials = %d, want at least 2", b.dials.Load())
	}
}

func TestClientPauseAutoClear(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b, WithClearAfterPause(30*time.Millisecond))
	c.Start()
	waitStatus(t, c, StatusReady)

	c.SetActivity(Activity{Details: "Song", Paused: true})
	b.nextFrame(t)

	f := b.nextFrame(t)
	if f.Get("activity").Type != gjson.Null {
		t.Errorf("auto-clear frame activity = %s, want null", f.Get("activity").Raw)
	}
}

func TestClientStopIdempotent(t *testing.T) {
	b := newTestBridge(t)
	c := newTestClient(t, b)
	c.Start()
	waitStatus(t, c, StatusReady)

	c.Stop()
	c.Stop()
	if got := c.Status(); got != StatusDisconnected {
		t.Errorf("status after Stop = %v", got)
	}
}
