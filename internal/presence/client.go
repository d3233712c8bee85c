package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the local bridge endpoint.
const DefaultURL = "ws://127.0.0.1:6463/sideband"

const (
	defaultDialTimeout  = 3 * time.Second
	defaultWriteTimeout = 5 * time.Second
	reconnectMin        = time.Second
	reconnectMax        = 30 * time.Second

	// defaultClearAfterPause drops the activity when playback stays
	// paused this long; a stale "listening" card is worse than none.
	defaultClearAfterPause = 10 * time.Minute
)

// Status is the connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Activity is one presence card.
type Activity struct {
	// Details is the first line, the track title.
	Details string

	// State is the second line, the artist.
	State string

	// LargeImage is the artwork URL.
	LargeImage string

	// StartedAt drives the elapsed-time display; zero omits it.
	StartedAt time.Time

	// Paused suppresses the elapsed display and arms the auto-clear
	// timer.
	Paused bool
}

type frame struct {
	Cmd      string        `json:"cmd"`
	Activity *activityWire `json:"activity"`
}

type activityWire struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *timestamps `json:"timestamps,omitempty"`
	Assets     *assets     `json:"assets,omitempty"`
}

type timestamps struct {
	Start int64 `json:"start,omitempty"`
}

type assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
}

// Client maintains the bridge connection and the current activity. The
// activity survives reconnects: whatever was last set is replayed when
// the bridge comes back.
type Client struct {
	url string
	log *slog.Logger

	dialTimeout     time.Duration
	writeTimeout    time.Duration
	clearAfterPause time.Duration

	mu         sync.Mutex
	status     Status
	conn       *websocket.Conn
	current    *Activity
	pauseTimer *time.Timer
	stop       chan struct{}
	started    bool
	wasReady   bool

	// wmu serializes frame writes; the connection allows one writer.
	wmu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the bridge endpoint.
func WithURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.url = url
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClearAfterPause overrides the paused auto-clear delay. Zero
// disables auto-clear.
func WithClearAfterPause(d time.Duration) Option {
	return func(c *Client) { c.clearAfterPause = d }
}

// WithDialTimeout overrides the handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// New creates a client. Call Start to begin connecting.
func New(opts ...Option) *Client {
	c := &Client{
		url:             DefaultURL,
		log:             slog.Default(),
		dialTimeout:     defaultDialTimeout,
		writeTimeout:    defaultWriteTimeout,
		clearAfterPause: defaultClearAfterPause,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "presence")
	return c
}

// Start launches the connection supervisor. Idempotent.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Stop disconnects and halts reconnection. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stop)
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	if c.pauseTimer != nil {
		c.pauseTimer.Stop()
		c.pauseTimer = nil
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Status returns the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetActivity replaces the presence card. Offline, the value is kept
// and replayed once the bridge connects.
func (c *Client) SetActivity(a Activity) {
	c.mu.Lock()
	copied := a
	c.current = &copied

	if a.Paused {
		if c.pauseTimer == nil && c.clearAfterPause > 0 {
			c.pauseTimer = time.AfterFunc(c.clearAfterPause, c.clearOnTimeout)
		}
	} else if c.pauseTimer != nil {
		c.pauseTimer.Stop()
		c.pauseTimer = nil
	}

	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.write(conn, frame{Cmd: "SET_ACTIVITY", Activity: wire(&copied)})
	}
}

// ClearActivity removes the presence card.
func (c *Client) ClearActivity() {
	c.mu.Lock()
	c.current = nil
	if c.pauseTimer != nil {
		c.pauseTimer.Stop()
		c.pauseTimer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.write(conn, frame{Cmd: "SET_ACTIVITY", Activity: nil})
	}
}

func (c *Client) clearOnTimeout() {
	c.log.Debug("activity cleared after long pause")
	c.ClearActivity()
}

func wire(a *Activity) *activityWire {
	w := &activityWire{Details: a.Details, State: a.State}
	if !a.StartedAt.IsZero() && !a.Paused {
		w.Timestamps = &timestamps{Start: a.StartedAt.Unix()}
	}
	if a.LargeImage != "" {
		w.Assets = &assets{LargeImage: a.LargeImage, LargeText: a.Details}
	}
	return w
}

func (c *Client) run() {
	backoff := reconnectMin
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.setStatus(StatusConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
		conn, _, err := dialer.Dial(c.url, nil)
		if err != nil {
			c.setStatus(StatusDisconnected)
			c.log.Debug("bridge dial failed", "url", c.url, "error", err)
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectMin

		c.attach(conn)
		c.readLoop(conn)
		c.detach(conn)
	}
}

// attach installs the live connection and replays the current activity.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.status = StatusReady
	c.wasReady = true
	replay := c.current
	c.mu.Unlock()

	c.log.Info("bridge connected", "url", c.url)
	if replay != nil {
		c.write(conn, frame{Cmd: "SET_ACTIVITY", Activity: wire(replay)})
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.status = StatusDisconnected
	wasReady := c.wasReady
	c.wasReady = false
	c.mu.Unlock()

	if wasReady {
		c.log.Info("bridge disconnected")
	}
}

// readLoop drains inbound frames until the connection dies. The bridge
// sends nothing we act on; reading keeps control frames flowing.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) write(conn *websocket.Conn, f frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		c.log.Debug("bridge write failed", "error", err)
		conn.Close()
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
