package renderer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueSize bounds the actor run queue. Callbacks are expected to be
// quick; the buffer absorbs bursts from timers firing together.
const queueSize = 128

// Context is one window's execution environment. All page events, timer
// callbacks, and program work for the window run on the context's loop
// goroutine, in submission order. Contexts share nothing with each
// other.
type Context struct {
	id   string
	page Page
	log  *slog.Logger

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once

	epoch atomic.Uint64
	url   atomic.Value // string

	mu       sync.Mutex
	handlers []func(PageEvent)
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithContextLogger sets the logger; the context id is attached to it.
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// NewContext wraps a page in a running context. The loop goroutine
// starts immediately and exits when the page's event channel closes or
// Close is called.
func NewContext(page Page, opts ...ContextOption) *Context {
	c := &Context{
		id:    uuid.NewString(),
		page:  page,
		log:   slog.Default(),
		queue: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("context", c.id)
	c.url.Store(page.URL())

	go c.loop()
	return c
}

// ID returns the context's unique identifier.
func (c *Context) ID() string { return c.id }

// Page returns the wrapped page.
func (c *Context) Page() Page { return c.page }

// URL returns the last observed page URL.
func (c *Context) URL() string {
	u, _ := c.url.Load().(string)
	return u
}

// Epoch identifies the current document generation. It increments every
// time the document is replaced wholesale; state attached to an older
// epoch is gone from the page.
func (c *Context) Epoch() uint64 { return c.epoch.Load() }

// Done is closed when the context has shut down.
func (c *Context) Done() <-chan struct{} { return c.done }

// Closed reports whether the context has shut down.
func (c *Context) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Do submits fn to the loop. Submissions to a closed context are
// dropped.
func (c *Context) Do(fn func()) {
	select {
	case <-c.done:
	case c.queue <- fn:
	}
}

// Go runs fn on its own goroutine, for blocking work (network calls)
// that must not stall the loop. Results re-enter the context via Do,
// which drops them if the context closed in the meantime. No goroutine
// is started for a closed context.
func (c *Context) Go(fn func()) {
	if c.Closed() {
		return
	}
	go fn()
}

// After schedules fn on the loop after d. The returned cancel function
// stops an unfired timer. Timers die with the context.
func (c *Context) After(d time.Duration, fn func()) (cancel func()) {
	var stopped atomic.Bool
	t := time.AfterFunc(d, func() {
		if stopped.Load() {
			return
		}
		c.Do(fn)
	})
	return func() {
		stopped.Store(true)
		t.Stop()
	}
}

// Every schedules fn on the loop at a fixed interval until cancelled or
// the context closes.
func (c *Context) Every(d time.Duration, fn func()) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.Do(fn)
			}
		}
	}()
	return func() {
		once.Do(func() { close(stop) })
	}
}

// OnEvent subscribes to page events. Handlers run on the loop
// goroutine in subscription order. Returns an unsubscribe function.
func (c *Context) OnEvent(fn func(PageEvent)) func() {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	index := len(c.handlers) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// Nil the slot instead of removing to keep indexes stable.
		if index < len(c.handlers) {
			c.handlers[index] = nil
		}
	}
}

// Close shuts the context down: the loop exits, pending queue entries
// are dropped, and every timer tied to the context dies. Idempotent.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Context) loop() {
	defer c.Close()
	events := c.page.Events()
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.queue:
			fn()
		case ev, ok := <-events:
			if !ok {
				c.log.Debug("page event stream closed")
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Context) handleEvent(ev PageEvent) {
	switch ev.Kind {
	case EventNavigated:
		c.url.Store(ev.URL)
	case EventDocumentReplaced:
		c.url.Store(ev.URL)
		c.epoch.Add(1)
		c.log.Debug("document replaced", "epoch", c.epoch.Load(), "url", ev.URL)
	case EventContentLoaded:
		c.url.Store(ev.URL)
	}

	c.mu.Lock()
	handlers := make([]func(PageEvent), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, fn := range handlers {
		if fn == nil {
			continue
		}
		fn(ev)
	}
}
