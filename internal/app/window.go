package app

import (
	"context"
	"sync"

	"github.com/sideband-shell/sideband/internal/proxy"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/browser"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
	"github.com/sideband-shell/sideband/internal/renderer/watch"
)

// Windows supplies the shell's player windows. The production
// implementation is the embedded browser; tests substitute scripted
// pages.
type Windows interface {
	// Start brings the window source up. Idempotent.
	Start() error

	// Open creates a window navigated to url.
	Open(url string) (renderer.Page, error)

	// Stop closes every window and releases the source. Idempotent.
	Stop() error
}

// browserWindows adapts the embedded browser manager to Windows.
type browserWindows struct {
	m *browser.Manager
}

func (b browserWindows) Start() error { return b.m.Start() }

func (b browserWindows) Open(url string) (renderer.Page, error) {
	return b.m.Open(url)
}

func (b browserWindows) Stop() error { return b.m.Stop() }

// window is one open player window with its per-context machinery.
type window struct {
	rc      *renderer.Context
	watcher *watch.Watcher
	once    sync.Once
}

// openWindow opens a player window and attaches the per-context stack:
// renderer context, discovery watcher, injector, plugin hooks. The
// window is tracked until it closes, from either side; when the last
// one goes, Run unblocks.
func (a *Application) openWindow(url string) (*renderer.Context, error) {
	page, err := a.browser.Open(url)
	if err != nil {
		return nil, err
	}

	rc := renderer.NewContext(page, renderer.WithContextLogger(a.log))
	w := &window{
		rc:      rc,
		watcher: watch.New(rc, watch.WithLogger(a.log.With("component", "watch"))),
	}

	a.injector.Attach(rc, inject.Deps{
		Watch:   w.watcher,
		Session: a.feed,
		Proxy: func(plugin string) proxy.Invoker {
			return a.broker.Client(plugin, rc.Done())
		},
	})

	// Plugins hear about every finished document load, not just the
	// first. Handlers run on the context loop.
	rc.OnEvent(func(ev renderer.PageEvent) {
		if ev.Kind != renderer.EventContentLoaded {
			return
		}
		if err := a.host.ContextLoaded(context.Background(), rc); err != nil {
			a.log.Warn("content-loaded hooks", "error", err)
		}
	})

	if err := a.host.ContextCreated(context.Background(), rc); err != nil {
		a.log.Warn("context-created hooks", "error", err)
	}

	a.mu.Lock()
	a.windows[rc.ID()] = w
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-rc.Done()
		a.closeWindow(w)

		a.mu.Lock()
		remaining := len(a.windows)
		a.mu.Unlock()
		if remaining == 0 {
			// Without a player window the shell has nothing to do.
			a.requestStop()
		}
	}()

	return rc, nil
}

// closeWindow tears one window down exactly once, from whichever side
// noticed first.
func (a *Application) closeWindow(w *window) {
	w.once.Do(func() {
		a.mu.Lock()
		delete(a.windows, w.rc.ID())
		a.mu.Unlock()

		w.watcher.Stop()
		a.injector.Detach(w.rc)

		// Detach schedules program stops on the context loop, and a
		// window that already vanished drops them. The feed clear is
		// issued on the window's behalf; duplicates are harmless.
		a.feed.Clear(w.rc.ID())

		if err := a.host.ContextDestroyed(context.Background(), w.rc); err != nil {
			a.log.Warn("context-destroyed hooks", "error", err)
		}
		w.rc.Close()
	})
}
