// Package wsfeed streams notifications to WebSocket clients as JSON.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/dispatch"
	"github.com/srg/buttond/internal/ringchan"
)

const (
	// EventsPath is the upgrade endpoint.
	EventsPath = "/events"

	DefaultClientBuffer = 64
	writeTimeout        = 5 * time.Second
)

type client struct {
	filter string
	ring   *ringchan.Ring[dispatch.Payload]
}

// Feed is a dispatch.Observer that fans notifications out to connected
// clients. A slow client loses its oldest queued payloads.
type Feed struct {
	logger *logrus.Logger
	buffer int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a feed with a per-client buffer of size buffer.
func New(buffer int, logger *logrus.Logger) *Feed {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Feed{logger: logger, buffer: buffer, clients: make(map[*client]struct{})}
}

// Handler serves EventsPath. The optional query parameter button restricts the
// stream to one button.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, f.serveEvents)
	return mux
}

func (f *Feed) serveEvents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("button")
	if filter != "" {
		id, err := button.ParseID(filter)
		if err != nil {
			http.Error(w, "invalid button id", http.StatusBadRequest)
			return
		}
		filter = id.String()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{filter: filter, ring: ringchan.New[dispatch.Payload](f.buffer)}
	if !f.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "feed closed")
		return
	}
	defer f.remove(c)

	logger := f.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "button": filter})
	logger.Debug("Feed client connected")

	// Client messages are not expected; CloseRead handles the close handshake.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Feed client went away")
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case p, ok := <-c.ring.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, p)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("Feed write failed")
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (f *Feed) add(c *client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *Feed) remove(c *client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	c.ring.Close()
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Notify queues n for every matching client.
func (f *Feed) Notify(n button.Notification) {
	p := dispatch.NewPayload(n)

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		if c.filter != "" && c.filter != p.Button {
			continue
		}
		if c.ring.Push(p) {
			f.logger.WithField("notification", p.Kind).Debug("Feed client lagging, dropped oldest payload")
		}
	}
}

// Close disconnects all clients and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for c := range f.clients {
		c.ring.Close()
	}
}

// Serve listens on addr until ctx is done.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("feed listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: f.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	f.logger.WithField("addr", ln.Addr().String()).Info("Event feed listening")

	select {
	case <-ctx.Done():
		f.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
