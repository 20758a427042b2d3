// Package server coordinates connection lifecycle, envelope dispatch, and the
// presence sweep for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-presence/internal/metrics"
)

type inboundFrame struct {
	client  *Client
	payload []byte
}

// Hub owns the connection registry, the presence directory and the thread
// store as one unit. Every operation that touches them (an inbound envelope,
// a disconnect, a reaper sweep, a read from the HTTP views) runs to
// completion under a single lock, and Run feeds the mutating ones through
// one event loop.
type Hub struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	clients   map[*Client]struct{}
	registry  *Registry
	directory *Directory
	threads   *ThreadStore
	startedAt time.Time

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub configured by cfg. A nil cfg uses the defaults.
func NewHub(cfg *Config, log zerolog.Logger) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := cfg.sanitize()

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        sanitized,
		log:        log,
		now:        time.Now,
		clients:    make(map[*Client]struct{}),
		registry:   NewRegistry(),
		directory:  NewDirectory(),
		threads:    NewThreadStore(sanitized.ThreadHistoryLimit),
		startedAt:  time.Now(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a freshly upgraded client to the hub. It reports false if
// the hub has already shut down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) submit(c *Client, payload []byte) bool {
	select {
	case h.inbound <- inboundFrame{client: c, payload: payload}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's event loop. It attaches new clients, dispatches their
// envelopes, handles disconnects and runs the reaper on every tick until
// Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.Reaper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.attach(client)

		case client := <-h.unregister:
			h.HandleClose(client)

		case frame := <-h.inbound:
			h.HandleEnvelope(frame.client, frame.payload)

		case <-ticker.C:
			h.Sweep()
		}
	}
}

// attach adds c to the hub, greets it and starts its pumps.
func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	c.closed = false
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.send(c, newWelcome())
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(clientCount))
	c.log.Info().Int("clients", clientCount).Msg("client connected")

	if c.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// send marshals v and queues it for c. Failures are logged and counted but
// never returned: delivery is best effort and must not disturb the caller.
// The caller holds h.mu.
func (h *Hub) send(c *Client, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("error encoding envelope")
		return false
	}
	return h.sendRaw(c, payload)
}

func (h *Hub) sendRaw(c *Client, payload []byte) bool {
	if c.closed {
		metrics.SendFailures.Inc()
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		metrics.SendFailures.Inc()
		c.log.Warn().Msg("send buffer full; dropping envelope")
		return false
	}
}

// shutdownClients closes every transport; the read pumps then exit on their own.
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		if !client.closed {
			client.closed = true
			close(client.send)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Warn().Err(err).Msg("error closing client connection")
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the event loop and waits for all client goroutines to
// finish, or returns context.DeadlineExceeded once timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// UserStatus is the public view of one identity used by the HTTP lookup.
type UserStatus struct {
	Exists   bool            `json:"exists"`
	Online   bool            `json:"online"`
	UserData json.RawMessage `json:"userData"`
}

// LookupUser reports whether id has a presence record and an open connection.
func (h *Hub) LookupUser(id string) UserStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.directory.Get(id)
	if !ok {
		return UserStatus{}
	}
	c, bound := h.registry.Lookup(id)
	return UserStatus{
		Exists:   true,
		Online:   bound && !c.closed,
		UserData: rec.UserData,
	}
}

// OnlineUsers returns the presence directory snapshot.
func (h *Hub) OnlineUsers() []PresenceRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.directory.Snapshot()
}

// OnlineCount returns the number of presence records.
func (h *Hub) OnlineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.directory.Len()
}

// History returns the recorded messages between a and b, oldest first.
func (h *Hub) History(a, b string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threads.Get(a, b)
}

// Uptime returns how long the hub has existed.
func (h *Hub) Uptime() time.Duration {
	return h.now().Sub(h.startedAt)
}
