// Package sse fans pipeline events out to Server-Sent Events clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/worker/session"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second

	// KeepAliveInterval spaces comment frames that keep idle proxies from closing streams.
	KeepAliveInterval = 30 * time.Second
)

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	mu      sync.Mutex
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Writer.Write(frame); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients   map[string]*Client
	keepAlive time.Duration
	mu        sync.RWMutex
	nextID    int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		keepAlive: KeepAliveInterval,
	}
}

// Attach forwards every hub topic and session lifecycle event to clients.
// The returned function detaches.
func (b *Broadcaster) Attach(hub *events.Hub, sessions *events.Topic[session.Event]) func() {
	var cancels []func()
	if hub != nil {
		cancels = append(cancels, hub.Tap(b.Send))
	}
	if sessions != nil {
		cancels = append(cancels, sessions.Subscribe(func(ev session.Event) {
			b.Send(ev.Type, ev)
		}))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection. Safe to call more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	select {
	case <-client.Done:
	default:
		close(client.Done)
	}

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Frame encodes one SSE frame. An empty event name produces an unnamed frame.
func Frame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if event == "" {
		return fmt.Appendf(nil, "data: %s\n\n", payload), nil
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, payload), nil
}

// Broadcast sends an unnamed message to all connected clients.
func (b *Broadcaster) Broadcast(data any) {
	b.Send("", data)
}

// Send sends a named event to all connected clients.
// Uses non-blocking writes with timeout to prevent stale connections from blocking.
func (b *Broadcaster) Send(event string, data any) {
	frame, err := Frame(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal SSE data")
		return
	}
	b.fanOut(frame)
}

func (b *Broadcaster) fanOut(frame []byte) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadClientsCh := make(chan *Client, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.writeToClient(c, frame) {
				deadClientsCh <- c
			}
		}(client)
	}
	wg.Wait()
	close(deadClientsCh)

	for c := range deadClientsCh {
		b.RemoveClient(c)
	}
}

// writeToClient writes one frame with a timeout; false marks the client dead.
func (b *Broadcaster) writeToClient(client *Client, frame []byte) bool {
	errCh := make(chan error, 1)
	go func() { errCh <- client.write(frame) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client, marking for removal")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", client.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, marking client for removal")
		return false
	case <-client.Done:
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the request is cancelled.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := Frame("connected", map[string]string{"clientId": client.ID})
	if err := client.write(hello); err != nil {
		return
	}

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if err := client.write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
	}
}
