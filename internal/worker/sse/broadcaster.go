// Package sse streams history change events to Server-Sent Events clients.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/history"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second

	// HeartbeatInterval keeps idle connections alive through proxies.
	HeartbeatInterval = 30 * time.Second

	eventQueueSize = 256
)

// Client represents a connected SSE client. A client with an empty UserID
// receives events for every user.
type Client struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	ID        string
	UserID    string
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

func (c *Client) wants(userID string) bool {
	return c.UserID == "" || c.UserID == userID
}

// Broadcaster manages SSE client connections and event fan-out.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers w as a client interested in userID ("" for all users).
func (b *Broadcaster) AddClient(w http.ResponseWriter, userID string) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Str("user", userID).
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

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish forwards a history change to every interested client.
// It matches history.Listener.
func (b *Broadcaster) Publish(ev history.ChangeEvent) {
	b.Broadcast(string(ev.Type), ev.UserID, ev)
}

// Listener returns a history.Listener that queues events for delivery on a
// background goroutine until ctx is done. The listener never blocks the
// writer; when the queue is full the event is dropped.
func (b *Broadcaster) Listener(ctx context.Context) history.Listener {
	queue := make(chan history.ChangeEvent, eventQueueSize)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				b.Publish(ev)
			}
		}
	}()

	return func(ev history.ChangeEvent) {
		select {
		case queue <- ev:
		default:
			log.Warn().
				Str("type", string(ev.Type)).
				Str("user", ev.UserID).
				Msg("SSE queue full, dropping event")
		}
	}
}

// Broadcast sends data as a named event to clients subscribed to userID.
func (b *Broadcaster) Broadcast(event, userID string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal SSE data")
		return
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		if client.wants(userID) {
			clients = append(clients, client)
		}
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
			if !b.writeToClient(c, message) {
				deadClientsCh <- c
			}
		}(client)
	}

	wg.Wait()
	close(deadClientsCh)

	for client := range deadClientsCh {
		log.Debug().Str("clientId", client.ID).Msg("Dead SSE client removed")
		b.RemoveClient(client)
	}
}

// writeToClient writes message with a timeout and reports whether the
// client is still usable.
func (b *Broadcaster) writeToClient(client *Client, message []byte) bool {
	result := make(chan error, 1)

	go func() {
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		_, err := client.Writer.Write(message)
		if err == nil {
			client.Flusher.Flush()
		}
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			log.Debug().
				Str("clientId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		return false
	case <-client.Done:
		return true
	}
}

// HandleSSE serves GET /api/events. The optional user query parameter
// restricts the stream to one user's history.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w, r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(map[string]string{"clientId": client.ID, "user": client.UserID})
	if !b.writeToClient(client, []byte(fmt.Sprintf("event: connected\ndata: %s\n\n", hello))) {
		return
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if !b.writeToClient(client, []byte(": ping\n\n")) {
				return
			}
		}
	}
}
