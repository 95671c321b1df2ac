package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
)

// Requests resolves the collaboration behind a chat subscription.
type Requests interface {
	FindRequest(ctx context.Context, id string) (models.CollabRequest, error)
}

// Hub tracks connected stream clients and feeds them changes from the realtime tree.
type Hub struct {
	tree     *realtime.Tree
	requests Requests
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

// NewHub constructs a hub publishing changes from tree.
func NewHub(tree *realtime.Tree, requests Requests, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		tree:     tree,
		requests: requests,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS upgrades the request and streams the deals and requests visible to actor.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := newClient(h, conn, actor)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	client.subscribe(DealsPath)
	client.subscribe(RequestsPath)

	h.logger.Info("stream client connected", slog.String("user_id", actor.ID))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Shutdown disconnects every client and waits for their goroutines to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
