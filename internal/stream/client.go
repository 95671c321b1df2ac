package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabset/backend/internal/lifecycle"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Realtime tree roots streamed to every client.
const (
	DealsPath    = "deals"
	RequestsPath = "requests"
)

// Frame is a single change notification sent to a client.
type Frame struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// Command is a client instruction to change its subscriptions.
type Command struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

var (
	errUnknownPath = errors.New("unsupported stream path")
	errNotAllowed  = errors.New("not a participant of this collaboration")
)

// Client is one connected stream session.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	actor lifecycle.Actor
	send  chan []byte

	done      chan struct{}
	closeOnce sync.Once

	subsMu sync.Mutex
	subs   map[string]func()
}

func newClient(h *Hub, conn *websocket.Conn, actor lifecycle.Actor) *Client {
	return &Client{
		hub:   h,
		conn:  conn,
		actor: actor,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		subs:  make(map[string]func()),
	}
}

// close signals the pumps to stop. It never touches the tree, so it is safe to call from
// inside a subscription listener.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("stream read failed", slog.Any("error", err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.enqueueFrame(Frame{Error: "invalid command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd Command) {
	path := strings.Trim(cmd.Path, "/")
	switch cmd.Type {
	case "subscribe":
		if err := c.authorize(path); err != nil {
			c.enqueueFrame(Frame{Path: path, Error: err.Error()})
			return
		}
		c.subscribe(path)
	case "unsubscribe":
		c.unsubscribe(path)
	default:
		c.enqueueFrame(Frame{Path: path, Error: "unknown command type"})
	}
}

// authorize permits chat subscriptions to the collaboration's two parties and admins.
func (c *Client) authorize(path string) error {
	if path == DealsPath || path == RequestsPath {
		return nil
	}
	collabID, ok := chatCollabID(path)
	if !ok {
		return errUnknownPath
	}
	if c.actor.IsAdmin() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := c.hub.requests.FindRequest(ctx, collabID)
	if err != nil || !req.Involves(c.actor.ID) {
		return errNotAllowed
	}
	return nil
}

func chatCollabID(path string) (string, bool) {
	segs := strings.Split(path, "/")
	if len(segs) != 3 || segs[0] != "chats" || segs[1] == "" || segs[2] != "messages" {
		return "", false
	}
	return segs[1], true
}

func (c *Client) subscribe(path string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[path]; ok {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	filter := filterFor(path, c.actor)
	c.subs[path] = c.hub.tree.Subscribe(path, func(value any) {
		c.enqueueFrame(Frame{Path: path, Value: filter(value)})
	})
}

func (c *Client) unsubscribe(path string) {
	c.subsMu.Lock()
	cancel, ok := c.subs[path]
	delete(c.subs, path)
	c.subsMu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) unsubscribeAll() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	c.subsMu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

// enqueueFrame never blocks. A client whose buffer is full is disconnected.
func (c *Client) enqueueFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Error("encode stream frame", slog.String("path", frame.Path), slog.Any("error", err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.hub.logger.Warn("dropping slow stream client", slog.String("user_id", c.actor.ID))
		c.close()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.unsubscribeAll()
		_ = c.conn.Close()
		c.hub.remove(c)
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
