package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
	"github.com/collabset/backend/internal/repositories"
)

type testEnv struct {
	tree   *realtime.Tree
	store  *repositories.TreeStore
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tree := realtime.NewTree()
	store := repositories.NewTreeStore(tree)
	hub := NewHub(tree, store, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := lifecycle.Actor{ID: r.URL.Query().Get("user"), Role: models.Role(r.URL.Query().Get("role"))}
		hub.ServeWS(w, r, actor)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})
	return &testEnv{tree: tree, store: store, hub: hub, server: server}
}

func (e *testEnv) dial(t *testing.T, user string, role models.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/?user=" + user + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func readUntil(t *testing.T, conn *websocket.Conn, path string) Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame.Path == path {
			return frame
		}
	}
	t.Fatalf("no frame for %s", path)
	return Frame{}
}

func TestStreamFiltersDealsByParticipant(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "inf-1", models.RoleInfluencer)

	initial := readUntil(t, conn, DealsPath)
	if deals, ok := initial.Value.(map[string]any); !ok || len(deals) != 0 {
		t.Fatalf("expected empty initial deals, got %#v", initial.Value)
	}
	readUntil(t, conn, RequestsPath)

	mine := models.Deal{ID: "d1", InfluencerID: "inf-1", BrandID: "brand-1", Amount: 100}
	if err := env.tree.Write("deals/d1", mine); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readUntil(t, conn, DealsPath)
	deals := frame.Value.(map[string]any)
	if _, ok := deals["d1"]; !ok || len(deals) != 1 {
		t.Fatalf("expected own deal, got %#v", deals)
	}

	other := models.Deal{ID: "d2", InfluencerID: "inf-2", BrandID: "brand-1", Amount: 100}
	if err := env.tree.Write("deals/d2", other); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = readUntil(t, conn, DealsPath)
	deals = frame.Value.(map[string]any)
	if _, leaked := deals["d2"]; leaked || len(deals) != 1 {
		t.Fatalf("expected other party's deal to be filtered, got %#v", deals)
	}
}

func TestStreamAdminSeesEverything(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tree.Write("deals/d1", models.Deal{ID: "d1", InfluencerID: "a", BrandID: "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn := env.dial(t, "admin", models.RoleAdmin)
	frame := readUntil(t, conn, DealsPath)
	if deals := frame.Value.(map[string]any); len(deals) != 1 {
		t.Fatalf("expected admin to see all deals, got %#v", deals)
	}
}

func TestStreamChatSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := models.CollabRequest{ID: "req-1", FromID: "brand-1", ToID: "inf-1", Status: models.RequestPending, Timestamp: time.Now()}
	if err := env.store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	outsider := env.dial(t, "inf-9", models.RoleInfluencer)
	readUntil(t, outsider, RequestsPath)
	if err := outsider.WriteJSON(Command{Type: "subscribe", Path: "chats/req-1/messages"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	denied := readUntil(t, outsider, "chats/req-1/messages")
	if denied.Error == "" {
		t.Fatal("expected outsider subscription to be denied")
	}

	conn := env.dial(t, "inf-1", models.RoleInfluencer)
	readUntil(t, conn, RequestsPath)
	if err := conn.WriteJSON(Command{Type: "subscribe", Path: "/chats/req-1/messages"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	first := readUntil(t, conn, "chats/req-1/messages")
	if first.Error != "" {
		t.Fatalf("unexpected error %q", first.Error)
	}

	msg := models.ChatMessage{ID: "m1", CollabID: "req-1", SenderID: "brand-1", Text: "hello", Timestamp: time.Now()}
	if err := env.tree.Write("chats/req-1/messages/m1", msg); err != nil {
		t.Fatalf("write message: %v", err)
	}
	update := readUntil(t, conn, "chats/req-1/messages")
	messages := update.Value.(map[string]any)
	if _, ok := messages["m1"]; !ok {
		t.Fatalf("expected message in update, got %#v", messages)
	}

	if err := conn.WriteJSON(Command{Type: "subscribe", Path: "users"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	if frame := readUntil(t, conn, "users"); frame.Error == "" {
		t.Fatal("expected unsupported path error")
	}
}

func TestHubShutdownDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "inf-1", models.RoleInfluencer)
	readUntil(t, conn, RequestsPath)

	deadline := time.Now().Add(time.Second)
	for env.hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.hub.Count() != 1 {
		t.Fatalf("expected one client, got %d", env.hub.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if env.hub.Count() != 0 {
		t.Fatalf("expected no clients after shutdown, got %d", env.hub.Count())
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(realtime.NewTree(), nil, nil)
	client := newClient(hub, nil, lifecycle.Actor{ID: "inf-1"})
	for i := 0; i < sendBuffer; i++ {
		client.enqueueFrame(Frame{Path: DealsPath})
	}
	select {
	case <-client.done:
		t.Fatal("client dropped before its buffer filled")
	default:
	}

	client.enqueueFrame(Frame{Path: DealsPath})
	select {
	case <-client.done:
	default:
		t.Fatal("expected slow client to be dropped")
	}
}

func TestParticipantFilter(t *testing.T) {
	filter := filterFor(RequestsPath, lifecycle.Actor{ID: "brand-1", Role: models.RoleBrand})
	value := map[string]any{
		"r1": map[string]any{"fromId": "brand-1", "toId": "inf-1"},
		"r2": map[string]any{"fromId": "brand-2", "toId": "inf-1"},
		"r3": map[string]any{"fromId": "inf-3", "toId": "brand-1"},
		"r4": "garbage",
	}
	out := filter(value).(map[string]any)
	if len(out) != 2 || out["r1"] == nil || out["r3"] == nil {
		t.Fatalf("unexpected filter result %#v", out)
	}
	if empty := filter(nil).(map[string]any); len(empty) != 0 {
		t.Fatalf("expected empty map for nil value, got %#v", empty)
	}
}
