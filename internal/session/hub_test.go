package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paseo-dev/paseod/internal/agent"
	"github.com/paseo-dev/paseod/internal/events/bus"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/persistence"
	"github.com/paseo-dev/paseod/internal/provider"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dialConnection spins up an httptest WS server and returns a session.Connection
// wrapping the server side plus the client-side *websocket.Conn for reading
// what the hub sends, mirroring how a real client would observe frames.
func dialConnection(t *testing.T, hub *Hub, ctx context.Context) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-serverConnCh
	conn := NewConnection("conn-"+t.Name(), serverConn, hub, testLogger(t))

	hub.Register(conn)
	go conn.ReadPump(ctx, func(context.Context, *Connection, []byte) {})
	go conn.WritePump()

	return conn, clientConn
}

func readFrame(t *testing.T, clientConn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return m
}

func testLogger(t *testing.T) *paseolog.Logger {
	t.Helper()
	log, err := paseolog.New(paseolog.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("paseolog.New: %v", err)
	}
	return log
}

func newTestHubManager(t *testing.T) *agent.Manager {
	t.Helper()
	store, err := persistence.NewRegistryStore(t.TempDir())
	if err != nil {
		t.Fatalf("new registry store: %v", err)
	}
	providers := provider.NewRegistry()
	log := testLogger(t)

	m := agent.NewManager(providers, store, bus.NewMemoryEventBus(log), noopSink{}, func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error) {
		return provider.NewFakeClient(), nil
	}, t.TempDir(), log)
	return m
}

type noopSink struct{}

func (noopSink) OnAgentUpdate(agent.Snapshot)                        {}
func (noopSink) OnStream(string, agent.StreamEvent)                  {}
func (noopSink) OnPermissionRequest(string, agent.PermissionRequest) {}
func (noopSink) OnPermissionResolved(string, string)                 {}

func TestHubSubscribeSendsSessionStateFirst(t *testing.T) {
	manager := newTestHubManager(t)
	hub := NewHub(manager, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, clientConn := dialConnection(t, hub, ctx)
	time.Sleep(20 * time.Millisecond) // let registration land

	hub.Subscribe(conn, "")

	first := readFrame(t, clientConn)
	if first["type"] != TypeSessionState {
		t.Fatalf("expected %s first, got %v", TypeSessionState, first["type"])
	}
}

func TestHubDeliverScopesToSubscribedAgent(t *testing.T) {
	manager := newTestHubManager(t)
	hub := NewHub(manager, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	connA, clientA := dialConnection(t, hub, ctx)
	time.Sleep(20 * time.Millisecond)
	hub.Subscribe(connA, "agent-1")
	_ = readFrame(t, clientA) // session_state

	hub.OnAgentUpdate(agent.Snapshot{ID: "agent-2"})

	hub.OnAgentUpdate(agent.Snapshot{ID: "agent-1", Status: agent.StatusIdle})
	frame := readFrame(t, clientA)
	if frame["type"] != TypeAgentUpdate {
		t.Fatalf("expected agent_update, got %v", frame["type"])
	}
	agentPayload, _ := frame["agent"].(map[string]interface{})
	if agentPayload["id"] != "agent-1" {
		t.Fatalf("expected agent-1 update, got %v", agentPayload["id"])
	}
}

func TestHubUnregisterClearsSubscriptions(t *testing.T) {
	manager := newTestHubManager(t)
	hub := NewHub(manager, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, _ := dialConnection(t, hub, ctx)
	time.Sleep(20 * time.Millisecond)
	hub.Subscribe(conn, "agent-1")

	hub.Unregister(conn)
	time.Sleep(20 * time.Millisecond)

	hub.mu.RLock()
	_, stillSubscribed := hub.agentSubscribers["agent-1"][conn.id]
	hub.mu.RUnlock()
	if stillSubscribed {
		t.Fatalf("expected subscription removed after unregister")
	}
}
