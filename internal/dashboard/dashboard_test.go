package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/persist/memory"
	"github.com/mschirtzinger/tasksync/internal/state/executor"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openApp(t *testing.T, backend *memory.Backend) *app.App {
	t.Helper()
	a, err := app.Open(context.Background(), &app.Config{
		Backend: backend,
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("app.Open() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func startServer(t *testing.T, a *app.App) *Server {
	t.Helper()
	server := NewServer(a, &Config{
		Addr:     "127.0.0.1:0",
		Gatherer: prometheus.NewRegistry(),
		Logger:   testLogger(),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// dial connects a client, consumes the hello message and waits until the
// server has registered it.
func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("first message type = %s, want hello", msg.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType MessageType) Message {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestServerStartStop(t *testing.T) {
	a := openApp(t, memory.New())
	server := NewServer(a, &Config{Addr: "127.0.0.1:0", Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); strings.HasSuffix(addr, ":0") {
		t.Fatalf("GetAddr() = %q, want the bound port", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHelloCarriesSaveStatus(t *testing.T) {
	server := startServer(t, openApp(t, memory.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("Expected hello message, got %s", msg.Type)
	}
	var status SaveStatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal hello data: %v", err)
	}
	if status.Status != "idle" || status.Pending != 0 {
		t.Errorf("hello status = %+v, want idle with nothing pending", status)
	}
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	server := startServer(t, openApp(t, memory.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conns = append(conns, dial(t, ctx, server))
	}
	for server.ClientCount() < 3 {
		time.Sleep(5 * time.Millisecond)
	}

	server.OnViewDirty(executor.DirtyNotice{Views: []views.View{views.Inbox, views.Today}, Version: 3})

	for i, conn := range conns {
		msg := readUntil(t, ctx, conn, MessageTypeViewDirty)
		var data ViewDirtyData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("client %d: bad payload: %v", i, err)
		}
		if strings.Join(data.Views, ",") != "inbox,today" {
			t.Errorf("client %d: views = %v", i, data.Views)
		}
	}
}

func TestRunForwardsMutations(t *testing.T) {
	a := openApp(t, memory.New(memory.WithLatency(20*time.Millisecond)))
	server := startServer(t, a)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		server.Run(runCtx, 10*time.Millisecond)
		close(done)
	}()
	defer func() {
		stop()
		<-done
	}()
	// The initial status sample is broadcast once Run has subscribed.
	readUntil(t, ctx, conn, MessageTypeSaveStatus)

	if _, err := a.AddTask(ctx, &types.Task{Content: "Buy milk"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	// Run selects across buses, so message types may interleave.
	var (
		sawInbox bool
		phases   []string
		statuses []string
	)
	for !sawInbox || len(phases) < 2 || len(statuses) == 0 || statuses[len(statuses)-1] != "idle" {
		msg := readMessage(t, ctx, conn)
		switch msg.Type {
		case MessageTypeViewDirty:
			var dd ViewDirtyData
			if err := json.Unmarshal(msg.Data, &dd); err != nil {
				t.Fatal(err)
			}
			sawInbox = sawInbox || strings.Contains(strings.Join(dd.Views, ","), "inbox")
		case MessageTypeEntity:
			var ed struct{ Action, Phase string }
			if err := json.Unmarshal(msg.Data, &ed); err != nil {
				t.Fatal(err)
			}
			phases = append(phases, ed.Action+"/"+ed.Phase)
		case MessageTypeSaveStatus:
			var st SaveStatusData
			if err := json.Unmarshal(msg.Data, &st); err != nil {
				t.Fatal(err)
			}
			statuses = append(statuses, st.Status)
		}
	}
	if got := strings.Join(phases, " "); got != "created/optimistic updated/reconciled" {
		t.Errorf("entity phases = %q", got)
	}
	if statuses[0] != "saving" {
		t.Errorf("save statuses = %v, want saving before idle", statuses)
	}
}

func TestViewEndpoint(t *testing.T) {
	backend := memory.New(memory.WithSnapshot(
		&types.Task{ID: "item_1", Content: "inbox task", Priority: 1},
	))
	server := startServer(t, openApp(t, backend))

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/views/inbox", http.StatusOK, `"item_1"`},
		{"/views/bogus", http.StatusBadRequest, `"error"`},
		{"/health", http.StatusOK, `"save_status":"idle"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + server.GetAddr() + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body %s does not contain %s", body, tt.want)
			}
		})
	}
}
