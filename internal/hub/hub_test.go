package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/services"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []foreman.Notification
}

func (n *captureNotifier) Notify(ctx context.Context, event foreman.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) captured() []foreman.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]foreman.Notification(nil), n.events...)
}

type hubFixture struct {
	hub      *Hub
	registry *services.RegistryService
	tracker  *services.ExecutionTracker
	notifier *captureNotifier
	server   *httptest.Server
	wsURL    string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	clock, err := foreman.NewClock("UTC", false)
	if err != nil {
		t.Fatal(err)
	}
	registry := services.NewRegistryService(repository.NewMemoryModuleRepository(), clock)
	tracker := services.NewExecutionTracker()
	notifier := &captureNotifier{}
	h := New(registry, tracker, notifier, clock)

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)

	return &hubFixture{
		hub:      h,
		registry: registry,
		tracker:  tracker,
		notifier: notifier,
		server:   server,
		wsURL:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (f *hubFixture) registerModule(t *testing.T, name string) *foreman.Module {
	t.Helper()
	m, err := f.registry.Register(context.Background(), services.RegisterInput{
		Name:      name,
		ModelHash: "model-" + name,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (f *hubFixture) dial(t *testing.T, hash string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL+"?hash="+hash, nil)
	if err != nil {
		t.Fatalf("dial failed: %v (resp %v)", err, resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServeWS_BindAndGroup(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")

	f.dial(t, m.ModuleHash)

	waitFor(t, "session join", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })

	bound, err := f.registry.LookupByHash(context.Background(), m.ModuleHash)
	if err != nil {
		t.Fatal(err)
	}
	if !bound.Alive || bound.SessionID == "" {
		t.Errorf("module after connect = %+v, want alive with session", bound)
	}

	groups := f.hub.Groups()
	if len(groups) != 1 || groups[0].GroupName != GroupName(m.ModuleID) {
		t.Errorf("Groups = %v, want one group for module %d", groups, m.ModuleID)
	}
}

func TestServeWS_Rejections(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")

	// Missing hash.
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err == nil {
		t.Fatal("dial without hash should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing hash status = %v, want 400", resp)
	}

	// Unknown hash.
	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL+"?hash=nope", nil)
	if err == nil {
		t.Fatal("dial with unknown hash should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown hash status = %v, want 404", resp)
	}

	// Duplicate connect: the loser gets 409 and the first session survives.
	f.dial(t, m.ModuleHash)
	waitFor(t, "first session", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })

	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL+"?hash="+m.ModuleHash, nil)
	if err == nil {
		t.Fatal("duplicate dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %v, want 409", resp)
	}
	if f.hub.SessionCount(m.ModuleID) != 1 {
		t.Error("duplicate connect must not disturb the existing session")
	}
}

func TestHub_MalformedJSONReply(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading error reply: %v", err)
	}
	var reply map[string]string
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("reply is not JSON: %s", data)
	}
	if reply["status"] != "error" {
		t.Errorf("reply = %v, want status error", reply)
	}

	// The connection survives malformed input.
	if f.hub.SessionCount(m.ModuleID) != 1 {
		t.Error("malformed frame must not drop the session")
	}
}

func TestHub_HeartbeatSpellingsDropped(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)

	for _, frame := range []string{"", "  ", "ping", "PONG", "Ping"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}
	}

	// No replies for heartbeat frames; the read should time out.
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("heartbeat frames must not produce replies")
	}
}

func TestHub_ResultClearsTracker(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)

	f.tracker.Record(&foreman.PendingExecution{
		ExecutionID:  "e1",
		ModuleID:     m.ModuleID,
		ModuleName:   "M",
		WorkflowID:   "1",
		WorkflowName: "W",
		SentTime:     time.Now().UTC(),
	})

	result := `{"execution_id":"e1","status":"success"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "receive result" {
		t.Errorf("reply = %q, want \"receive result\"", data)
	}

	waitFor(t, "tracker clear", func() bool { return f.tracker.Len() == 0 })
	if events := f.notifier.captured(); len(events) != 0 {
		t.Errorf("success result emitted notifications: %v", events)
	}
}

func TestHub_FailureResultNotifies(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)

	f.tracker.Record(&foreman.PendingExecution{
		ExecutionID:  "e1",
		ModuleID:     m.ModuleID,
		ModuleName:   "M",
		WorkflowID:   "3",
		WorkflowName: "nightly",
		SentTime:     time.Now().UTC(),
	})

	// The worker garbles the meta echo; the pending record still names the
	// workflow.
	result := `{"execution_id":"e1","status":"failure","error":"model blew up","workflow_name":"wrong"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "failure notification", func() bool { return len(f.notifier.captured()) == 1 })

	e := f.notifier.captured()[0]
	if e.Kind != foreman.KindExecutionFailure {
		t.Errorf("Kind = %q, want execution_failure", e.Kind)
	}
	if e.WorkflowName != "nightly" || e.WorkflowID != "3" {
		t.Errorf("event = %+v, want pending-record workflow fields", e)
	}
	if e.ErrorMessage != "model blew up" {
		t.Errorf("ErrorMessage = %q, want model blew up", e.ErrorMessage)
	}
	if e.ModuleID == nil || *e.ModuleID != m.ModuleID {
		t.Errorf("ModuleID = %v, want %d", e.ModuleID, m.ModuleID)
	}
}

func TestHub_FailureWithoutPendingUsesMessageFields(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)

	result := `{"status":"failed"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "failure notification", func() bool { return len(f.notifier.captured()) == 1 })

	e := f.notifier.captured()[0]
	if e.WorkflowName != "unknown" {
		t.Errorf("WorkflowName = %q, want unknown fallback", e.WorkflowName)
	}
	if e.ModuleName != "M" {
		t.Errorf("ModuleName = %q, want registry name fallback", e.ModuleName)
	}
	if e.ErrorMessage != "execution failed" {
		t.Errorf("ErrorMessage = %q, want default", e.ErrorMessage)
	}
}

func TestHub_SendToModule(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)
	waitFor(t, "session join", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })

	msg := foreman.ExecuteMessage{
		Type: "execute",
		Meta: foreman.ExecuteMeta{ExecutionID: "e1", WorkflowName: "W"},
		Args: map[string]any{"a": float64(1)},
	}
	if err := f.hub.SendToModule(context.Background(), m.ModuleID, msg); err != nil {
		t.Fatalf("SendToModule returned error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got foreman.ExecuteMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("frame is not an execute message: %s", data)
	}
	if got.Type != "execute" || got.Meta.ExecutionID != "e1" {
		t.Errorf("received = %+v, want the sent execute message", got)
	}

	// An empty group is a silent drop, not an error.
	if err := f.hub.SendToModule(context.Background(), 999, msg); err != nil {
		t.Errorf("send to empty group returned error: %v", err)
	}
}

func TestHub_CloseModule(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)
	waitFor(t, "session join", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })

	if err := f.hub.CloseModule(context.Background(), m.ModuleID); err != nil {
		t.Fatalf("CloseModule returned error: %v", err)
	}

	// The client observes the server-initiated close.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	waitFor(t, "session teardown", func() bool { return f.hub.SessionCount(m.ModuleID) == 0 })
	waitFor(t, "registry unbind", func() bool {
		row, err := f.registry.LookupByHash(context.Background(), m.ModuleHash)
		return err == nil && !row.Alive
	})

	if err := f.hub.CloseModule(context.Background(), m.ModuleID); err == nil {
		t.Error("closing a module with no session should fail")
	}
}

func TestHub_DisconnectUnbinds(t *testing.T) {
	f := newHubFixture(t)
	m := f.registerModule(t, "M")
	conn := f.dial(t, m.ModuleHash)
	waitFor(t, "session join", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })

	conn.Close()

	waitFor(t, "registry unbind", func() bool {
		row, err := f.registry.LookupByHash(context.Background(), m.ModuleHash)
		return err == nil && !row.Alive && row.SessionID == ""
	})
	waitFor(t, "group cleanup", func() bool { return f.hub.SessionCount(m.ModuleID) == 0 })

	// The module can reconnect afterwards.
	f.dial(t, m.ModuleHash)
	waitFor(t, "rebind", func() bool { return f.hub.SessionCount(m.ModuleID) == 1 })
}
