package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modulab/foreman/internal/foreman"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// sendBuffer is the outbound channel depth per session. A session that
	// cannot drain this many frames is dropped rather than blocking the
	// scheduler.
	sendBuffer = 16
)

// session is one accepted websocket. Only writePump touches the
// connection's data-frame writer; readPump replies by enqueueing.
type session struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	moduleID  int

	send    chan []byte
	done    chan struct{}
	closing chan struct{}

	closeOnce sync.Once
	downOnce  sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, sessionID string, moduleID int) *session {
	return &session{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		moduleID:  moduleID,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
}

// enqueue hands a frame to the writer. A full buffer drops the frame; the
// execution watchdog covers any pending entry that never reaches the
// worker.
func (s *session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		slog.Warn("session send buffer full, dropping frame",
			"module_id", s.moduleID, "session_id", s.sessionID)
	}
}

// requestClose asks the writer to send a close frame and tear down.
func (s *session) requestClose() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// teardown unbinds the registry session, leaves the group, and closes the
// socket. Safe to call from either pump; runs once.
func (s *session) teardown() {
	s.downOnce.Do(func() {
		s.hub.registry.Unbind(context.Background(), s.sessionID)
		s.hub.leave(s)
		close(s.done)
		s.conn.Close()
		slog.Info("module disconnected", "module_id", s.moduleID, "session_id", s.sessionID)
	})
}

// writePump is the sole writer of data frames on the connection.
func (s *session) writePump() {
	defer s.teardown()
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-s.closing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed by server"))
			return
		case <-s.done:
			return
		}
	}
}

// readPump consumes inbound frames until the connection drops. Every
// frame, including control pings and pongs, refreshes last_alive_time.
func (s *session) readPump() {
	defer s.teardown()

	s.conn.SetPingHandler(func(appData string) error {
		s.hub.registry.Touch(context.Background(), s.sessionID)
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	s.conn.SetPongHandler(func(string) error {
		s.hub.registry.Touch(context.Background(), s.sessionID)
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", "module_id", s.moduleID, "err", err)
			}
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame processes one inbound text frame. Heartbeat spellings are
// dropped after the touch; anything else must be JSON.
func (s *session) handleFrame(data []byte) {
	ctx := context.Background()
	s.hub.registry.Touch(ctx, s.sessionID)

	text := strings.TrimSpace(string(data))
	if text == "" {
		return
	}
	if low := strings.ToLower(text); low == "ping" || low == "pong" {
		return
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		slog.Warn("malformed message from module", "module_id", s.moduleID, "err", err)
		reply, _ := json.Marshal(map[string]string{
			"status":  "error",
			"message": "invalid JSON payload",
		})
		s.enqueue(reply)
		return
	}

	s.handleResult(ctx, raw)
	s.enqueue([]byte("receive result"))
}

// handleResult settles the pending entry for a result-shaped message and
// raises a failure notification when the worker reports one.
func (s *session) handleResult(ctx context.Context, raw map[string]any) {
	res := foreman.ParseResult(raw)

	var pending *foreman.PendingExecution
	if res.ExecutionID != "" {
		pending = s.hub.tracker.Clear(res.ExecutionID)
		if pending != nil {
			slog.Info("execution result received", "execution_id", res.ExecutionID,
				"workflow", pending.WorkflowName, "status", res.Status)
		}
	}

	if !res.IsResult || !res.Failed {
		return
	}

	module, err := s.hub.registry.LookupBySession(ctx, s.sessionID)
	if err != nil {
		slog.Warn("failure result from unbound session", "session_id", s.sessionID)
		return
	}

	// Pending record fields beat message fields: the dispatch side knows
	// which workflow this execution belongs to even when the worker omits
	// or garbles the meta echo.
	workflowID := res.WorkflowID
	workflowName := res.WorkflowName
	if pending != nil {
		workflowID = pending.WorkflowID
		workflowName = pending.WorkflowName
	}
	if workflowName == "" {
		workflowName = "unknown"
	}
	moduleName := res.ModuleName
	if moduleName == "" {
		moduleName = module.Name
	}

	slog.Error("module reported execution failure", "module_id", module.ModuleID,
		"workflow", workflowName, "execution_id", res.ExecutionID, "error", res.ErrorMessage)

	n := foreman.Notification{
		Kind:         foreman.KindExecutionFailure,
		WorkflowName: workflowName,
		WorkflowID:   workflowID,
		ModuleID:     &module.ModuleID,
		ModuleName:   moduleName,
		ExecutionID:  res.ExecutionID,
		ErrorMessage: res.ErrorMessage,
		FailureTime:  s.hub.clock.NowLocal(),
	}
	if s.hub.notifier != nil {
		if err := s.hub.notifier.Notify(ctx, n); err != nil {
			slog.Error("failure notification delivery failed",
				"module_id", module.ModuleID, "err", err)
		}
	}
}
