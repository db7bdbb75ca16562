package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/store"
)

const (
	// wsPingInterval is the gap between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for a single write.
	wsWriteTimeout = 5 * time.Second
	// wsBackfillCount is the number of historical events sent on connect.
	wsBackfillCount = 50
	// wsClientBuffer sizes per-client queues; slow clients drop frames
	// instead of stalling the workflow.
	wsClientBuffer = 64
)

// eventFrame is one wire message on /ws/events. The backfill arrives as a
// JSON array of frames, live traffic as single frames.
type eventFrame struct {
	Ts       string `json:"ts"`
	Type     string `json:"type"`
	Severity string `json:"severity,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Issue    int    `json:"issue,omitempty"`
	Message  string `json:"message"`
}

func eventToFrame(e *store.Event) eventFrame {
	return eventFrame{
		Ts:      e.CreatedAt.Format("15:04:05"),
		Type:    e.EventType,
		Issue:   e.IssueNumber,
		Message: e.Message,
	}
}

func notificationToFrame(n *events.Notification) eventFrame {
	msg := n.Message
	if n.Title != "" {
		msg = n.Title + ": " + n.Message
	}
	return eventFrame{
		Ts:       n.CreatedAt.Format("15:04:05"),
		Type:     "NOTIFICATION",
		Severity: string(n.Severity),
		Repo:     n.Repo,
		Issue:    n.IssueNumber,
		Message:  msg,
	}
}

// handleEvents upgrades the connection and streams the audit log in real
// time. On connect it sends the most recent events as a single array, then
// pushes new events and escalation notices as they happen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info("Event stream client connected", slog.String("remote", r.RemoteAddr))
	s.config.Metrics.EventClientsActive.Inc()
	defer s.config.Metrics.EventClientsActive.Dec()

	// Subscribe before backfilling so nothing falls between the two.
	sub, cancel := s.config.Recorder.Subscribe(wsClientBuffer)
	defer cancel()

	id, notes := s.hub.add()
	defer s.hub.remove(id)

	if err := s.sendBackfill(conn); err != nil {
		s.logger.Warn("event backfill failed", slog.String("error", err.Error()))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	// Read pump: clients send nothing; reads feed the pong handler and
	// detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.logger.Warn("event stream read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := writeFrame(conn, eventToFrame(e)); err != nil {
				return
			}
		case n, ok := <-notes:
			if !ok {
				return
			}
			if err := writeFrame(conn, notificationToFrame(n)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// sendBackfill sends the newest audit entries to a freshly connected client.
func (s *Server) sendBackfill(conn *websocket.Conn) error {
	recent, err := s.config.Recorder.Recent(wsBackfillCount)
	if err != nil {
		return err
	}

	// Recent returns newest first; reverse for chronological display.
	frames := make([]eventFrame, len(recent))
	for i, e := range recent {
		frames[len(recent)-1-i] = eventToFrame(e)
	}

	msg, err := json.Marshal(frames)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func writeFrame(conn *websocket.Conn, f eventFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}

// hub tracks connected event-stream clients and routes escalation
// notifications to them.
type hub struct {
	mu      sync.RWMutex
	nextID  uint64
	clients map[uint64]chan *events.Notification
}

func newHub() *hub {
	return &hub{clients: make(map[uint64]chan *events.Notification)}
}

func (h *hub) add() (uint64, <-chan *events.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan *events.Notification, wsClientBuffer)
	h.clients[id] = ch
	return id, ch
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

func (h *hub) broadcast(n *events.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- n:
		default:
			// Slow client; drop rather than block the notifier.
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wsChannel adapts the hub to the notifier's delivery interface.
type wsChannel struct {
	hub *hub
}

func (c *wsChannel) Name() string { return "gateway" }
func (c *wsChannel) Type() string { return "websocket" }

func (c *wsChannel) Send(_ context.Context, n *events.Notification) error {
	c.hub.broadcast(n)
	return nil
}
