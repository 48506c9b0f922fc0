package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/metrics"
	"github.com/jgirmay/pulse/pkg/models"
)

// Snapshotter supplies the initial view sent to a new watcher
type Snapshotter interface {
	GetOrgPresence(ctx context.Context, orgID string) (map[string]*models.PresenceRecord, error)
}

// WatchHandler serves the per-organization presence feed
type WatchHandler struct {
	broadcaster *Broadcaster
	presence    Snapshotter
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewWatchHandler creates a new watch handler
func NewWatchHandler(b *Broadcaster, presence Snapshotter, logger *zap.Logger, m *metrics.Metrics) *WatchHandler {
	return &WatchHandler{
		broadcaster: b,
		presence:    presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// callers are authenticated by bearer token, not cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logging.OrNop(logger).Named("watch"),
		metrics: m,
		conns:   make(map[*Connection]struct{}),
	}
}

// Serve subscribes, snapshots and then upgrades. Errors before the upgrade are returned
// so the caller can answer with a normal HTTP error; afterwards Serve blocks until the socket closes.
func (h *WatchHandler) Serve(w http.ResponseWriter, r *http.Request, userID, orgID string) error {
	ctx := r.Context()

	// subscribe first so nothing published after the snapshot is missed
	sub, err := h.broadcaster.Subscribe(ctx, orgID)
	if err != nil {
		return err
	}
	defer sub.Close()

	snapshot, err := h.presence.GetOrgPresence(ctx, orgID)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	initial, err := json.Marshal(Message{Type: MessageSnapshot, Timestamp: time.Now().UTC(), Data: snapshot})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}

	conn := NewConnection(userID, orgID, ws)
	h.track(conn)
	defer h.untrack(conn)

	go conn.writeLoop()
	go conn.readLoop()

	h.logger.Debug("watcher connected", zap.String("conn_id", conn.ID), zap.String("user_id", userID), zap.String("org_id", orgID))
	if err := conn.Send(initial); err != nil {
		return nil
	}

	events := sub.Channel()
	for {
		select {
		case <-conn.Done():
			h.logger.Debug("watcher disconnected", zap.String("conn_id", conn.ID))
			return nil
		case msg, ok := <-events:
			if !ok {
				conn.Close(websocket.CloseGoingAway, "subscription closed")
				return nil
			}
			if err := conn.Send([]byte(msg.Payload)); err != nil {
				return nil
			}
		}
	}
}

// Shutdown disconnects every watcher
func (h *WatchHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

// Count is the number of open watch sockets
func (h *WatchHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *WatchHandler) track(conn *Connection) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.metrics.WatchOpened()
}

func (h *WatchHandler) untrack(conn *Connection) {
	conn.Close(websocket.CloseNormalClosure, "")
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.metrics.WatchClosed()
}
