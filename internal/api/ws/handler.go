package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pwa-marketplace/backend/internal/events"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler streams runtime events to WebSocket subscribers.
type Handler struct {
	bus     *events.Bus
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a WebSocket event-stream handler.
func NewHandler(bus *events.Bus, logger *logging.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

// WithMetrics adds metrics tracking.
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the request and forwards bus events until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	stream, cancel := h.bus.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces close frames and connection drops.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	welcome := events.Event{
		Type:      events.TypeConnection,
		Message:   "connected to marketplace event stream",
		Timestamp: time.Now().Unix(),
	}
	if err := h.write(conn, welcome); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return
			}
			if err := h.write(conn, event); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.WSEvents.WithLabelValues(event.Type).Inc()
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, event events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}
