package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/domain/bridge"
	"github.com/capsulehq/runtime/internal/domain/session"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/id"
)

const (
	// maxFrameBytes bounds a single inbound frame; bundles have no
	// business sending anything larger.
	maxFrameBytes = 64 * 1024

	writeTimeout = 10 * time.Second
)

// Origin checking happens against the session allowlist before the
// upgrade, so the upgrader itself accepts everything.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the sandbox side of the session bridge.
type Handler struct {
	sessions *session.Manager
	logger   *logging.Logger
}

// NewHandler creates a new bridge attachment handler.
func NewHandler(sessions *session.Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		sessions: sessions,
		logger:   logger.Named("ws"),
	}
}

// HandleBridge upgrades GET /sessions/:id/bridge and attaches the
// connection as the session's transport.
func (h *Handler) HandleBridge(c *gin.Context) {
	sessionID := id.SessionID(c.Param("id"))
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	origin := normalizeOrigin(c.GetHeader("Origin"))
	b := s.Bridge()
	if !b.OriginAllowed(origin) {
		h.logger.Warn("Rejected bridge attachment from disallowed origin",
			zap.String("session_id", string(sessionID)),
			zap.String("origin", origin))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	t := &transport{conn: conn, origin: origin}
	if !b.Attach(t, origin) {
		// Allowlist changed between the check and the attach.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "origin not allowed"),
			time.Now().Add(writeTimeout))
		return
	}
	defer b.Detach(t)

	h.logger.Info("Sandbox attached",
		zap.String("session_id", string(sessionID)),
		zap.String("origin", origin))

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Bridge read error", zap.String("session_id", string(sessionID)), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.HandleInbound(t, origin, raw)
	}
}

// normalizeOrigin maps the opaque-origin serialization (and a missing
// header) to the sandbox placeholder.
func normalizeOrigin(origin string) string {
	if origin == "" || origin == "null" {
		return bridge.SandboxOrigin
	}
	return origin
}

// transport writes outbound control commands to the attached socket.
// gorilla/websocket allows one concurrent writer, hence the mutex.
type transport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	origin string
}

func (t *transport) Post(msg bridge.Message, origin string) error {
	if origin != t.origin {
		return fmt.Errorf("ws: origin %q does not match attached peer %q", origin, t.origin)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(msg)
}
