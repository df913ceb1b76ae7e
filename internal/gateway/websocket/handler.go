package websocket

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/auth"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/pkg/realtime"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS allowlist on the API
		// surface; the gateway accepts the upgrade and gates on auth.
		return true
	},
}

// Handler upgrades connections and authenticates auth frames. In
// production mode a signed token is required; in development a bare
// agent id is accepted.
type Handler struct {
	hub         *Hub
	signer      *auth.Signer
	development bool
	logger      *logger.Logger
}

// NewHandler creates a gateway handler.
func NewHandler(hub *Hub, signer *auth.Signer, development bool, log *logger.Logger) *Handler {
	return &Handler{
		hub:         hub,
		signer:      signer,
		development: development,
		logger:      log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades the request, sends the connected frame,
// and runs the read/write pumps until the client disconnects. Query
// parameters agent_id and session_id are held back until the auth
// frame succeeds.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn, h.hub, h, h.logger)
	client.queryAgentID = c.Query("agent_id")
	client.querySessionID = c.Query("session_id")

	h.hub.Register(client)
	client.sendJSON(realtime.NewConnected(clientID))

	h.logger.Debug("connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// Authenticate implements the auth-frame policy.
func (h *Handler) Authenticate(frame *realtime.ClientFrame) (string, string, error) {
	if frame.Token == "" {
		if h.development && frame.AgentID != "" {
			return frame.AgentID, frame.SessionID, nil
		}
		return "", "", errors.New("token is required")
	}

	claims, err := h.signer.Verify(frame.Token)
	if err != nil {
		return "", "", err
	}
	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = frame.SessionID
	}
	return claims.AgentID, sessionID, nil
}
