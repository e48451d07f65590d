package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/auth"
	"github.com/insurge/chatd/internal/config"
	"github.com/insurge/chatd/internal/slogging"
	"github.com/insurge/chatd/internal/textcheck"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator is the slice of the auth service the websocket handshake
// needs.
type Authenticator interface {
	ValidateToken(token string) (*auth.Claims, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// WebSocketHandler serves the real-time chat protocol
type WebSocketHandler struct {
	registry  *ConnectionRegistry
	store     ChatStore
	responder Responder
	auth      Authenticator
	cfg       config.WebSocketConfig
}

// NewWebSocketHandler wires the protocol handler to its collaborators
func NewWebSocketHandler(registry *ConnectionRegistry, store ChatStore, responder Responder, authn Authenticator, cfg config.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  registry,
		store:     store,
		responder: responder,
		auth:      authn,
		cfg:       cfg,
	}
}

// HandleConnection handles GET /ws?token=...&session_id=...
//
// The connection is upgraded first so handshake failures can be reported
// with a policy-violation close frame rather than a bare HTTP error.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logger := slogging.Get()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	user, sessionID, ok := h.authenticate(c, ws)
	if !ok {
		closePolicyViolation(ws)
		return
	}

	conn := NewConn(ws, user.ID, sessionID)
	h.registry.Register(conn)
	defer h.registry.Unregister(conn)

	welcome := "Connected to chat"
	if sessionID != nil {
		welcome = "Connected to chat session " + strconv.FormatInt(*sessionID, 10)
	}
	if err := h.registry.SendToConnection(conn, NewSystemFrame(welcome, sessionID).Marshal()); err != nil {
		logger.Debug("Failed to send welcome frame to user %d: %v", user.ID, err)
		return
	}

	h.readLoop(c.Request.Context(), conn, ws, user, sessionID)
}

// authenticate validates the query token and optional session binding.
// Auth failures are indistinguishable from missing sessions on purpose.
func (h *WebSocketHandler) authenticate(c *gin.Context, ws *websocket.Conn) (*models.User, *int64, bool) {
	logger := slogging.Get()

	claims, err := h.auth.ValidateToken(c.Query("token"))
	if err != nil {
		logger.Warn("WebSocket auth failed: %v client_ip=%v", err, c.ClientIP())
		return nil, nil, false
	}
	user, err := h.auth.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil || !user.IsActive {
		logger.Warn("WebSocket auth failed: unknown or inactive user %d", claims.UserID)
		return nil, nil, false
	}

	var sessionID *int64
	if raw := c.Query("session_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, nil, false
		}
		if _, err := h.store.GetSessionForUser(c.Request.Context(), id, user.ID); err != nil {
			logger.Warn("WebSocket session binding refused: user=%d session=%d: %v", user.ID, id, err)
			return nil, nil, false
		}
		sessionID = &id
	}
	return user, sessionID, true
}

// readLoop runs the frame protocol until the client disconnects
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *Conn, ws *websocket.Conn, user *models.User, boundSession *int64) {
	logger := slogging.Get()

	if h.cfg.ReadLimitBytes > 0 {
		ws.SetReadLimit(h.cfg.ReadLimitBytes)
	}
	pongTimeout := h.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	stopPinger := h.startPinger(conn)
	defer stopPinger()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error for user %d: %v", user.ID, err)
			}
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			metricFramesReceived.WithLabelValues("invalid").Inc()
			h.sendError(conn, "Invalid message format")
			continue
		}
		metricFramesReceived.WithLabelValues(string(frame.Type)).Inc()

		switch frame.Type {
		case FramePing:
			_ = h.registry.SendToConnection(conn, NewPongFrame().Marshal())
		case FrameChatMessage:
			h.handleChatMessage(ctx, conn, user, boundSession, frame)
		}
	}
}

// handleChatMessage persists and fans out one user turn, then produces
// the assistant turn. Ordering is persist first, broadcast second, for
// both turns.
func (h *WebSocketHandler) handleChatMessage(ctx context.Context, conn *Conn, user *models.User, boundSession *int64, frame Frame) {
	logger := slogging.Get()

	targetSession := frame.SessionID
	if targetSession == nil {
		targetSession = boundSession
	}
	if targetSession == nil {
		h.sendError(conn, "No session specified")
		return
	}
	sessionID := *targetSession

	content := SanitizeMessageContent(frame.Content)
	if content == "" {
		h.sendError(conn, "Message content cannot be empty")
		return
	}
	if err := textcheck.ValidateMessageContent(content); err != nil {
		h.sendError(conn, "Message content rejected: "+err.Error())
		return
	}

	session, err := h.store.GetSessionForUser(ctx, sessionID, user.ID)
	if err != nil {
		h.sendError(conn, "Session not found or access denied")
		return
	}

	saved, err := h.store.AddUserMessage(ctx, sessionID, user.ID, content)
	if err != nil {
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotParticipant) {
			h.sendError(conn, "You do not have permission to post in this session")
			return
		}
		logger.Error("Failed to persist message from user %d in session %d: %v", user.ID, sessionID, err)
		h.sendError(conn, "Failed to send message")
		return
	}
	h.registry.SendToSessionAll(sessionID, NewChatFrame(content, sessionID, saved.CreatedAt).Marshal())

	if session.Title == DefaultSessionTitle {
		if err := h.store.SetSessionTitle(ctx, sessionID, GenerateChatTitle(content)); err != nil {
			logger.Warn("Failed to auto-title session %d: %v", sessionID, err)
		}
	}

	history, err := h.store.RecentHistory(ctx, sessionID, h.historyWindow())
	if err != nil {
		logger.Warn("Failed to load history for session %d: %v", sessionID, err)
		history = nil
	}

	reply, err := h.responder.GenerateResponse(ctx, history, content)
	if err != nil || reply == "" {
		if err != nil {
			logger.Warn("Responder error in session %d: %v", sessionID, err)
			metricResponderFailures.Inc()
		}
		reply = ApologyResponse
	}

	savedReply, err := h.store.AddGeneratedMessage(ctx, sessionID, models.MessageRoleAssistant, reply)
	if err != nil {
		logger.Error("Failed to persist assistant message in session %d: %v", sessionID, err)
		h.sendError(conn, "Failed to generate response")
		return
	}
	h.registry.SendToSessionAll(sessionID, NewChatFrame(reply, sessionID, savedReply.CreatedAt).Marshal())
}

// startPinger keeps the connection alive with control pings until the
// returned stop function is called.
func (h *WebSocketHandler) startPinger(conn *Conn) func() {
	interval := h.cfg.PingInterval
	if interval <= 0 {
		interval = 54 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.Ping(h.cfg.WriteTimeout); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (h *WebSocketHandler) historyWindow() int {
	if h.cfg.HistoryWindow > 0 {
		return h.cfg.HistoryWindow
	}
	return 10
}

func (h *WebSocketHandler) sendError(conn *Conn, msg string) {
	_ = h.registry.SendToConnection(conn, NewErrorFrame(msg).Marshal())
}

func closePolicyViolation(ws *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "policy violation"), deadline)
	_ = ws.Close()
}
