package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/auth"
	"github.com/insurge/chatd/internal/slogging"
	"github.com/insurge/chatd/internal/textcheck"
)

// ChatHandlers provides the REST endpoints for sessions, participants,
// and messages.
type ChatHandlers struct {
	store ChatStore
}

// NewChatHandlers creates REST handlers over the given store
func NewChatHandlers(store ChatStore) *ChatHandlers {
	return &ChatHandlers{store: store}
}

// RegisterRoutes mounts the chat endpoints on an authenticated group
func (h *ChatHandlers) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/chat/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/public", h.ListPublicSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.PUT("/:id", h.UpdateSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.POST("/:id/join", h.JoinSession)
	sessions.POST("/:id/leave", h.LeaveSession)
	sessions.POST("/:id/invite", h.InviteUser)
	sessions.PUT("/:id/participants/:user_id/role", h.UpdateParticipantRole)
	sessions.DELETE("/:id/participants/:user_id", h.RemoveParticipant)
	sessions.GET("/:id/participants", h.ListParticipants)
	sessions.POST("/:id/messages", h.PostMessage)
	sessions.GET("/:id/messages", h.ListMessages)
}

// sessionResponse is the public view of a chat session
type sessionResponse struct {
	ID              int64              `json:"id"`
	Title           string             `json:"title"`
	Description     *string            `json:"description,omitempty"`
	OwnerID         int64              `json:"owner_id"`
	SessionType     models.SessionType `json:"session_type"`
	MaxParticipants int                `json:"max_participants"`
	CreatedAt       time.Time          `json:"created_at"`
}

func newSessionResponse(s *models.ChatSession) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		Title:           s.Title,
		Description:     s.Description,
		OwnerID:         s.OwnerID,
		SessionType:     s.SessionType,
		MaxParticipants: s.MaxParticipants,
		CreatedAt:       s.CreatedAt,
	}
}

type messageResponse struct {
	ID        int64              `json:"id"`
	SessionID int64              `json:"session_id"`
	UserID    *int64             `json:"user_id,omitempty"`
	Role      models.MessageRole `json:"role"`
	Content   string             `json:"content"`
	CreatedAt time.Time          `json:"created_at"`
}

func newMessageResponse(m *models.ChatMessage) messageResponse {
	return messageResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

type participantResponse struct {
	UserID   int64                  `json:"user_id"`
	Role     models.ParticipantRole `json:"role"`
	JoinedAt time.Time              `json:"joined_at"`
}

// CreateSession handles POST /chat/sessions
func (h *ChatHandlers) CreateSession(c *gin.Context) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var in CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.Title == "" {
		in.Title = DefaultSessionTitle
	}
	if in.SessionType == "" {
		in.SessionType = models.SessionTypePrivate
	}
	if !in.SessionType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session type"})
		return
	}
	if in.MaxParticipants <= 0 {
		in.MaxParticipants = 10
	}

	session, err := h.store.CreateSession(c.Request.Context(), userID, in)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(session))
}

// ListSessions handles GET /chat/sessions
func (h *ChatHandlers) ListSessions(c *gin.Context) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	offset, limit := pagination(c)

	summaries, err := h.store.ListUserSessions(c.Request.Context(), userID, offset, limit)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	out := make([]gin.H, 0, len(summaries))
	for i := range summaries {
		out = append(out, gin.H{
			"session":           newSessionResponse(&summaries[i].Session),
			"message_count":     summaries[i].MessageCount,
			"participant_count": summaries[i].ParticipantCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// ListPublicSessions handles GET /chat/sessions/public
func (h *ChatHandlers) ListPublicSessions(c *gin.Context) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	offset, limit := pagination(c)

	sessions, total, err := h.store.ListPublicSessions(c.Request.Context(), userID, offset, limit)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, newSessionResponse(&sessions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "total": total})
}

// GetSession handles GET /chat/sessions/:id
func (h *ChatHandlers) GetSession(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	session, err := h.store.GetSessionForUser(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

// UpdateSession handles PUT /chat/sessions/:id
func (h *ChatHandlers) UpdateSession(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	var in UpdateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.SessionType != nil && !in.SessionType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session type"})
		return
	}

	session, err := h.store.UpdateSession(c.Request.Context(), sessionID, userID, in)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

// DeleteSession handles DELETE /chat/sessions/:id
func (h *ChatHandlers) DeleteSession(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	if err := h.store.SoftDeleteSession(c.Request.Context(), sessionID, userID); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

// JoinSession handles POST /chat/sessions/:id/join
func (h *ChatHandlers) JoinSession(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	p, err := h.store.JoinSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, participantResponse{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
}

// LeaveSession handles POST /chat/sessions/:id/leave
func (h *ChatHandlers) LeaveSession(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	if err := h.store.LeaveSession(c.Request.Context(), sessionID, userID); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left session"})
}

type inviteRequest struct {
	UserID int64                  `json:"user_id" binding:"required"`
	Role   models.ParticipantRole `json:"role"`
}

// InviteUser handles POST /chat/sessions/:id/invite
func (h *ChatHandlers) InviteUser(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}

	p, err := h.store.InviteUser(c.Request.Context(), sessionID, userID, req.UserID, req.Role)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, participantResponse{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
}

type roleRequest struct {
	Role models.ParticipantRole `json:"role" binding:"required"`
}

// UpdateParticipantRole handles PUT /chat/sessions/:id/participants/:user_id/role
func (h *ChatHandlers) UpdateParticipantRole(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.store.UpdateParticipantRole(c.Request.Context(), sessionID, userID, targetID, req.Role)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, participantResponse{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
}

// RemoveParticipant handles DELETE /chat/sessions/:id/participants/:user_id
func (h *ChatHandlers) RemoveParticipant(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.store.RemoveParticipant(c.Request.Context(), sessionID, userID, targetID); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "participant removed"})
}

// ListParticipants handles GET /chat/sessions/:id/participants
func (h *ChatHandlers) ListParticipants(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	// visibility piggybacks on session access
	if _, err := h.store.GetSessionForUser(c.Request.Context(), sessionID, userID); err != nil {
		h.writeStoreError(c, err)
		return
	}

	participants, err := h.store.ActiveParticipants(c.Request.Context(), sessionID)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, participantResponse{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
	}
	c.JSON(http.StatusOK, gin.H{"participants": out})
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// PostMessage handles POST /chat/sessions/:id/messages
func (h *ChatHandlers) PostMessage(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := SanitizeMessageContent(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content cannot be empty"})
		return
	}
	if err := textcheck.ValidateMessageContent(content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.store.AddUserMessage(c.Request.Context(), sessionID, userID, content)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageResponse(msg))
}

// ListMessages handles GET /chat/sessions/:id/messages
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	userID, sessionID, ok := h.idsFromRequest(c)
	if !ok {
		return
	}
	offset, limit := pagination(c)

	messages, err := h.store.ListMessages(c.Request.Context(), sessionID, userID, offset, limit)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, newMessageResponse(&messages[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// idsFromRequest extracts the authenticated user and the :id path param
func (h *ChatHandlers) idsFromRequest(c *gin.Context) (userID, sessionID int64, ok bool) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return 0, 0, false
	}
	sessionID, err = strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, 0, false
	}
	return userID, sessionID, true
}

// writeStoreError maps store sentinels onto HTTP statuses
func (h *ChatHandlers) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrForbidden), errors.Is(err, ErrOwnerImmutable):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyParticipant), errors.Is(err, ErrSessionFull), errors.Is(err, ErrSessionNotJoinable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slogging.Get().Error("Chat store error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func pagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return offset, limit
}
