package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insurge/chatd/auth"
	"github.com/insurge/chatd/internal/slogging"
)

// UserHandlers provides the profile endpoints
type UserHandlers struct {
	service *auth.Service
}

// NewUserHandlers creates profile handlers over the auth service
func NewUserHandlers(service *auth.Service) *UserHandlers {
	return &UserHandlers{service: service}
}

// RegisterRoutes mounts the user endpoints on an authenticated group
func (h *UserHandlers) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.GetMe)
	r.PUT("/users/me", h.UpdateMe)
}

// GetMe handles GET /users/me
func (h *UserHandlers) GetMe(c *gin.Context) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := h.service.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		slogging.Get().Error("Failed to load user %d: %v", userID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// UpdateMe handles PUT /users/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.service.UpdateProfile(c.Request.Context(), userID, req.FirstName, req.LastName)
	if err != nil {
		slogging.Get().Error("Failed to update user %d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}
