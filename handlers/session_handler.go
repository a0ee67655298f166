package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livequiz/middleware"
	"livequiz/services"
)

type SessionHandler struct {
	game *services.GameService
}

func NewSessionHandler(game *services.GameService) *SessionHandler {
	return &SessionHandler{game: game}
}

type CreateSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
}

// CreateSession creates the durable session row with a fresh invite code and
// initializes its ephemeral state. Teacher only.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	identity := middleware.Identity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.game.CreateSession(c.Request.Context(), identity.ID, req.QuizID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession resolves an invite code so clients can inspect a session before
// connecting.
func (h *SessionHandler) GetSession(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invite code required"})
		return
	}

	session, err := h.game.SessionByInviteCode(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, session)
}
