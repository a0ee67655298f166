package routes

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"livequiz/auth"
	"livequiz/handlers"
	"livequiz/middleware"
	"livequiz/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	sessionHandler *handlers.SessionHandler,
	hub *services.Hub,
	game *services.GameService,
	gate *auth.Gate,
) {
	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", middleware.Auth(gate), middleware.RequireRole(auth.RoleTeacher), sessionHandler.CreateSession)
			sessions.GET("/:code", sessionHandler.GetSession)
		}
	}

	// WebSocket endpoint for the live session protocol. The identity gate
	// runs before the upgrade; connections without a valid token are refused.
	router.GET("/ws/session/:code", func(c *gin.Context) {
		identity, err := gate.FromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		session, err := game.SessionByInviteCode(c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("websocket upgrade failed for session %s: %v", session.ID, err)
			return
		}

		hub.RegisterClient(conn, session.ID, *identity)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
