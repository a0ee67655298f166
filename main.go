package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"livequiz/auth"
	"livequiz/config"
	"livequiz/handlers"
	"livequiz/models"
	"livequiz/routes"
	"livequiz/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	err = db.AutoMigrate(
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.Session{},
		&models.SessionPlayer{},
		&models.Answer{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	redisClient := config.InitRedis(cfg)

	gate := auth.NewGate(cfg.JWTSecret)
	gameService := services.NewGameService(db, redisClient)

	hub := services.NewHub(gameService)
	gameService.SetBroadcaster(hub)
	go hub.Run()

	sessionHandler := handlers.NewSessionHandler(gameService)

	router := gin.Default()
	routes.SetupRoutes(router, sessionHandler, hub, gameService, gate)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
