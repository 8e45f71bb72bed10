package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/questline/api/internal/broadcast"
	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/config"
	"github.com/questline/api/internal/database"
	"github.com/questline/api/internal/handler"
	"github.com/questline/api/internal/middleware"
	"github.com/questline/api/internal/progression"
	"github.com/questline/api/internal/scheduler"
	"github.com/questline/api/internal/store"
	"github.com/questline/api/internal/validator"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	sessionStore := store.New(db)

	// Initialize Redis broadcaster
	var broadcaster *broadcast.Broadcaster
	broadcaster, err = broadcast.New(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		// Continue without push; clients converge through polling
		broadcaster = nil
	}

	var availabilityClient *client.AvailabilityClient
	if broadcaster != nil {
		availabilityClient = client.NewAvailabilityClient(cfg.AvailabilityURL, broadcaster.Client())
	} else {
		availabilityClient = client.NewAvailabilityClient(cfg.AvailabilityURL, nil)
	}

	codeValidator := validator.NewCodeValidator(cfg.CodeSecret)

	var engine *progression.Engine
	if broadcaster != nil {
		engine = progression.NewEngine(sessionStore, broadcaster)
	} else {
		engine = progression.NewEngine(sessionStore, nil)
	}

	// Google OAuth config
	googleConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}

	// Initialize handlers
	gameHandler := handler.NewGameHandler(sessionStore, engine, availabilityClient)
	scanHandler := handler.NewScanHandler(sessionStore, engine, codeValidator, cfg.FrontendURL)
	paymentHandler := handler.NewPaymentHandler(sessionStore, engine)
	authHandler := handler.NewAuthHandler(db, cfg.JWTSecret, googleConfig, cfg.FrontendURL)

	// Initialize and start the expiry sweeper if enabled
	var sweeper *scheduler.ExpirySweeper
	if cfg.SweeperEnabled {
		sweeper = scheduler.NewExpirySweeper(sessionStore, cfg.SweeperInterval)
		go sweeper.Start(context.Background())
		log.Println("Background expiry sweeper started")
	}

	// Setup router
	r := gin.Default()
	r.Use(middleware.MetricsMiddleware())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Sweeper status
	r.GET("/sweeper/status", func(c *gin.Context) {
		if sweeper != nil {
			c.JSON(200, sweeper.GetStatus())
		} else {
			c.JSON(200, gin.H{"enabled": false, "message": "Sweeper is disabled"})
		}
	})

	// OAuth routes
	r.GET("/auth/google", authHandler.GoogleAuth)
	r.GET("/auth/google/callback", authHandler.GoogleCallback)
	r.POST("/auth/refresh", authHandler.RefreshToken)
	r.POST("/auth/logout", authHandler.Logout)
	r.GET("/auth/me", middleware.AuthMiddleware(cfg.JWTSecret), authHandler.Me)

	// Scan surface: optional auth, always answers with a redirect
	r.GET("/scan/:challengeRef", middleware.OptionalAuthMiddleware(cfg.JWTSecret), scanHandler.Scan)

	// Payment collaborator webhook
	r.POST("/webhooks/payment", paymentHandler.Webhook)

	// API routes
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		api.POST("/game/answer", gameHandler.Answer)
		api.POST("/game/skip", gameHandler.Skip)
		api.POST("/game/start", gameHandler.Start)
		api.GET("/game/status", gameHandler.Status)
		api.POST("/sessions/join", gameHandler.Join)
	}

	// Push channel
	if broadcaster != nil {
		wsHandler := handler.NewWSHandler(sessionStore, broadcaster)
		r.GET("/ws", middleware.AuthMiddleware(cfg.JWTSecret), wsHandler.Serve)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}

	log.Printf("API server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
