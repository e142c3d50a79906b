package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gowa-relay/config"
	"gowa-relay/database"
	"gowa-relay/internal/handler"
	customMiddleware "gowa-relay/internal/middleware"
	"gowa-relay/internal/model"
	"gowa-relay/internal/service"
	"gowa-relay/internal/ws"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func main() {

	// Load .env (ignore error when the file is missing, e.g. in production)
	_ = godotenv.Load()

	cfg := config.Load()

	// credential store for the transport session
	database.InitWhatsmeow(cfg.DBConnectionString)

	// AI reply fallback
	config.AIEnabled = os.Getenv("AI_ENABLED") == "true"
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	config.GeminiDefaultModel = os.Getenv("GEMINI_DEFAULT_MODEL")
	if config.GeminiDefaultModel == "" {
		config.GeminiDefaultModel = "gemini-1.5-flash"
	}

	log.Printf("feature flags -> ai_enabled: %v", config.AIEnabled)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("JWT_SECRET is not set")
	}
	service.InitAuthConfig(jwtSecret)

	// Webhook registry, merged from the durable store plus env/file seeds
	subscriberStore := model.NewSubscriberStore(cfg.WebhookStoreFile)
	registry := service.NewRegistry(subscriberStore, cfg.WebhookTimeout, cfg.WebhookBearerToken)
	if err := registry.LoadInitial(cfg.WebhookURLs, cfg.WebhookFile); err != nil {
		log.Fatalf("Failed to load webhook subscribers: %v", err)
	}
	log.Printf("Webhook subscribers loaded: %d", len(registry.List()))

	snapshots := model.NewSnapshotStore(cfg.SnapshotFile)

	// WebSocket hub for the QR/status page
	hub := ws.NewHub()
	go hub.Run()

	// Session manager + inbound pipeline
	manager := service.NewSessionManager(database.Container, cfg)
	manager.Realtime = hub

	pipeline := service.NewPipeline(cfg, registry, snapshots, manager)
	manager.SetPipeline(pipeline)
	go pipeline.Run()

	if err := manager.Start(context.Background()); err != nil {
		log.Printf("Warning: initial session start failed: %v", err)
	}
	manager.StartTimers()

	// Setup Echo
	e := echo.New()
	e.Use(middleware.Recover())

	originsEnv := os.Getenv("CORS_ALLOW_ORIGINS")
	if originsEnv == "" {
		log.Println("CORS_ALLOW_ORIGINS is not set")
	}
	allowOrigins := strings.Split(originsEnv, ",")
	for i, o := range allowOrigins {
		allowOrigins[i] = strings.TrimSpace(o)
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))
	e.OPTIONS("/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// Rate limiter configuration from env
	rateLimit := config.GetEnvAsInt("RATE_LIMIT_PER_SECOND", 10)
	rateBurst := config.GetEnvAsInt("RATE_LIMIT_BURST", 10)
	rateWindow := config.GetEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 3)

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(rateLimit),
				Burst:     rateBurst,
				ExpiresIn: time.Duration(rateWindow) * time.Minute,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required. Please login first."
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}

		c.JSON(code, response)
	}

	// =====================================================
	// PUBLIC ROUTES
	// =====================================================
	e.POST("/auth/login", handler.Login)

	e.GET("/ws", handler.WebSocketHandler(hub))
	e.GET("/qr", handler.QRPage())
	e.GET("/", func(c echo.Context) error { // Health check
		return c.JSON(200, map[string]interface{}{
			"success": true,
			"message": "Relay is running",
			"version": "1.0.0",
		})
	})

	// =====================================================
	// API ROUTES (JWT required)
	// =====================================================
	api := e.Group("/api", customMiddleware.JWTAuthMiddleware())

	// Session lifecycle
	api.POST("/session/start", handler.StartSession(manager))
	api.GET("/session/status", handler.SessionStatus(manager))
	api.POST("/session/refresh", handler.RefreshSession(manager))
	api.POST("/session/logout", handler.LogoutSession(manager))
	api.GET("/session/qr", handler.SessionQR(manager))

	// Outbound messaging
	api.POST("/messages", handler.SendMessage(manager))
	api.POST("/messages/presence", handler.SendPresence(manager))
	api.POST("/messages/read", handler.MarkRead(manager))
	api.POST("/numbers/check", handler.CheckNumber(manager))
	api.GET("/profile/:jid", handler.GetProfile(manager))

	// Chat/contact cache
	api.GET("/chats", handler.GetChats(snapshots))
	api.GET("/contacts", handler.GetContactList(manager))
	api.GET("/contacts/export", handler.ExportContacts(manager))

	// Webhook registry
	api.GET("/webhooks", handler.ListWebhooks(registry))
	api.POST("/webhooks", handler.AddWebhook(registry))
	api.DELETE("/webhooks/:id", handler.RemoveWebhook(registry))

	// The QR JSON endpoint is also reachable unauthenticated for the
	// pairing page.
	e.GET("/session/qr", handler.SessionQR(manager))

	log.Printf("Server starting on port %s, baseURL=%s", cfg.Port, cfg.BaseURL)

	log.Fatal(e.Start(":" + cfg.Port))
}
