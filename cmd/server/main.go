package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/studio/internal/app"
	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/service"
	ws "github.com/makeasinger/studio/internal/websocket"
	"github.com/makeasinger/studio/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := app.NewRedisClient(&cfg.Redis)

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt(&cfg.Redis))
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Ledger
	credits, err := app.OpenLedger(&cfg.Ledger, redisClient)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer credits.Close()

	// Agents
	mem := app.NewMemory(&cfg.Memory, redisClient)
	llm, modelReady := app.NewModel(&cfg.Model)
	studio := app.NewOrchestrator(cfg, llm, mem)

	// External clients
	generatorClient := client.NewGeneratorClient(&cfg.Generator)

	// Initialize R2 client (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, generator URLs are returned as is")
	}

	// Token verifiers: Zitadel JWKS first, legacy HMAC as fallback
	var verifiers auth.Chain
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			verifiers = append(verifiers, jwksVerifier)
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, auth.NewHMACVerifier(cfg.JWT.Secret))
	}

	// Initialize services
	generationService := service.NewGenerationService(
		service.NewRedisJobStore(redisClient), asynqClient, credits, cfg.Ledger.GenerationCost)

	// Initialize handlers
	agentHandler := handler.NewAgentHandler(studio, validate)
	billingHandler := handler.NewBillingHandler(credits, validate, cfg.Ledger.AdminToken)
	generationHandler := handler.NewGenerationHandler(generationService, validate)

	// Initialize auth handler for ForwardAuth verification
	authHandler := handler.NewAuthHandler(verifiers)

	apiAuthMiddleware := middleware.Authenticate(verifiers)
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuth()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	server := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	server.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	server.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	server.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	server.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"model":     modelReady,
				"memory":    cfg.Memory.Backend != config.MemoryBackendNone,
				"ledger":    credits.Configured(),
				"generator": generatorClient.IsConfigured(),
				"r2":        storage != nil,
				"auth":      verifiers.Configured(),
			},
			"ledgerPolicy": credits.Policy().String(),
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	server.Get("/auth/verify", authHandler.Verify)

	// Authenticated by X-Admin-Token, so it must precede the API auth group
	server.Post("/api/billing/topup", billingHandler.TopUp)

	// API routes
	api := server.Group("/api", apiAuthMiddleware)

	// Agent routes
	agentRoutes := api.Group("/agent")
	agentRoutes.Post("/chat", rateLimiter.ChatLimit(cfg.RateLimit.ChatPerMin), agentHandler.Chat)

	// Billing routes
	billing := api.Group("/billing")
	billing.Get("/balance", billingHandler.Balance)
	billing.Get("/history", billingHandler.History)

	// Generation routes
	api.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Start)
	generate := api.Group("/generate")
	generate.Get("/status/:jobId", generationHandler.Status)
	generate.Get("/result/:jobId", generationHandler.Result)
	generate.Post("/cancel/:jobId", generationHandler.Cancel)

	// WebSocket routes
	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	server.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, generationService, generatorClient, storage, hub, mem)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := server.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func startWorkerServer(
	cfg *config.Config,
	generationService *service.GenerationService,
	generatorClient *client.GeneratorClient,
	storage client.StorageClient,
	hub *ws.Hub,
	indexer memory.Memory,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt(&cfg.Redis),
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.QueueGeneration: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	generationWorker := worker.NewGenerationWorker(generationService, generatorClient, storage, hub, indexer, worker.Options{
		PollInterval:  cfg.Generator.PollInterval,
		MaxWait:       cfg.Generator.MaxWait,
		MockStepDelay: 2 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
