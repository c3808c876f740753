package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/agent"
	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/ledger"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/tools"
)

const (
	testJWTSecret  = "test-secret-for-e2e"
	testUserID     = "test-user-123"
	testAdminToken = "test-admin-token"
	testCost       = 5
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	ledger *ledger.Ledger
	// redis is nil when no local Redis is reachable
	redis *redis.Client
}

// setupApp creates a Fiber app wired like main.go with the mock model and an
// in-memory ledger. The test user starts with a funded wallet. Generation
// routes need the Redis job store and are only mounted when Redis answers.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost, optional)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		redisClient.Close()
		redisClient = nil
	} else {
		t.Cleanup(func() { redisClient.Close() })
	}

	validate := validator.New()

	// In-memory ledger, fail closed
	credits, err := ledger.New(ledger.NewMemoryStore(), ledger.FailClosed)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	if _, err := credits.CreateWallet(context.Background(), testUserID, 20); err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}

	// Agents run on the deterministic mock model with a local memory
	mem := memory.NewEngine(memory.NewHashEmbedder(64), memory.NewInMemoryStore())
	ids := agent.ModelIDs{}
	roster := agent.NewRoster(agent.NewMockModel(), ids, tools.NewContract(""), mem)
	studio := orchestrator.New(roster, orchestrator.Config{})

	// Handlers
	agentHandler := handler.NewAgentHandler(studio, validate)
	billingHandler := handler.NewBillingHandler(credits, validate, testAdminToken)

	// Legacy HMAC only
	verifier := auth.Chain{auth.NewHMACVerifier(testJWTSecret)}
	authHandler := handler.NewAuthHandler(verifier)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"model":     false,
				"memory":    true,
				"ledger":    credits.Configured(),
				"generator": false,
				"r2":        false,
				"auth":      true,
			},
			"ledgerPolicy": credits.Policy().String(),
		})
	})
	app.Get("/auth/verify", authHandler.Verify)
	app.Post("/api/billing/topup", billingHandler.TopUp)

	// API routes (authenticated)
	api := app.Group("/api", middleware.Authenticate(verifier))

	// Use very high rate limits so tests don't get blocked
	api.Post("/agent/chat", rateLimiter.ChatLimit(10000), agentHandler.Chat)

	billing := api.Group("/billing")
	billing.Get("/balance", billingHandler.Balance)
	billing.Get("/history", billingHandler.History)

	if redisClient != nil {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr: "localhost:6379",
			DB:   15,
		})
		t.Cleanup(func() { asynqClient.Close() })

		generationService := service.NewGenerationService(
			service.NewRedisJobStore(redisClient), asynqClient, credits, testCost)
		generationHandler := handler.NewGenerationHandler(generationService, validate)

		api.Post("/generate", rateLimiter.GenerateLimit(10000), generationHandler.Start)
		generate := api.Group("/generate")
		generate.Get("/status/:jobId", generationHandler.Status)
		generate.Get("/result/:jobId", generationHandler.Result)
		generate.Post("/cancel/:jobId", generationHandler.Cancel)
	}

	return &testApp{app: app, ledger: credits, redis: redisClient}
}

// requireRedis skips tests that need the job store
func (ta *testApp) requireRedis(t *testing.T) {
	t.Helper()
	if ta.redis == nil {
		t.Skip("Redis not available on localhost:6379")
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	return generateTokenFor(t, testUserID)
}

// generateTokenFor creates a legacy HMAC JWT token for userID.
func generateTokenFor(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.SignLegacyToken(testJWTSecret, userID, "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
