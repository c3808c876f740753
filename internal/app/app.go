// Package app builds the collaborators shared by the server and the
// operator CLI from configuration.
package app

import (
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/agent"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/ledger"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/tools"
)

const hashEmbeddingDim = 1024

// NewRedisClient creates the shared Redis client
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// OpenLedger opens the configured ledger store. Backend "none" yields a
// ledger in degraded mode governed by the failure policy.
func OpenLedger(cfg *config.LedgerConfig, redisClient *redis.Client) (*ledger.Ledger, error) {
	policy, err := ledger.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	var store ledger.Store
	switch cfg.Backend {
	case config.LedgerBackendRedis:
		store = ledger.NewRedisStore(redisClient)
	case config.LedgerBackendSQLite:
		s, err := ledger.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	case config.LedgerBackendMemory:
		log.Println("Warning: in-memory ledger, balances are lost on restart")
		store = ledger.NewMemoryStore()
	case config.LedgerBackendNone:
		log.Printf("Warning: no ledger store configured, billing runs %s", policy)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}

	return ledger.New(store, policy)
}

// NewMemory builds the similarity memory. Without an embedding endpoint a
// local hash embedder is used.
func NewMemory(cfg *config.MemoryConfig, redisClient *redis.Client) memory.Memory {
	var store memory.Store
	switch cfg.Backend {
	case config.MemoryBackendRedis:
		store = memory.NewRedisStore(redisClient)
	case config.MemoryBackendMemory:
		store = memory.NewInMemoryStore()
	default:
		return memory.Noop{}
	}

	var embedder memory.Embedder
	if cfg.EmbeddingBaseURL != "" && cfg.EmbeddingModel != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	} else {
		log.Println("Info: no embedding endpoint configured, using hash embeddings")
		embedder = memory.NewHashEmbedder(hashEmbeddingDim)
	}

	return memory.Tuned{
		Memory:    memory.NewEngine(embedder, store),
		Limit:     cfg.Limit,
		Threshold: cfg.Threshold,
	}
}

// NewModel returns the chat-completions client, or the mock model when no
// provider is reachable. The second value reports whether a real model
// is in use.
func NewModel(cfg *config.ModelConfig) (agent.Model, bool) {
	if cfg.Provider == config.ProviderMock {
		return agent.NewMockModel(), false
	}
	llm := client.NewLLMClient(cfg)
	if !llm.IsConfigured() {
		log.Printf("Info: %s model provider not configured, using mock model", cfg.Provider)
		return agent.NewMockModel(), false
	}
	return llm, true
}

// NewOrchestrator binds every role to its configured model id
func NewOrchestrator(cfg *config.Config, llm agent.Model, searcher memory.Searcher) *orchestrator.Orchestrator {
	ids := agent.ModelIDs{}
	for _, role := range model.ValidAgentRoles {
		ids[role] = cfg.Model.RoleModel(string(role))
	}

	roster := agent.NewRoster(llm, ids, tools.NewContract(cfg.Tools.CoverArtURL), searcher)
	return orchestrator.New(roster, orchestrator.Config{
		Specialists:  cfg.Orchestrator.Specialists,
		PhaseTimeout: cfg.Orchestrator.PhaseTimeout,
		RunTimeout:   cfg.Orchestrator.RunTimeout,
	})
}
