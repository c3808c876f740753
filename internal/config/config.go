package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Zitadel      ZitadelConfig
	Gateway      GatewayConfig
	RateLimit    RateLimitConfig
	Model        ModelConfig
	Orchestrator OrchestratorConfig
	Memory       MemoryConfig
	Ledger       LedgerConfig
	Generator    GeneratorConfig
	R2           R2Config
	Tools        ToolsConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ChatPerMin      int
	GeneratePerHour int
}

// Model providers
const (
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// ModelConfig selects the chat-completions endpoint shared by all agents.
// Each role may override the model id.
type ModelConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Default    string
	Producer   string
	Critic     string
	Lyricist   string
	Visualizer string
	Timeout    time.Duration
}

type OrchestratorConfig struct {
	Specialists  bool
	PhaseTimeout time.Duration
	RunTimeout   time.Duration
}

// Memory backends
const (
	MemoryBackendRedis  = "redis"
	MemoryBackendMemory = "memory"
	MemoryBackendNone   = "none"
)

type MemoryConfig struct {
	Backend          string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	Limit            int
	Threshold        float64
}

// Ledger backends
const (
	LedgerBackendRedis  = "redis"
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMemory = "memory"
	LedgerBackendNone   = "none"
)

// Ledger failure policies
const (
	FailurePolicyOpen   = "fail_open"
	FailurePolicyClosed = "fail_closed"
)

type LedgerConfig struct {
	Backend        string
	SQLitePath     string
	FailurePolicy  string
	GenerationCost int64
	AdminToken     string
}

type GeneratorConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxWait      time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ToolsConfig struct {
	CoverArtURL string
}

// RoleModel returns the model id bound to role, falling back to the default
func (m ModelConfig) RoleModel(role string) string {
	var id string
	switch role {
	case "producer":
		id = m.Producer
	case "critic":
		id = m.Critic
	case "lyricist":
		id = m.Lyricist
	case "visualizer":
		id = m.Visualizer
	}
	if id == "" {
		return m.Default
	}
	return id
}

func Load() (*Config, error) {
	// Local development .env; real deployments set the environment directly
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("MODEL_API_KEY")
	readSecret("EMBEDDING_API_KEY")
	readSecret("GENERATOR_API_KEY")
	readSecret("LEDGER_ADMIN_TOKEN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	binds := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"jwt.secret":                  "JWT_SECRET",
		"jwt.expiration":              "JWT_EXPIRATION",
		"zitadel.domain":              "ZITADEL_DOMAIN",
		"zitadel.client_id":           "ZITADEL_CLIENT_ID",
		"zitadel.issuer":              "ZITADEL_ISSUER",
		"gateway.enabled":             "GATEWAY_ENABLED",
		"ratelimit.chat_per_min":      "RATELIMIT_CHAT_PER_MIN",
		"ratelimit.generate_per_hour": "RATELIMIT_GENERATE_PER_HOUR",
		"model.provider":              "MODEL_PROVIDER",
		"model.base_url":              "MODEL_BASE_URL",
		"model.api_key":               "MODEL_API_KEY",
		"model.default":               "AGENT_MODEL_ID",
		"model.producer":              "PRODUCER_MODEL_ID",
		"model.critic":                "CRITIC_MODEL_ID",
		"model.lyricist":              "LYRICIST_MODEL_ID",
		"model.visualizer":            "VISUALIZER_MODEL_ID",
		"model.timeout":               "MODEL_TIMEOUT",
		"orchestrator.specialists":    "ORCHESTRATOR_SPECIALISTS",
		"orchestrator.phase_timeout":  "ORCHESTRATOR_PHASE_TIMEOUT",
		"orchestrator.run_timeout":    "ORCHESTRATOR_RUN_TIMEOUT",
		"memory.backend":              "MEMORY_BACKEND",
		"memory.embedding_base_url":   "EMBEDDING_BASE_URL",
		"memory.embedding_api_key":    "EMBEDDING_API_KEY",
		"memory.embedding_model":      "EMBEDDING_MODEL",
		"memory.limit":                "MEMORY_LIMIT",
		"memory.threshold":            "MEMORY_THRESHOLD",
		"ledger.backend":              "LEDGER_BACKEND",
		"ledger.sqlite_path":          "LEDGER_SQLITE_PATH",
		"ledger.failure_policy":       "LEDGER_FAILURE_POLICY",
		"ledger.generation_cost":      "LEDGER_GENERATION_COST",
		"ledger.admin_token":          "LEDGER_ADMIN_TOKEN",
		"generator.base_url":          "GENERATOR_BASE_URL",
		"generator.api_key":           "GENERATOR_API_KEY",
		"generator.poll_interval":     "GENERATOR_POLL_INTERVAL",
		"generator.max_wait":          "GENERATOR_MAX_WAIT",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"tools.cover_art_url":         "COVER_ART_URL",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.chat_per_min", 30)
	v.SetDefault("ratelimit.generate_per_hour", 20)

	// Model defaults
	v.SetDefault("model.provider", ProviderGroq)
	v.SetDefault("model.default", "llama-3.3-70b-versatile")
	v.SetDefault("model.timeout", 60*time.Second)

	// Orchestrator defaults
	v.SetDefault("orchestrator.specialists", false)
	v.SetDefault("orchestrator.phase_timeout", 60*time.Second)
	v.SetDefault("orchestrator.run_timeout", 3*time.Minute)

	// Memory defaults
	v.SetDefault("memory.backend", MemoryBackendRedis)
	v.SetDefault("memory.embedding_model", "text-embedding-3-small")
	v.SetDefault("memory.limit", 3)
	v.SetDefault("memory.threshold", 0.5)

	// Ledger defaults
	v.SetDefault("ledger.backend", LedgerBackendRedis)
	v.SetDefault("ledger.sqlite_path", "./data/ledger.db")
	v.SetDefault("ledger.failure_policy", FailurePolicyClosed)
	v.SetDefault("ledger.generation_cost", 5)

	// Generator defaults
	v.SetDefault("generator.base_url", "")
	v.SetDefault("generator.poll_interval", 2*time.Second)
	v.SetDefault("generator.max_wait", 10*time.Minute)

	v.SetDefault("tools.cover_art_url", "https://image.pollinations.ai/prompt/")
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ChatPerMin:      v.GetInt("ratelimit.chat_per_min"),
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
		},
		Model: ModelConfig{
			Provider:   strings.ToLower(v.GetString("model.provider")),
			BaseURL:    v.GetString("model.base_url"),
			APIKey:     v.GetString("model.api_key"),
			Default:    v.GetString("model.default"),
			Producer:   v.GetString("model.producer"),
			Critic:     v.GetString("model.critic"),
			Lyricist:   v.GetString("model.lyricist"),
			Visualizer: v.GetString("model.visualizer"),
			Timeout:    v.GetDuration("model.timeout"),
		},
		Orchestrator: OrchestratorConfig{
			Specialists:  v.GetBool("orchestrator.specialists"),
			PhaseTimeout: v.GetDuration("orchestrator.phase_timeout"),
			RunTimeout:   v.GetDuration("orchestrator.run_timeout"),
		},
		Memory: MemoryConfig{
			Backend:          strings.ToLower(v.GetString("memory.backend")),
			EmbeddingBaseURL: v.GetString("memory.embedding_base_url"),
			EmbeddingAPIKey:  v.GetString("memory.embedding_api_key"),
			EmbeddingModel:   v.GetString("memory.embedding_model"),
			Limit:            v.GetInt("memory.limit"),
			Threshold:        v.GetFloat64("memory.threshold"),
		},
		Ledger: LedgerConfig{
			Backend:        strings.ToLower(v.GetString("ledger.backend")),
			SQLitePath:     v.GetString("ledger.sqlite_path"),
			FailurePolicy:  strings.ToLower(v.GetString("ledger.failure_policy")),
			GenerationCost: v.GetInt64("ledger.generation_cost"),
			AdminToken:     v.GetString("ledger.admin_token"),
		},
		Generator: GeneratorConfig{
			BaseURL:      v.GetString("generator.base_url"),
			APIKey:       v.GetString("generator.api_key"),
			PollInterval: v.GetDuration("generator.poll_interval"),
			MaxWait:      v.GetDuration("generator.max_wait"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Tools: ToolsConfig{
			CoverArtURL: v.GetString("tools.cover_art_url"),
		},
	}

	// Provider-specific base URLs when none is given
	if cfg.Model.BaseURL == "" {
		switch cfg.Model.Provider {
		case ProviderGroq:
			cfg.Model.BaseURL = "https://api.groq.com/openai/v1"
		case ProviderOllama:
			cfg.Model.BaseURL = "http://localhost:11434/v1"
		}
	}
	if cfg.Memory.EmbeddingBaseURL == "" {
		cfg.Memory.EmbeddingBaseURL = cfg.Model.BaseURL
	}
	if cfg.Memory.EmbeddingAPIKey == "" {
		cfg.Memory.EmbeddingAPIKey = cfg.Model.APIKey
	}

	return cfg
}

// Validate rejects settings that would leave a collaborator in an
// ambiguous mode
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderGroq, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("unknown model.provider %q", c.Model.Provider)
	}

	switch c.Memory.Backend {
	case MemoryBackendRedis, MemoryBackendMemory, MemoryBackendNone:
	default:
		return fmt.Errorf("unknown memory.backend %q", c.Memory.Backend)
	}

	switch c.Ledger.Backend {
	case LedgerBackendRedis, LedgerBackendSQLite, LedgerBackendMemory, LedgerBackendNone:
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Ledger.FailurePolicy {
	case FailurePolicyOpen, FailurePolicyClosed:
	default:
		return fmt.Errorf("ledger.failure_policy must be %q or %q, got %q",
			FailurePolicyOpen, FailurePolicyClosed, c.Ledger.FailurePolicy)
	}

	if c.Ledger.GenerationCost <= 0 {
		return fmt.Errorf("ledger.generation_cost must be positive")
	}
	if c.Orchestrator.PhaseTimeout <= 0 {
		return fmt.Errorf("orchestrator.phase_timeout must be positive")
	}

	return nil
}
