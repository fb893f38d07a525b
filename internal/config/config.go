package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Database DatabaseConfig
	Agent    AgentConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Database: database, Agent: agent}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// accept ":8080" or "127.0.0.1:8080" as-is
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the reasoning-model connection.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials: provide ARK_API_KEY + ARK_MODEL or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// DatabaseConfig describes the results datastore connection.
type DatabaseConfig struct {
	URL              string
	MaxConns         int
	StatementTimeout time.Duration
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	maxConns := 8
	if override, err := parseOptionalIntEnv("DATABASE_MAX_CONNS"); err != nil {
		return DatabaseConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return DatabaseConfig{}, fmt.Errorf("DATABASE_MAX_CONNS must be at least 1")
		}
		maxConns = *override
	}

	stmtTimeout, err := parseDurationEnv("DATABASE_STATEMENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		URL:              strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxConns:         maxConns,
		StatementTimeout: stmtTimeout,
	}, nil
}

// AgentConfig bounds the tool-calling loop and session lifecycle.
type AgentConfig struct {
	MaxIterations     int
	TurnTimeout       time.Duration
	ExploratoryLimit  int
	FuzzyLimit        int
	FuzzyThreshold    float64
	SessionIdleTTL    time.Duration
	AbortOnDisconnect bool
}

func loadAgentConfig() (AgentConfig, error) {
	cfg := AgentConfig{
		MaxIterations:    8,
		ExploratoryLimit: 200,
		FuzzyLimit:       10,
		FuzzyThreshold:   0.3,
	}

	if override, err := parseOptionalIntEnv("AGENT_MAX_ITERATIONS"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AgentConfig{}, fmt.Errorf("AGENT_MAX_ITERATIONS must be at least 1")
		}
		cfg.MaxIterations = *override
	}

	turnTimeout, err := parseDurationEnv("AGENT_TURN_TIMEOUT", 90*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}
	cfg.TurnTimeout = turnTimeout

	if override, err := parseOptionalIntEnv("AGENT_EXPLORATORY_LIMIT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AgentConfig{}, fmt.Errorf("AGENT_EXPLORATORY_LIMIT must be at least 1")
		}
		cfg.ExploratoryLimit = *override
	}

	if override, err := parseOptionalIntEnv("AGENT_FUZZY_LIMIT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		cfg.FuzzyLimit = *override
	}

	if override, err := parseOptionalFloatEnv("AGENT_FUZZY_THRESHOLD"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return AgentConfig{}, fmt.Errorf("AGENT_FUZZY_THRESHOLD must be within [0,1]")
		}
		cfg.FuzzyThreshold = *override
	}

	idleTTL, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return AgentConfig{}, err
	}
	cfg.SessionIdleTTL = idleTTL

	abort, err := parseBoolEnv("AGENT_ABORT_ON_DISCONNECT", false)
	if err != nil {
		return AgentConfig{}, err
	}
	cfg.AbortOnDisconnect = abort

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
