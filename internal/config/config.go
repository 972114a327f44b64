package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	MemoryBackendBuffer = "memory"
	MemoryBackendSQLite = "sqlite"
	MemoryBackendRedis  = "redis"

	ScopeShared = "shared"
	ScopeClient = "client"
)

// DefaultSystemPrompt is the instruction sent ahead of every conversation.
const DefaultSystemPrompt = "You are a technical writer, specialist in rustlang programming language, you will write answer to the question for the beginners with some source code examples."

// DefaultPromptTemplate renders the user question unchanged.
const DefaultPromptTemplate = "{{.input}}"

var ErrInvalidPort = errors.New("invalid port")

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Memory    MemoryConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	App       AppConfig
}

type ServerConfig struct {
	Host           string
	Port           uint16
	Stream         bool // stream fragments instead of returning the whole answer
	StaticDir      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// LLMConfig is the session configuration; it does not change after startup.
type LLMConfig struct {
	Provider       string
	BaseURL        string
	Model          string
	SystemPrompt   string
	PromptTemplate string
	Timeout        time.Duration
}

type MemoryConfig struct {
	Backend     string
	MaxMessages int // 0 keeps every message
	Scope       string
	SQLitePath  string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisTTL    time.Duration
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type TelemetryConfig struct {
	Enabled  bool
	LogDir   string
	LogLevel string
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

// Load reads configuration from the environment, after applying a .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	port, err := ParsePort(getEnv("PORT", "8080"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("HOST", "127.0.0.1"),
			Port:           port,
			Stream:         getEnvAsBool("STREAM_RESPONSES", true),
			StaticDir:      getEnv("STATIC_DIR", "public"),
			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			BaseURL:        strings.TrimRight(getEnv("OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
			Model:          getEnv("LLM_MODEL", "llama3"),
			SystemPrompt:   getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
			PromptTemplate: getEnv("PROMPT_TEMPLATE", DefaultPromptTemplate),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 0),
		},
		Memory: MemoryConfig{
			Backend:     strings.ToLower(getEnv("MEMORY_BACKEND", MemoryBackendBuffer)),
			MaxMessages: getEnvAsInt("MEMORY_MAX_MESSAGES", 0),
			Scope:       strings.ToLower(getEnv("MEMORY_SCOPE", ScopeShared)),
			SQLitePath:  getEnv("SQLITE_PATH", "promptchat.db"),
			RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPass:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:     getEnvAsInt("REDIS_DB", 0),
			RedisTTL:    getEnvAsDuration("REDIS_TTL", 0),
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("CACHE_ENABLED", false),
			TTL:     getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:  getEnvAsBool("TELEMETRY_ENABLED", true),
			LogDir:   getEnv("LOG_DIR", "logs"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		App: AppConfig{
			Name:        "promptchat",
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (openai|ollama)", c.LLM.Provider)
	}

	if c.LLM.BaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL is required")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}

	switch c.Memory.Backend {
	case MemoryBackendBuffer, MemoryBackendSQLite, MemoryBackendRedis:
	default:
		return fmt.Errorf("unknown MEMORY_BACKEND %q (memory|sqlite|redis)", c.Memory.Backend)
	}

	switch c.Memory.Scope {
	case ScopeShared, ScopeClient:
	default:
		return fmt.Errorf("unknown MEMORY_SCOPE %q (shared|client)", c.Memory.Scope)
	}

	if c.Memory.MaxMessages < 0 {
		return fmt.Errorf("MEMORY_MAX_MESSAGES must not be negative")
	}

	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParsePort parses a listen port, which must fit in 16 bits.
func ParsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidPort, s, err)
	}
	return uint16(p), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "default", defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		slog.Warn("invalid number, using default", "key", key, "default", defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		slog.Warn("invalid boolean, using default", "key", key, "default", defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "default", defaultValue)
		return defaultValue
	}

	return value
}
