// Package config loads service configuration from the environment, with an
// optional .env overlay for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the swarm consensus service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Queue     QueueConfig     `yaml:"queue"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener that carries the websocket,
// health and metrics endpoints.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig configures the cross-process event bus transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// EmbeddingConfig configures the embedding provider used for semantic
// similarity. Failures and timeouts degrade to a lexical fallback, so the
// provider being down never fails a run.
type EmbeddingConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

// EngineConfig tunes the consensus pipeline.
type EngineConfig struct {
	JobTimeout        time.Duration `yaml:"job_timeout"` // budget for <=100 answers, scales linearly
	SimilarityGate    float64       `yaml:"similarity_gate"`
	WinnerReputation  float64       `yaml:"winner_reputation"`
	LoserReputation   float64       `yaml:"loser_reputation"`
	LeaderboardSize   int           `yaml:"leaderboard_size"`
	SettlementEnabled bool          `yaml:"settlement_enabled"`
}

// QueueConfig tunes the consensus job queue.
type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"` // false runs jobs inline on the caller
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// GatewayConfig tunes the websocket fan-out gateway.
type GatewayConfig struct {
	BatchWindow    time.Duration `yaml:"batch_window"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	StaleTTL       time.Duration `yaml:"stale_ttl"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// SecurityConfig holds credentials for agent-room authentication.
type SecurityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present, and a YAML file named by
// SWARM_CONFIG overlays the environment-derived values.
func Load() *Config {
	_ = godotenv.Load()

	cfg := fromEnv()
	if path := os.Getenv("SWARM_CONFIG"); path != "" {
		// Malformed overlay files are ignored rather than fatal; the
		// environment-derived configuration still stands.
		_ = cfg.applyFile(path)
	}
	return cfg
}

// LoadFile reads configuration from the environment and then overlays the
// given YAML file, failing when the file is missing or malformed.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SWARM_HOST", "0.0.0.0"),
			Port: getEnv("SWARM_PORT", "8090"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "swarm"),
			Password: getEnv("DB_PASSWORD", "swarm"),
			Name:     getEnv("DB_NAME", "swarm_consensus"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Embedding: EmbeddingConfig{
			BaseURL:      getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:       getEnv("EMBEDDING_API_KEY", ""),
			Model:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:      getEnvDuration("EMBEDDING_TIMEOUT", 10*time.Second),
			MaxBatchSize: getEnvInt("EMBEDDING_MAX_BATCH", 128),
		},
		Engine: EngineConfig{
			JobTimeout:        getEnvDuration("ENGINE_JOB_TIMEOUT", 5*time.Second),
			SimilarityGate:    getEnvFloat("ENGINE_SIMILARITY_GATE", 0.7),
			WinnerReputation:  getEnvFloat("ENGINE_WINNER_REPUTATION", 10),
			LoserReputation:   getEnvFloat("ENGINE_LOSER_REPUTATION", -2),
			LeaderboardSize:   getEnvInt("ENGINE_LEADERBOARD_SIZE", 10),
			SettlementEnabled: getEnvBool("ENGINE_SETTLEMENT_ENABLED", true),
		},
		Queue: QueueConfig{
			Enabled:     getEnvBool("QUEUE_ENABLED", true),
			Workers:     getEnvInt("QUEUE_WORKERS", 3),
			MaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("QUEUE_BACKOFF_BASE", time.Second),
		},
		Gateway: GatewayConfig{
			BatchWindow:    getEnvDuration("GATEWAY_BATCH_WINDOW", 100*time.Millisecond),
			PingInterval:   getEnvDuration("GATEWAY_PING_INTERVAL", 54*time.Second),
			PongWait:       getEnvDuration("GATEWAY_PONG_WAIT", 60*time.Second),
			WriteWait:      getEnvDuration("GATEWAY_WRITE_WAIT", 10*time.Second),
			StaleTTL:       getEnvDuration("GATEWAY_STALE_TTL", 5*time.Minute),
			MaxMessageSize: int64(getEnvInt("GATEWAY_MAX_MESSAGE_SIZE", 512*1024)),
			AllowedOrigins: getEnvList("GATEWAY_ALLOWED_ORIGINS", []string{"*"}),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("SWARM_JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
