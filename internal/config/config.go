package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChatGPT-CN/chat-ai/internal/providers"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

var (
	ErrInvalidListenAddr  = errors.New("LISTEN_ADDR is required")
	ErrInvalidChatPath    = errors.New("CHAT_PATH must start with '/'")
	ErrInvalidTimeout     = errors.New("PROVIDER_TIMEOUT must be > 0")
	ErrMissingRelayURL    = errors.New("RELAY_URL is required")
	ErrInvalidStoreDriver = errors.New("STORE_DRIVER must be 'sqlite', 'postgres' or 'redis'")
	ErrMissingStoreDSN    = errors.New("STORE_DSN is required")
)

type RelayConfig struct {
	ListenAddr      string
	ChatPath        string
	HealthPath      string
	MetricsPath     string
	ProviderTimeout time.Duration
	MaxRequestBytes int64
	// MaxResponseBytes caps how much of a provider body is read.
	MaxResponseBytes      int64
	AllowedOrigins        []string
	ForwardUpstreamStatus bool
	Endpoints             providers.Endpoints
	Log                   LogConfig
}

type ClientConfig struct {
	RelayURL        string
	ChatPath        string
	Timeout         time.Duration
	DefaultProvider string
	Store           StoreConfig
	Crypto          CryptoConfig
	Log             LogConfig
}

type StoreConfig struct {
	Driver        string
	DSN           string
	AutoMigrate   bool
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// CryptoConfig is empty when no master key is configured; credentials are
// then stored in clear.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool { return len(c.Keys) > 0 }

type LogConfig struct {
	Level string
}

// LoadEnvFile reads ENV_FILE, or ./.env when present, without overriding
// variables already set in the environment.
func LoadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func LoadRelay() (*RelayConfig, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}
	defaults := providers.DefaultEndpoints()
	cfg := &RelayConfig{
		ListenAddr:            mustEnv("LISTEN_ADDR", ":8080"),
		ChatPath:              mustEnv("CHAT_PATH", "/chat"),
		HealthPath:            mustEnv("HEALTH_PATH", "/healthz"),
		MetricsPath:           mustEnv("METRICS_PATH", "/metrics"),
		ProviderTimeout:       mustDuration("PROVIDER_TIMEOUT", 60*time.Second),
		MaxRequestBytes:       mustInt64("MAX_REQUEST_BYTES", 1<<20),
		MaxResponseBytes:      mustInt64("MAX_RESPONSE_BYTES", 4<<20),
		AllowedOrigins:        splitList(mustEnv("CORS_ALLOWED_ORIGINS", "*")),
		ForwardUpstreamStatus: mustBool("RELAY_FORWARD_UPSTREAM_STATUS", false),
		Endpoints: providers.Endpoints{
			DeepSeekURL:      mustEnv("DEEPSEEK_URL", defaults.DeepSeekURL),
			OpenAIURL:        mustEnv("OPENAI_URL", defaults.OpenAIURL),
			AnthropicURL:     mustEnv("ANTHROPIC_URL", defaults.AnthropicURL),
			AnthropicVersion: mustEnv("ANTHROPIC_VERSION", defaults.AnthropicVersion),
			GeminiURL:        mustEnv("GEMINI_URL", defaults.GeminiURL),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.ListenAddr == "" {
		return nil, ErrInvalidListenAddr
	}
	if !strings.HasPrefix(cfg.ChatPath, "/") {
		return nil, ErrInvalidChatPath
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}
	cfg := &ClientConfig{
		RelayURL:        mustEnv("RELAY_URL", "http://127.0.0.1:8080"),
		ChatPath:        mustEnv("CHAT_PATH", "/chat"),
		Timeout:         mustDuration("CLIENT_TIMEOUT", 90*time.Second),
		DefaultProvider: strings.ToLower(mustEnv("DEFAULT_PROVIDER", providers.DeepSeek)),
		Store: StoreConfig{
			Driver:        strings.ToLower(mustEnv("STORE_DRIVER", StoreSQLite)),
			DSN:           mustEnv("STORE_DSN", "file:chat-ai.db"),
			AutoMigrate:   mustBool("AUTO_MIGRATE", true),
			RedisPassword: mustEnv("REDIS_PASSWORD", ""),
			RedisDB:       mustInt("REDIS_DB", 0),
			KeyPrefix:     mustEnv("STORE_KEY_PREFIX", "chat-ai:"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "warn")),
		},
	}

	if cfg.RelayURL == "" {
		return nil, ErrMissingRelayURL
	}
	switch cfg.Store.Driver {
	case StoreSQLite, StorePostgres, StoreRedis:
	default:
		return nil, ErrInvalidStoreDriver
	}
	if cfg.Store.DSN == "" {
		return nil, ErrMissingStoreDSN
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc
	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "MASTER_KEY_B64" {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		if current != "" {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q set but no master keys provided", current)
		}
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required when more than one master key is set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
