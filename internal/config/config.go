package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server   ServerConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Upstream UpstreamConfig
	Engine   EngineConfig
	Judge    JudgeConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr string `env:"EVALD_SERVER_ADDR, overwrite"`
}

type QueueConfig struct {
	URL          string        `env:"EVALD_REDIS_URL, overwrite"`
	Key          string        `env:"EVALD_QUEUE_KEY, overwrite"`
	PollInterval time.Duration `env:"EVALD_QUEUE_POLL_INTERVAL, overwrite"`
}

type StorageConfig struct {
	DBFile string `env:"EVALD_DB_FILE, overwrite"`
}

type UpstreamConfig struct {
	BaseURL string `env:"EVALD_UPSTREAM_BASE_URL, overwrite"`
	APIKey  string `env:"EVALD_UPSTREAM_API_KEY, overwrite"`
}

type EngineConfig struct {
	Backend    string `env:"EVALD_ENGINE_BACKEND, overwrite"`
	BaseURL    string `env:"EVALD_ENGINE_BASE_URL, overwrite"`
	APIKey     string `env:"EVALD_ENGINE_API_KEY, overwrite"`
	EmbedModel string `env:"EVALD_EMBED_MODEL, overwrite"`
	JudgeModel string `env:"EVALD_JUDGE_MODEL, overwrite"`
}

type JudgeConfig struct {
	MaxTokens int `env:"EVALD_JUDGE_MAX_TOKENS, overwrite"`
}

type LogConfig struct {
	Level string `env:"EVALD_LOG_LEVEL, overwrite"`
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:4000",
		},
		Queue: QueueConfig{
			URL:          "redis://localhost:6379/1",
			Key:          "request",
			PollInterval: 50 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBFile: filepath.Join(defaultDataDir(), "db.sqlite3"),
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Engine: EngineConfig{
			Backend:    "ollama",
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			JudgeModel: "gpt-oss:20b",
		},
		Judge: JudgeConfig{
			MaxTokens: 16000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// legacyEnv maps the unprefixed variable names still honoured when the
// EVALD_ name is unset.
var legacyEnv = map[string]string{
	"EVALD_REDIS_URL": "REDIS_URL",
	"EVALD_DB_FILE":   "DB_FILE",
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/evald/config.json and applies EVALD_* environment
// overrides on top.
func Load(ctx context.Context) (Config, error) {
	return loadWith(ctx, newFileBackend(configFilePath()), envconfig.OsLookuper())
}

func loadWith(ctx context.Context, b ConfigBackend, l envconfig.Lookuper) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: fallbackLookuper{base: l, aliases: legacyEnv},
	}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Engine.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid engine.backend %q: must be ollama or openai", c.Engine.Backend)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("invalid queue.poll_interval %s: must be positive", c.Queue.PollInterval)
	}
	if c.Judge.MaxTokens <= 0 {
		return fmt.Errorf("invalid judge.max_tokens %d: must be positive", c.Judge.MaxTokens)
	}
	if c.Queue.URL == "" {
		return fmt.Errorf("missing required config: queue.url (set EVALD_REDIS_URL)")
	}
	if c.Storage.DBFile == "" {
		return fmt.Errorf("missing required config: storage.db_file (set EVALD_DB_FILE)")
	}
	return nil
}

// fallbackLookuper consults an alias when the primary name is unset.
type fallbackLookuper struct {
	base    envconfig.Lookuper
	aliases map[string]string
}

func (f fallbackLookuper) Lookup(key string) (string, bool) {
	if v, ok := f.base.Lookup(key); ok {
		return v, true
	}
	if alias, ok := f.aliases[key]; ok {
		return f.base.Lookup(alias)
	}
	return "", false
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "evald-data"
		}
	}
	return filepath.Join(dir, "evald")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "evald", "config.json")
}
