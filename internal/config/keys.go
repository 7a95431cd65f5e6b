package config

import (
	"fmt"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// specs lists every config key. env names must match the struct tags in
// config.go.
var specs = []keySpec{
	{
		key: "server.addr", typ: kString, env: "EVALD_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "queue.url", typ: kString, env: "EVALD_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Queue.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.URL },
	},
	{
		key: "queue.key", typ: kString, env: "EVALD_QUEUE_KEY",
		apply:   func(cfg *Config, v any) { cfg.Queue.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.Key },
	},
	{
		key: "queue.poll_interval", typ: kDuration, env: "EVALD_QUEUE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.PollInterval },
	},
	{
		key: "storage.db_file", typ: kString, env: "EVALD_DB_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.DBFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DBFile },
	},
	{
		key: "upstream.base_url", typ: kString, env: "EVALD_UPSTREAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.BaseURL },
	},
	{
		key: "upstream.api_key", typ: kString, env: "EVALD_UPSTREAM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.APIKey },
	},
	{
		key: "engine.backend", typ: kString, env: "EVALD_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.base_url", typ: kString, env: "EVALD_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.api_key", typ: kString, env: "EVALD_ENGINE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "engine.embed_model", typ: kString, env: "EVALD_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.judge_model", typ: kString, env: "EVALD_JUDGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.JudgeModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.JudgeModel },
	},
	{
		key: "judge.max_tokens", typ: kInt, env: "EVALD_JUDGE_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Judge.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Judge.MaxTokens },
	},
	{
		key: "log.level", typ: kString, env: "EVALD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// applyBackend copies stored values into cfg. Secrets are never read from
// the file.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}
