package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	apply  func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LECTERN_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "LECTERN_SERVER_MCP_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		key: "server.api_token", typ: kString, env: "LECTERN_API_TOKEN",
		secret: true,
		apply:  func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		key: "gateway.base_url", typ: kString, env: "LECTERN_GATEWAY_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
	},
	{
		key: "gateway.model", typ: kString, env: "LECTERN_GATEWAY_MODEL",
		apply: func(cfg *Config, v any) { cfg.Gateway.Model = v.(string) },
	},
	{
		key: "gateway.api_key", typ: kString, env: "LECTERN_GATEWAY_API_KEY",
		secret: true,
		apply:  func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
	},
	{
		key: "gateway.call_timeout", typ: kString, env: "LECTERN_GATEWAY_CALL_TIMEOUT",
		apply: func(cfg *Config, v any) { cfg.Gateway.CallTimeout = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LECTERN_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "quiz.default_questions", typ: kInt, env: "LECTERN_QUIZ_DEFAULT_QUESTIONS",
		apply: func(cfg *Config, v any) { cfg.Quiz.DefaultQuestions = v.(int) },
	},
	{
		key: "fidelity.sample_rate", typ: kFloat, env: "LECTERN_FIDELITY_SAMPLE_RATE",
		apply: func(cfg *Config, v any) { cfg.Fidelity.SampleRate = v.(float64) },
	},
	{
		key: "fidelity.threshold", typ: kFloat, env: "LECTERN_FIDELITY_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Fidelity.Threshold = v.(float64) },
	},
	{
		key: "fidelity.poll_interval", typ: kString, env: "LECTERN_FIDELITY_POLL_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Fidelity.PollInterval = v.(string) },
	},
	{
		key: "document.snippet_limit", typ: kInt, env: "LECTERN_DOCUMENT_SNIPPET_LIMIT",
		apply: func(cfg *Config, v any) { cfg.Document.SnippetLimit = v.(int) },
	},
	{
		key: "log.level", typ: kString, env: "LECTERN_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b Backend) error {
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
