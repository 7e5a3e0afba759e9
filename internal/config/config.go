package config

type Config struct {
	Server   ServerConfig
	Gateway  GatewayConfig
	Storage  StorageConfig
	Quiz     QuizConfig
	Fidelity FidelityConfig
	Document DocumentConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type GatewayConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	// CallTimeout is a Go duration string, e.g. "60s".
	CallTimeout string
}

type StorageConfig struct {
	DataDir string
}

type QuizConfig struct {
	DefaultQuestions int
}

type FidelityConfig struct {
	SampleRate   float64
	Threshold    float64
	PollInterval string
}

type DocumentConfig struct {
	SnippetLimit int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4700,
			MCPPort: 4701,
		},
		Gateway: GatewayConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "mistral-nemo",
			CallTimeout: "60s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Quiz: QuizConfig{
			DefaultQuestions: 5,
		},
		Fidelity: FidelityConfig{
			SampleRate:   0.1,
			Threshold:    0.8,
			PollInterval: "500ms",
		},
		Document: DocumentConfig{
			SnippetLimit: 6000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/lectern/config.json, then applies LECTERN_* environment
// variable overrides. Secrets (API token, gateway key) come from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}
