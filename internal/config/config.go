package config

import "strings"

type Config struct {
	Server   ServerConfig
	Engine   EngineConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// EngineConfig points at an OpenAI-compatible chat completions endpoint.
// Local runtimes (Ollama, LM Studio) work with an empty APIKey.
type EngineConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type AnalysisConfig struct {
	PerSceneChars int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Engine: EngineConfig{
			BaseURL: "http://localhost:11434/v1",
			Model:   "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Analysis: AnalysisConfig{
			PerSceneChars: 6000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.inkwell.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/inkwell/config.json
// and secrets live in a mode-0600 file under $XDG_DATA_HOME/inkwell.
//
// Environment variables (INKWELL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the engine key if still empty. A
	// missing key is fine: local engines do not authenticate.
	if cfg.Engine.APIKey == "" {
		if key, err := kc.Get(keychainService, "engine_api_key"); err == nil {
			cfg.Engine.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}
