package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const appName = "taskchat"

type Config struct {
	DBPath    string          `json:"db_path"`
	LogLevel  string          `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Web       WebConfig       `json:"web"`
	Assistant AssistantConfig `json:"assistant"`
	Sync      SyncConfig      `json:"sync"`
}

type WebConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port" validate:"min=1,max=65535"`
	JWTSecret string `json:"jwt_secret,omitempty"`
	JWKSURL   string `json:"jwks_url,omitempty" validate:"omitempty,url"`
}

type AssistantConfig struct {
	Provider      string   `json:"provider" validate:"oneof=mock ollama"`
	Host          string   `json:"host,omitempty" validate:"omitempty,url"`
	Model         string   `json:"model,omitempty" validate:"required_if=Provider ollama"`
	APIKey        string   `json:"api_key,omitempty"`
	Timeout       Duration `json:"timeout"`
	HistoryLimit  int      `json:"history_limit" validate:"min=1"`
	SnapshotLimit int      `json:"snapshot_limit" validate:"min=1"`
	MockLatency   Duration `json:"mock_latency"`
}

type SyncConfig struct {
	Provider    string   `json:"provider" validate:"oneof=simulated redis azqueue"`
	RedisURL    string   `json:"redis_url,omitempty" validate:"required_if=Provider redis"`
	Channel     string   `json:"channel,omitempty"`
	AzureConn   string   `json:"azure_connection_string,omitempty" validate:"required_if=Provider azqueue"`
	AzureQueue  string   `json:"azure_queue,omitempty"`
	Delay       Duration `json:"delay"`
	FailureRate float64  `json:"failure_rate" validate:"min=0,max=1"`
}

// Duration reads either a Go duration string ("1.5s") or nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(data, &nanos); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(nanos)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Web:      WebConfig{Port: 8080},
		Assistant: AssistantConfig{
			Provider:      "mock",
			Host:          "http://127.0.0.1:11434",
			Timeout:       Duration(60 * time.Second),
			HistoryLimit:  12,
			SnapshotLimit: 20,
			MockLatency:   Duration(400 * time.Millisecond),
		},
		Sync: SyncConfig{
			Provider: "simulated",
			Channel:  "tasks.updates",
			Delay:    Duration(300 * time.Millisecond),
		},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName, "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads path on top of the defaults. A missing file yields defaults.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from TASKCHAT_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	stringVars := map[string]*string{
		"TASKCHAT_DB_PATH":            &c.DBPath,
		"TASKCHAT_LOG_LEVEL":          &c.LogLevel,
		"TASKCHAT_JWT_SECRET":         &c.Web.JWTSecret,
		"TASKCHAT_JWKS_URL":           &c.Web.JWKSURL,
		"TASKCHAT_ASSISTANT_PROVIDER": &c.Assistant.Provider,
		"TASKCHAT_ASSISTANT_HOST":     &c.Assistant.Host,
		"TASKCHAT_ASSISTANT_MODEL":    &c.Assistant.Model,
		"TASKCHAT_ASSISTANT_API_KEY":  &c.Assistant.APIKey,
		"TASKCHAT_SYNC_PROVIDER":      &c.Sync.Provider,
		"TASKCHAT_REDIS_URL":          &c.Sync.RedisURL,
		"TASKCHAT_AZURE_CONNECTION":   &c.Sync.AzureConn,
	}
	for key, target := range stringVars {
		if value, ok := lookup(key); ok {
			*target = value
		}
	}

	if value, ok := lookup("TASKCHAT_WEB_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("TASKCHAT_WEB_PORT: %w", err)
		}
		c.Web.Port = port
	}
	if value, ok := lookup("TASKCHAT_WEB_ENABLED"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("TASKCHAT_WEB_ENABLED: %w", err)
		}
		c.Web.Enabled = enabled
	}
	if value, ok := lookup("TASKCHAT_ASSISTANT_TIMEOUT"); ok {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("TASKCHAT_ASSISTANT_TIMEOUT: %w", err)
		}
		c.Assistant.Timeout = Duration(timeout)
	}
	return nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
