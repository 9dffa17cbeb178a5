package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvAPIURL overrides [BackendConfig.URL] when set.
const EnvAPIURL = "UPX_API_URL"

// DefaultBackendURL is used when neither the config file nor the environment name a backend.
const DefaultBackendURL = "http://localhost:8000"

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend     BackendConfig     `toml:"backend"`
	Credentials CredentialsConfig `toml:"credentials"`
	Upscale     UpscaleConfig     `toml:"upscale"`
	Output      OutputConfig      `toml:"output"`
	Database    DatabaseConfig    `toml:"database"`
	Batch       BatchConfig       `toml:"batch"`
	Mock        MockConfig        `toml:"mock"`
}

// BackendConfig locates the inference service.
type BackendConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// CredentialsConfig contains backend credentials.
type CredentialsConfig struct {
	APIToken string `toml:"api_token"`
}

// UpscaleConfig holds default request parameters used when flags are omitted.
type UpscaleConfig struct {
	Scale      int     `toml:"scale"`
	Denoise    float64 `toml:"denoise"`
	Creativity float64 `toml:"creativity"`
	UseML      bool    `toml:"use_ml"`
}

// OutputConfig controls where result images are written.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// BatchConfig contains worker pool settings for batch upscales.
type BatchConfig struct {
	Workers   int     `toml:"workers"`
	RateLimit float64 `toml:"rate_limit"`
}

// MockConfig contains listen settings for the mock backend.
type MockConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Duration wraps [time.Duration] so it can be written as a string ("30s", "10m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overlays environment-provided settings onto the config.
func (c *Config) ApplyEnv() *Config {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		c.Backend.URL = v
	}
	if c.Backend.URL == "" {
		c.Backend.URL = DefaultBackendURL
	}
	return c
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
