// Package config loads and validates the readrelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/njoerd114/readrelay/internal/model"
)

const (
	defaultPollInterval = 15 * time.Minute
	minPollInterval     = time.Minute
	maxPollInterval     = 24 * time.Hour

	defaultPageSize = 500
	maxPageSize     = 10000
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DBPath is the SQLite database file. Defaults to
	// ~/.local/share/readrelay/state.db.
	DBPath string `yaml:"db_path"`

	// PollInterval controls how often every account is synced.
	// Minimum 1m, maximum 24h. Defaults to 15m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PageSize bounds incremental item listings. Defaults to 500.
	PageSize int `yaml:"page_size"`

	// Listen is the address of the control API (e.g. "127.0.0.1:8089").
	// Empty disables the API.
	Listen string `yaml:"listen"`

	// Accounts lists the feed sources to keep in sync.
	Accounts []Account `yaml:"accounts"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// Account is one configured feed source.
type Account struct {
	// Name identifies the account locally; it must be unique.
	Name string `yaml:"name"`

	// Kind is one of local, freshrss, nextcloud, fever.
	Kind string `yaml:"kind"`

	// URL is the server base URL. Required for every kind but local.
	URL string `yaml:"url"`

	Login    string `yaml:"login"`
	Password string `yaml:"password"`

	// RequestsPerSecond limits calls to the server. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Model converts the entry to a [model.Account]. The kind must already have
// been validated.
func (a Account) Model() model.Account {
	kind, _ := model.ParseKind(a.Kind)
	return model.Account{
		Name:     a.Name,
		Kind:     kind,
		URL:      strings.TrimRight(a.URL, "/"),
		Login:    a.Login,
		Password: a.Password,
	}
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "readrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/readrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "readrelay", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate fills defaults and checks that all fields are well-formed.
func (c *Config) validate() error {
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return fmt.Errorf("page_size %d must be between 1 and %d", c.PageSize, maxPageSize)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, a.Name)
		}
		seen[key] = true

		kind, err := model.ParseKind(a.Kind)
		if err != nil {
			return fmt.Errorf("accounts[%d] %q: %w", i, a.Name, err)
		}
		a.Kind = string(kind)

		if a.RequestsPerSecond < 0 {
			return fmt.Errorf("accounts[%d] %q: requests_per_second must not be negative", i, a.Name)
		}
		if !kind.Remote() {
			continue
		}
		if a.URL == "" {
			return fmt.Errorf("accounts[%d] %q: url is required for kind %s", i, a.Name, kind)
		}
		u, err := url.ParseRequestURI(a.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("accounts[%d] %q: url %q must be a valid http or https URL", i, a.Name, a.URL)
		}
		if a.Login == "" {
			return fmt.Errorf("accounts[%d] %q: login is required for kind %s", i, a.Name, kind)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
