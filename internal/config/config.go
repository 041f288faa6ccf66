package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for MiniBridge.
type Config struct {
	General  GeneralConfig   `json:"general"`
	Relay    RelayConfig     `json:"relay"`
	Gateway  GatewayConfig   `json:"gateway"`
	Accounts []AccountConfig `json:"accounts"`
	Media    MediaConfig     `json:"media"`
	State    StateConfig     `json:"state"`
	Metrics  MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	Workspace   string `json:"workspace"`
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"`
	AccountsDir string `json:"accountsDir,omitempty"` // extra accounts as YAML files
}

// RelayConfig points at the relay that bridges the chat surface.
type RelayConfig struct {
	BaseURL               string `json:"baseUrl"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"` // must exceed the relay's long-poll window
}

// GatewayConfig points at the host agent gateway that owns sessions and
// generates replies.
type GatewayConfig struct {
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token,omitempty"`
}

// AccountConfig configures one polled relay account.
type AccountConfig struct {
	ID             string `json:"id" yaml:"id"`
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	PollIntervalMs int    `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty" yaml:"sessionKey,omitempty"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Debug          bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
}

type MediaConfig struct {
	MaxDownloadBytes int64  `json:"maxDownloadBytes"`
	InboundDir       string `json:"inboundDir,omitempty"` // defaults to <workspace>/media/inbound
}

type StateConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
}

const (
	// DefaultPollIntervalMs is the wait between successful poll cycles.
	DefaultPollIntervalMs = 2000
	// DefaultMaxDownloadBytes bounds a single inbound media download.
	DefaultMaxDownloadBytes = 10 << 20
)

// DefaultConfigDir returns the default config directory (~/.minibridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minibridge"
	}
	return filepath.Join(home, ".minibridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Defaults returns a config with all defaults applied.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			Workspace:   filepath.Join(dir, "workspace"),
			LogLevel:    "info",
			AccountsDir: filepath.Join(dir, "accounts.d"),
		},
		Relay: RelayConfig{
			BaseURL:               "https://api.clawchat.mifengcdn.com",
			RequestTimeoutSeconds: 10,
		},
		Gateway: GatewayConfig{
			BaseURL: "http://127.0.0.1:18789",
		},
		Media: MediaConfig{
			MaxDownloadBytes: DefaultMaxDownloadBytes,
		},
		State: StateConfig{
			DBPath: filepath.Join(dir, "minibridge.db"),
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Port:     9090,
			Endpoint: "/metrics",
		},
	}
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = expandPath(cfg.General.Workspace)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.General.AccountsDir = expandPath(cfg.General.AccountsDir)
	cfg.State.DBPath = expandPath(cfg.State.DBPath)
	cfg.Media.InboundDir = expandPath(cfg.Media.InboundDir)

	if cfg.General.AccountsDir != "" {
		extra, err := LoadAccountsDir(cfg.General.AccountsDir)
		if err != nil {
			return nil, fmt.Errorf("accounts dir: %w", err)
		}
		cfg.Accounts = MergeAccounts(cfg.Accounts, extra)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Relay.BaseURL == "" {
		errs = append(errs, "relay.baseUrl must not be empty")
	} else if !strings.HasPrefix(cfg.Relay.BaseURL, "http://") && !strings.HasPrefix(cfg.Relay.BaseURL, "https://") {
		errs = append(errs, "relay.baseUrl must start with http:// or https://")
	}
	if cfg.Relay.RequestTimeoutSeconds < 0 {
		errs = append(errs, "relay.requestTimeoutSeconds must not be negative")
	}
	if cfg.Media.MaxDownloadBytes < 0 {
		errs = append(errs, "media.maxDownloadBytes must not be negative")
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("metrics.port out of range: %d", cfg.Metrics.Port))
	}

	seen := make(map[string]bool, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		if acct.ID == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].id must not be empty", i))
			continue
		}
		if seen[acct.ID] {
			errs = append(errs, fmt.Sprintf("duplicate account id %q", acct.ID))
		}
		seen[acct.ID] = true
		if acct.PollIntervalMs < 0 {
			errs = append(errs, fmt.Sprintf("accounts[%d].pollIntervalMs must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// PollIntervalOrDefault returns the account's poll interval in milliseconds
// with the default applied.
func (a AccountConfig) PollIntervalOrDefault() int {
	if a.PollIntervalMs > 0 {
		return a.PollIntervalMs
	}
	return DefaultPollIntervalMs
}
