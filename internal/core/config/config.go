// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
)

// Constants for default paths
const (
	DefaultConfigDir        = ".remedy"
	DefaultConfigFileName   = "config.yaml"
	DefaultGlobalStrategies = "~/.remedy/strategies"
	DefaultLogDirName       = "attempts"

	// EnvPrefix marks environment overrides, e.g. REMEDY_ORCHESTRATOR_WORKERS
	EnvPrefix = "REMEDY_"

	LogPolicyFatal  = "fatal"
	LogPolicyBuffer = "buffer"

	maxConfigFileSize = 1024 * 1024
)

// ErrConfigNotFound is returned when an explicitly requested config file is missing
var ErrConfigNotFound = errors.New("config file not found")

// Config holds the application configuration
type Config struct {
	Orchestrator OrchestratorConfig  `yaml:"orchestrator"`
	Log          LogConfig           `yaml:"log"`
	Escalation   EscalationConfig    `yaml:"escalation"`
	Logging      LoggingConfig       `yaml:"logging"`
	Server       ServerConfig        `yaml:"server"`
	Strategies   []strategy.Config   `yaml:"strategies,omitempty"`
	StrategyDirs []string            `yaml:"strategy_dirs,omitempty"`
	Chains       map[string][]string `yaml:"chains,omitempty" validate:"dive,min=1,dive,required"`

	// BaseDir anchors relative paths; it is the directory holding the config file
	BaseDir string `yaml:"-"`
}

// OrchestratorConfig tunes the worker pool and retry policy
type OrchestratorConfig struct {
	Workers         int           `yaml:"workers" validate:"gte=0,lte=64"`
	StrategyTimeout time.Duration `yaml:"strategy_timeout" validate:"gte=0"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0,lte=100"`
	BackoffBase     time.Duration `yaml:"backoff_base" validate:"gte=0"`
	BackoffCap      time.Duration `yaml:"backoff_cap" validate:"gte=0"`
}

// LogConfig selects the attempt log store and its failure policy
type LogConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	SyncWrites  bool   `yaml:"sync_writes"`
	Policy      string `yaml:"policy" validate:"oneof=fatal buffer"`
	MaxBuffered int    `yaml:"max_buffered" validate:"gte=0"`
}

// EscalationConfig configures delivery and the enabled sinks
type EscalationConfig struct {
	QueueSize     int           `yaml:"queue_size" validate:"gte=0"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	MaxTries      uint          `yaml:"max_tries"`
	SendTimeout   time.Duration `yaml:"send_timeout" validate:"gte=0"`
	Webhook       WebhookConfig `yaml:"webhook,omitempty"`
	NATS          NATSConfig    `yaml:"nats,omitempty"`
	GitHub        GitHubConfig  `yaml:"github,omitempty"`
	Email         EmailConfig   `yaml:"email,omitempty"`
}

// WebhookConfig enables the webhook sink when URL is set
type WebhookConfig struct {
	URL     string            `yaml:"url,omitempty" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// NATSConfig enables the NATS sink when URL is set
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty" validate:"required_with=URL"`
}

// GitHubConfig enables the issue sink when Repo is set
type GitHubConfig struct {
	Owner    string   `yaml:"owner,omitempty" validate:"required_with=Repo"`
	Repo     string   `yaml:"repo,omitempty"`
	TokenEnv string   `yaml:"token_env,omitempty"`
	Labels   []string `yaml:"labels,omitempty"`
}

// EmailConfig enables the SMTP sink when Host is set
type EmailConfig struct {
	Host        string   `yaml:"host,omitempty"`
	Port        int      `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	From        string   `yaml:"from,omitempty" validate:"required_with=Host"`
	To          []string `yaml:"to,omitempty" validate:"required_with=Host"`
	Username    string   `yaml:"username,omitempty"`
	PasswordEnv string   `yaml:"password_env,omitempty"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console auto"`
}

// ServerConfig controls the report API
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// NewDefaultConfig creates a default configuration
func NewDefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			StrategyTimeout: 30 * time.Second,
			MaxRetries:      2,
			BackoffBase:     500 * time.Millisecond,
			BackoffCap:      30 * time.Second,
		},
		Log: LogConfig{
			Policy: LogPolicyFatal,
		},
		Escalation: EscalationConfig{
			QueueSize:     256,
			RatePerSecond: 5,
			MaxTries:      3,
			SendTimeout:   10 * time.Second,
			NATS:          NATSConfig{Subject: "remedy.escalations"},
			GitHub:        GitHubConfig{TokenEnv: "GITHUB_TOKEN", Labels: []string{"remedy"}},
			Email:         EmailConfig{Port: 587, PasswordEnv: "REMEDY_SMTP_PASSWORD"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8089",
			ShutdownTimeout: 10 * time.Second,
		},
		StrategyDirs: []string{"strategies", DefaultGlobalStrategies},
		BaseDir:      DefaultConfigDir,
	}
}

// DefaultConfigPath is the project-local config file
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir, DefaultConfigFileName)
}

// ExpandPathWithTilde expands ~ to user home directory
// It respects the REMEDY_HOME environment variable for testing purposes.
func ExpandPathWithTilde(path string) string {
	if path == "~" {
		home := getHomeDir()
		if home == "" {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home := getHomeDir()
		if home == "" {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// getHomeDir returns the home directory, respecting REMEDY_HOME for testing
func getHomeDir() string {
	if remedyHome := os.Getenv("REMEDY_HOME"); remedyHome != "" {
		return remedyHome
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// Load reads the configuration. Precedence, highest first: REMEDY_* environment
// variables, the config file, defaults. An empty path means .remedy/config.yaml,
// which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	k := koanf.New(".")
	cfg := NewDefaultConfig()

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if format.IsJSONCFile(path) {
			content = format.StripJSONC(content)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
		cfg.BaseDir = filepath.Dir(path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment overrides: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps REMEDY_SECTION_FIELD_NAME to section.field_name
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, found := strings.Cut(lower, "_")
	if !found {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return content, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Orchestrator.BackoffCap > 0 && c.Orchestrator.BackoffCap < c.Orchestrator.BackoffBase {
		return fmt.Errorf("invalid config: orchestrator.backoff_cap is below backoff_base")
	}
	for name := range c.Chains {
		if _, ok := models.ParseCategory(name); !ok {
			return fmt.Errorf("invalid config: chain for unknown category %q", name)
		}
	}
	return nil
}

// ResolvePath expands ~ and anchors relative paths at BaseDir
func (c *Config) ResolvePath(path string) string {
	path = ExpandPathWithTilde(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

// LogPath is where the badger attempt log lives
func (c *Config) LogPath() string {
	if c.Log.Path != "" {
		return c.ResolvePath(c.Log.Path)
	}
	return filepath.Join(c.BaseDir, DefaultLogDirName)
}

// ResolvedStrategyDirs returns the strategy directories in lookup order
func (c *Config) ResolvedStrategyDirs() []string {
	dirs := make([]string, 0, len(c.StrategyDirs))
	for _, dir := range c.StrategyDirs {
		dirs = append(dirs, c.ResolvePath(dir))
	}
	return dirs
}

// SaveConfig saves the configuration to dir/.remedy/config.yaml
func SaveConfig(config *Config, dir string) error {
	configDir := filepath.Join(dir, DefaultConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory '%s': %w", configDir, err)
	}

	data, err := yamlv3.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFileName)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file '%s': %w", configPath, err)
	}

	return nil
}
