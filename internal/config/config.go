// Package config loads and validates issuebot configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/issuebot/issuebot/internal/logging"
)

// Repo modes. AUTONOMOUS merges without human sign-off when autoMerge is
// set; APPROVAL_GATED always parks finished work in AWAITING_APPROVAL.
const (
	ModeAutonomous     = "AUTONOMOUS"
	ModeApprovalGated  = "APPROVAL_GATED"
	defaultPollEvery   = 60 * time.Second
	defaultCooldown    = 24 * time.Hour
	defaultWorkers     = 2
	defaultMaxIter     = 5
	defaultMaxReview   = 2
	defaultCITimeout   = 15
	defaultToolTimeout = 30
)

// Config represents the main configuration.
type Config struct {
	Version   string           `yaml:"version"`
	Logging   *logging.Config  `yaml:"logging"`
	Gateway   *GatewayConfig   `yaml:"gateway"`
	Admin     *AdminConfig     `yaml:"admin"`
	GitHub    *GitHubConfig    `yaml:"github"`
	Store     *StoreConfig     `yaml:"store"`
	Workspace *WorkspaceConfig `yaml:"workspace"`
	Poller    *PollerConfig    `yaml:"poller"`
	Engine    *EngineConfig    `yaml:"engine"`
	Codegen   *ToolConfig      `yaml:"codegen"`
	Reviewer  *ToolConfig      `yaml:"reviewer"`
	Repos     []*RepoConfig    `yaml:"repos"`
}

// GatewayConfig holds the operator API binding.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AdminConfig holds operator credentials for the gateway API.
// When absent or empty, authentication is disabled.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether admin authentication is configured.
func (a *AdminConfig) Enabled() bool {
	return a != nil && a.Username != "" && a.Password != ""
}

// GitHubConfig holds upstream repository-service credentials.
type GitHubConfig struct {
	Token  string `yaml:"token"`
	APIURL string `yaml:"api_url"` // override for tests / GitHub Enterprise
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig holds the root for per-issue working directories.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// PollerConfig holds polling cadence settings.
type PollerConfig struct {
	Interval string `yaml:"interval"` // e.g. "60s"
}

// IntervalDuration returns the parsed polling interval, defaulting to 60s.
func (p *PollerConfig) IntervalDuration() time.Duration {
	if p == nil || p.Interval == "" {
		return defaultPollEvery
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return defaultPollEvery
	}
	return d
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	Workers  int    `yaml:"workers"`
	Cooldown string `yaml:"cooldown"` // e.g. "24h"
}

// WorkerCount returns the configured worker pool size, defaulting to 2.
func (e *EngineConfig) WorkerCount() int {
	if e == nil || e.Workers <= 0 {
		return defaultWorkers
	}
	return e.Workers
}

// CooldownDuration returns the escalation cooldown, defaulting to 24h.
func (e *EngineConfig) CooldownDuration() time.Duration {
	if e == nil || e.Cooldown == "" {
		return defaultCooldown
	}
	d, err := time.ParseDuration(e.Cooldown)
	if err != nil || d <= 0 {
		return defaultCooldown
	}
	return d
}

// ToolConfig describes an external subprocess tool (code generation or
// review). Command is the argv prefix; the engine appends tool-specific
// arguments.
type ToolConfig struct {
	Command        []string `yaml:"command"`
	Model          string   `yaml:"model"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
}

// Timeout returns the subprocess timeout, defaulting to 30 minutes.
func (t *ToolConfig) Timeout() time.Duration {
	if t == nil || t.TimeoutMinutes <= 0 {
		return defaultToolTimeout * time.Minute
	}
	return time.Duration(t.TimeoutMinutes) * time.Minute
}

// RepoConfig declares a watched repository. Values here are seeded into the
// store at startup; the store row is the runtime source of truth.
type RepoConfig struct {
	Repo                  string   `yaml:"repo"`   // "owner/name"
	Branch                string   `yaml:"branch"` // default branch; autodetected when empty
	Mode                  string   `yaml:"mode"`
	MaxIterations         int      `yaml:"max_iterations"`
	MaxReviewIterations   int      `yaml:"max_review_iterations"`
	CIEnabled             *bool    `yaml:"ci_enabled"`
	CITimeoutMinutes      int      `yaml:"ci_timeout_minutes"`
	AutoMerge             bool     `yaml:"auto_merge"`
	ReviewEnabled         bool     `yaml:"review_enabled"`
	SecurityReviewEnabled bool     `yaml:"security_review_enabled"`
	AllowedPaths          []string `yaml:"allowed_paths"`
}

// Owner returns the owner half of "owner/name".
func (r *RepoConfig) Owner() string {
	owner, _, _ := strings.Cut(r.Repo, "/")
	return owner
}

// Name returns the name half of "owner/name".
func (r *RepoConfig) Name() string {
	_, name, _ := strings.Cut(r.Repo, "/")
	return name
}

// CI reports whether CI waiting is enabled (default true).
func (r *RepoConfig) CI() bool {
	if r.CIEnabled == nil {
		return true
	}
	return *r.CIEnabled
}

// applyDefaults fills zero-valued repo options.
func (r *RepoConfig) applyDefaults() {
	if r.Mode == "" {
		r.Mode = ModeAutonomous
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = defaultMaxIter
	}
	if r.MaxReviewIterations <= 0 {
		r.MaxReviewIterations = defaultMaxReview
	}
	if r.CITimeoutMinutes <= 0 {
		r.CITimeoutMinutes = defaultCITimeout
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Logging: logging.DefaultConfig(),
		Gateway: &GatewayConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		GitHub: &GitHubConfig{
			Token: "${GITHUB_TOKEN}",
		},
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".issuebot", "data", "issuebot.db"),
		},
		Workspace: &WorkspaceConfig{
			Root: filepath.Join(homeDir, ".issuebot", "workspaces"),
		},
		Poller: &PollerConfig{
			Interval: "60s",
		},
		Engine: &EngineConfig{
			Workers:  defaultWorkers,
			Cooldown: "24h",
		},
		Codegen: &ToolConfig{
			Command:        []string{"claude", "-p"},
			TimeoutMinutes: defaultToolTimeout,
		},
		Reviewer: &ToolConfig{
			Command:        []string{"claude", "-p"},
			TimeoutMinutes: defaultToolTimeout,
		},
		Repos: []*RepoConfig{},
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Workspace != nil {
		config.Workspace.Root = expandPath(config.Workspace.Root)
	}

	for _, repo := range config.Repos {
		repo.applyDefaults()
	}

	return config, nil
}

// Save saves configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".issuebot", "config.yaml")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if len(c.Repos) > 0 {
		if c.GitHub == nil || c.GitHub.Token == "" || c.GitHub.Token == "${GITHUB_TOKEN}" {
			return fmt.Errorf("github token is required when repos are configured")
		}
	}
	if c.Codegen == nil || len(c.Codegen.Command) == 0 {
		return fmt.Errorf("codegen command is required")
	}
	seen := make(map[string]bool)
	for _, repo := range c.Repos {
		if repo.Owner() == "" || repo.Name() == "" {
			return fmt.Errorf("invalid repo %q: want owner/name", repo.Repo)
		}
		if repo.Mode != ModeAutonomous && repo.Mode != ModeApprovalGated {
			return fmt.Errorf("invalid mode %q for repo %s", repo.Mode, repo.Repo)
		}
		if seen[repo.Repo] {
			return fmt.Errorf("duplicate repo %s", repo.Repo)
		}
		seen[repo.Repo] = true
	}
	return nil
}
