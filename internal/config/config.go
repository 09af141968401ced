// Package config provides configuration loading and management for regsync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseBranch is the branch change proposals target.
	DefaultBaseBranch = "main"

	// DefaultBranchPrefix prefixes per-module proposal branches. The
	// module name is appended, so the branch for module "widget" is
	// "update-widget".
	DefaultBranchPrefix = "update-"

	defaultConcurrency    = 4
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryInitial   = time.Second
	defaultRetryMax       = 30 * time.Second
	defaultCommitAuthor   = "regsync"
	defaultCommitEmail    = "regsync@localhost"
	defaultConfigRelPath  = "regsync/config.yaml"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Registry locates the registry tree and its hosting remote
	Registry RegistryConfig `yaml:"registry"`

	// Upstream tunes the release-listing client
	Upstream UpstreamConfig `yaml:"upstream,omitempty"`

	// Proposal controls how change proposals are opened
	Proposal ProposalConfig `yaml:"proposal,omitempty"`

	// Sync controls run-wide behavior
	Sync SyncConfig `yaml:"sync,omitempty"`
}

// RegistryConfig locates the registry to operate on
type RegistryConfig struct {
	// Path is the local checkout of the registry tree (the directory
	// containing modules/)
	Path string `yaml:"path"`

	// Remote is the HTTPS URL of the registry's hosting repository,
	// e.g. "https://github.com/example/registry". Required for
	// proposing changes; a dry run works without it.
	Remote string `yaml:"remote,omitempty"`
}

// UpstreamConfig tunes the upstream release client
type UpstreamConfig struct {
	// APIBaseURL overrides the GitHub API endpoint. Used for GitHub
	// Enterprise installations and tests. Defaults to the public API.
	APIBaseURL string `yaml:"apiBaseUrl,omitempty"`

	// DownloadBaseURL overrides the host release archives are fetched
	// from. Defaults to the public github.com download host.
	DownloadBaseURL string `yaml:"downloadBaseUrl,omitempty"`

	// RequestTimeout bounds every upstream HTTP request (e.g. "30s")
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// IncludePrereleases makes prereleases eligible for registration
	IncludePrereleases bool `yaml:"includePrereleases,omitempty"`

	// Retry configures the transient-failure retry policy
	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig configures bounded exponential backoff for upstream calls
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialInterval is the first backoff delay (e.g. "1s")
	InitialInterval string `yaml:"initialInterval,omitempty"`

	// MaxInterval caps the backoff delay (e.g. "30s")
	MaxInterval string `yaml:"maxInterval,omitempty"`
}

// ProposalConfig controls how change proposals are created
type ProposalConfig struct {
	// BaseBranch is the branch proposals target (default "main")
	BaseBranch string `yaml:"baseBranch,omitempty"`

	// BranchPrefix prefixes the deterministic per-module branch name
	// (default "update-")
	BranchPrefix string `yaml:"branchPrefix,omitempty"`

	// AuthorName and AuthorEmail identify the commit author
	AuthorName  string `yaml:"authorName,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty"`
}

// SyncConfig controls run-wide behavior
type SyncConfig struct {
	// Concurrency is the number of modules processed in parallel
	Concurrency int `yaml:"concurrency,omitempty"`
}

// NewDefault returns a configuration with all defaults applied,
// pointing at the current directory. Used when no config file exists.
func NewDefault() *Config {
	return &Config{
		Registry: RegistryConfig{Path: "."},
	}
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// DefaultConfigPath returns the user-level config file path if one
// exists, or the empty string otherwise.
func DefaultConfigPath() string {
	path, err := xdg.SearchConfigFile(defaultConfigRelPath)
	if err != nil {
		return ""
	}
	return path
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Registry.Remote != "" {
		if _, _, err := c.Registry.OwnerRepo(); err != nil {
			return err
		}
	}

	if err := validateDuration(c.Upstream.RequestTimeout, "upstream.requestTimeout"); err != nil {
		return err
	}
	if err := validateDuration(c.Upstream.Retry.InitialInterval, "upstream.retry.initialInterval"); err != nil {
		return err
	}
	if err := validateDuration(c.Upstream.Retry.MaxInterval, "upstream.retry.maxInterval"); err != nil {
		return err
	}

	if c.Upstream.Retry.MaxAttempts < 0 {
		return fmt.Errorf("upstream.retry.maxAttempts must not be negative")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative")
	}

	return nil
}

// validateDuration checks that a duration field parses when set
func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g. '30s', '1m'): %w", field, err)
	}
	return nil
}

// OwnerRepo splits the registry remote URL into its owner and
// repository components.
func (r *RegistryConfig) OwnerRepo() (string, string, error) {
	u, err := url.Parse(r.Remote)
	if err != nil {
		return "", "", fmt.Errorf("registry.remote is not a valid URL: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("registry.remote must point at an owner/repository URL, got %q", r.Remote)
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// GetRequestTimeout returns the upstream request timeout, applying the default
func (u *UpstreamConfig) GetRequestTimeout() time.Duration {
	return durationOrDefault(u.RequestTimeout, defaultRequestTimeout)
}

// GetMaxAttempts returns the retry attempt budget, applying the default
func (r *RetryConfig) GetMaxAttempts() int {
	if r.MaxAttempts == 0 {
		return defaultRetryAttempts
	}
	return r.MaxAttempts
}

// GetInitialInterval returns the first backoff delay, applying the default
func (r *RetryConfig) GetInitialInterval() time.Duration {
	return durationOrDefault(r.InitialInterval, defaultRetryInitial)
}

// GetMaxInterval returns the backoff delay cap, applying the default
func (r *RetryConfig) GetMaxInterval() time.Duration {
	return durationOrDefault(r.MaxInterval, defaultRetryMax)
}

// GetBaseBranch returns the proposal target branch, applying the default
func (p *ProposalConfig) GetBaseBranch() string {
	if p.BaseBranch == "" {
		return DefaultBaseBranch
	}
	return p.BaseBranch
}

// GetBranchPrefix returns the proposal branch prefix, applying the default
func (p *ProposalConfig) GetBranchPrefix() string {
	if p.BranchPrefix == "" {
		return DefaultBranchPrefix
	}
	return p.BranchPrefix
}

// GetAuthorName returns the commit author name, applying the default
func (p *ProposalConfig) GetAuthorName() string {
	if p.AuthorName == "" {
		return defaultCommitAuthor
	}
	return p.AuthorName
}

// GetAuthorEmail returns the commit author email, applying the default
func (p *ProposalConfig) GetAuthorEmail() string {
	if p.AuthorEmail == "" {
		return defaultCommitEmail
	}
	return p.AuthorEmail
}

// GetConcurrency returns the module parallelism, applying the default
func (s *SyncConfig) GetConcurrency() int {
	if s.Concurrency == 0 {
		return defaultConcurrency
	}
	return s.Concurrency
}

func durationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
