package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete texsync configuration
type Config struct {
	Repo  RepoConfig  `yaml:"repo"`
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Auth  AuthConfig  `yaml:"auth"`
	Serve ServeConfig `yaml:"serve"`
}

// RepoConfig identifies the texture repository on the hosting service
type RepoConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Ref   string `yaml:"ref"`
	// SparsePath is the subtree within the repository that holds the
	// texture pack (e.g. "textures/SLUS-21214").
	SparsePath string `yaml:"sparse_path"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	// TexturesDir is the emulator's texture replacement directory chosen
	// by the user.
	TexturesDir string `yaml:"textures_dir"`
	// GameFolder is the folder created under TexturesDir that this tool
	// manages (the PS2 game identifier, e.g. "SLUS-21214").
	GameFolder string `yaml:"game_folder"`
	StateDir   string `yaml:"state_dir"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	// CustomsDir is the folder name under the managed root that holds
	// user-supplied textures; it is never read or modified.
	CustomsDir string `yaml:"customs_dir"`
	// DisableMarker is the filename prefix that marks a texture as
	// disabled for the emulator while still tracked by sync.
	DisableMarker string `yaml:"disable_marker"`
	// Concurrency bounds parallel blob downloads.
	Concurrency int `yaml:"concurrency"`
}

// AuthConfig configures hosting API authentication
type AuthConfig struct {
	// TokenFile holds a personal access token. Required for all sync and
	// verification operations; planning and blob fetches go through the
	// hosting API, which rate-limits unauthenticated use too aggressively.
	TokenFile string `yaml:"token_file"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ListenAddr        string   `yaml:"listen_addr"`
	WebhookSecretFile string   `yaml:"webhook_secret_file"`
	AllowedRefs       []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.Owner = os.ExpandEnv(c.Repo.Owner)
	c.Repo.Name = os.ExpandEnv(c.Repo.Name)
	c.Repo.Ref = os.ExpandEnv(c.Repo.Ref)
	c.Repo.SparsePath = os.ExpandEnv(c.Repo.SparsePath)
	c.Paths.TexturesDir = os.ExpandEnv(c.Paths.TexturesDir)
	c.Paths.GameFolder = os.ExpandEnv(c.Paths.GameFolder)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Auth.TokenFile = os.ExpandEnv(c.Auth.TokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookSecretFile = os.ExpandEnv(c.Serve.WebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.Ref == "" {
		c.Repo.Ref = "main"
	}
	if c.Sync.CustomsDir == "" {
		c.Sync.CustomsDir = "user-customs"
	}
	if c.Sync.DisableMarker == "" {
		c.Sync.DisableMarker = "-"
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.Owner == "" {
		return fmt.Errorf("repo.owner is required")
	}
	if c.Repo.Name == "" {
		return fmt.Errorf("repo.name is required")
	}
	if c.Repo.SparsePath == "" {
		return fmt.Errorf("repo.sparse_path is required")
	}
	if strings.HasPrefix(c.Repo.SparsePath, "/") || strings.HasSuffix(c.Repo.SparsePath, "/") {
		return fmt.Errorf("repo.sparse_path must be a relative path without trailing slash: %s", c.Repo.SparsePath)
	}

	if c.Paths.TexturesDir == "" {
		return fmt.Errorf("paths.textures_dir is required")
	}
	if c.Paths.GameFolder == "" {
		return fmt.Errorf("paths.game_folder is required")
	}
	if strings.ContainsAny(c.Paths.GameFolder, `/\`) {
		return fmt.Errorf("paths.game_folder must be a bare folder name: %s", c.Paths.GameFolder)
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}

	if !filepath.IsAbs(c.Paths.TexturesDir) {
		return fmt.Errorf("paths.textures_dir must be an absolute path: %s", c.Paths.TexturesDir)
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1: %d", c.Sync.Concurrency)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.WebhookSecretFile == "" {
			return fmt.Errorf("serve.webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// Root returns the managed root directory (the game folder under the
// user's texture directory).
func (c *Config) Root() string {
	return filepath.Join(c.Paths.TexturesDir, c.Paths.GameFolder)
}

// StateFilePath returns the path to the state tracking file
func (c *Config) StateFilePath() string {
	return filepath.Join(c.Paths.StateDir, "state.json")
}

// RepoSlug returns the "owner/name" form used in API routes and logs.
func (c *Config) RepoSlug() string {
	return c.Repo.Owner + "/" + c.Repo.Name
}

// CloneURL returns the HTTPS clone URL for the repository.
func (c *Config) CloneURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", c.Repo.Owner, c.Repo.Name)
}

// Token reads the access token from the configured token file. It
// returns an empty string when no token file is configured.
func (c *Config) Token() (string, error) {
	if c.Auth.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
