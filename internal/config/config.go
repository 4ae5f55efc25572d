// Package config loads and validates the deployment target.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file name searched for when none is given.
const DefaultFile = "sink.toml"

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Platforms a build can be published to.
const (
	PlatformAWS    = "aws"
	PlatformGitHub = "github"
)

// Defaults applied when the file leaves a field unset.
const (
	DefaultPlatform       = PlatformAWS
	DefaultPagesCommand   = "sh scripts/deploy.sh"
	DefaultBuildCommand   = "npm run build"
	DefaultConcurrency    = 8
	DefaultTimeoutSeconds = 60
	DefaultMaxAttempts    = 5
)

// Config is the on-disk configuration file.
type Config struct {
	Deployment Target `toml:"deployment"`

	// Dir is the directory holding the config file. Relative paths in the
	// file are resolved against it.
	Dir string `toml:"-"`
}

// Target describes where and how a build is published.
type Target struct {
	Platform       string `toml:"platform"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	KeyPrefix      string `toml:"key"`
	BuildDir       string `toml:"build"`
	Profile        string `toml:"profile"`
	DistributionID string `toml:"distribution"`
	// Domain is matched against distribution aliases when DistributionID
	// is empty. Falls back to Bucket.
	Domain       string `toml:"domain"`
	BuildCommand string `toml:"build-command"`
	SkipBuild    bool   `toml:"skip-build"`
	AutoConfirm  bool   `toml:"auto-confirm"`
	// Strict turns failed object mutations into a failed run.
	Strict         bool `toml:"strict"`
	Concurrency    int  `toml:"concurrency"`
	TimeoutSeconds int  `toml:"timeout-seconds"`
	MaxAttempts    int  `toml:"max-attempts"`

	Redirects RedirectsConfig `toml:"redirects"`

	// URL is the published GitHub Pages address, https://<owner>.github.io/...
	URL string `toml:"url"`
	// PagesCommand publishes the build directory to GitHub Pages. The build
	// directory is appended as its last argument.
	PagesCommand string `toml:"pages-command"`
}

// RedirectsConfig enables directory redirect publication to a KVS.
type RedirectsConfig struct {
	KVSName string `toml:"kvs-name"`
	// Function, when set, names the viewer-request function published to
	// serve the store's redirects.
	Function string `toml:"function"`
}

// Find searches dir and its parents for name and returns the first match.
func Find(dir, name string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in %s or any parent directory", name, dir)
		}
		dir = parent
	}
}

// Load reads the config file at path and applies defaults. It does not
// validate; call Target.Validate once flag overrides have been applied.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(abs)
	cfg.Deployment.applyDefaults()
	return &cfg, nil
}

func (t *Target) applyDefaults() {
	if t.Platform == "" {
		t.Platform = DefaultPlatform
	}
	if t.PagesCommand == "" {
		t.PagesCommand = DefaultPagesCommand
	}
	if t.BuildCommand == "" {
		t.BuildCommand = DefaultBuildCommand
	}
	if t.Concurrency <= 0 {
		t.Concurrency = DefaultConcurrency
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
}

// BuildPath resolves the build directory against the config directory.
func (c *Config) BuildPath() string {
	if filepath.IsAbs(c.Deployment.BuildDir) || c.Dir == "" {
		return c.Deployment.BuildDir
	}
	return filepath.Join(c.Dir, c.Deployment.BuildDir)
}

// Validate rejects targets that must not reach the network.
func (t *Target) Validate() error {
	var missing []string
	if t.Region == "" {
		missing = append(missing, "region")
	}
	if t.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if t.BuildDir == "" {
		missing = append(missing, "build")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if strings.HasPrefix(t.KeyPrefix, "/") || strings.HasSuffix(t.KeyPrefix, "/") {
		return fmt.Errorf("%w: key %q must not start or end with /", ErrInvalid, t.KeyPrefix)
	}
	return nil
}

// ValidatePages rejects targets that cannot be published to GitHub Pages.
func (t *Target) ValidatePages() error {
	var missing []string
	if t.BuildDir == "" {
		missing = append(missing, "build")
	}
	if t.URL == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// AliasIdentifier is the name matched against distribution aliases.
func (t *Target) AliasIdentifier() string {
	if t.Domain != "" {
		return t.Domain
	}
	return t.Bucket
}
