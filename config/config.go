// Package config loads designcheck's project configuration: the YAML file
// (designcheck.yaml), the design-API token from the environment, and the
// figma-urls.json component map.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables holding the design-API token, in lookup order.
const (
	EnvToken         = "FIGMA_PERSONAL_ACCESS_TOKEN"
	EnvTokenFallback = "FIGMA_ACCESS_TOKEN"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "designcheck.yaml"

// Config is the top-level designcheck configuration.
type Config struct {
	Figma     FigmaConfig     `yaml:"figma"`
	Storybook StorybookConfig `yaml:"storybook"`
	Browser   BrowserConfig   `yaml:"browser"`
	Paths     PathsConfig     `yaml:"paths"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Report    ReportConfig    `yaml:"report"`
	History   HistoryConfig   `yaml:"history"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	Server    ServerConfig    `yaml:"server"`
}

// FigmaConfig locates the design file. The token never comes from YAML.
type FigmaConfig struct {
	APIBase string        `yaml:"api_base"`
	FileID  string        `yaml:"file_id"`
	FileURL string        `yaml:"file_url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"-"`
}

// StorybookConfig describes the local preview server.
type StorybookConfig struct {
	URL          string            `yaml:"url"`
	StoryPrefix  string            `yaml:"story_prefix"`
	Selector     string            `yaml:"selector"`
	DefaultStory string            `yaml:"default_story"`
	StoryMap     map[string]string `yaml:"story_map"` // design node id -> story id
}

// BrowserConfig controls the headless browser used for captures.
type BrowserConfig struct {
	Bin              string        `yaml:"bin"`
	Remote           string        `yaml:"remote"`
	NoSandbox        bool          `yaml:"no_sandbox"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"` // media | fonts | images | stylesheets
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	StyleDelay       time.Duration `yaml:"style_delay"`
	Width            int           `yaml:"width"`
	Height           int           `yaml:"height"`
	Scale            float64       `yaml:"scale"`
}

// PathsConfig locates project files. Relative paths resolve against Root.
type PathsConfig struct {
	Root      string `yaml:"root"`
	BlocksDir string `yaml:"blocks_dir"`
	FigmaURLs string `yaml:"figma_urls"`
	OutputDir string `yaml:"output_dir"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	ElementDelay *time.Duration `yaml:"element_delay"` // unset = 1s; 0s disables
	OpenReports  *bool         `yaml:"open_reports"`
	Preflight    *bool         `yaml:"preflight"`
}

// ReportConfig adds project-specific remediation hints (HTML fragments,
// sanitised before rendering).
type ReportConfig struct {
	Hints []string `yaml:"hints"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"` // wait for a concurrent writer; default 10s
}

// SinkConfig defines a notification backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// ServerConfig configures `designcheck serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ConfigurationError reports a missing or invalid setting. It is fatal and
// raised before any network call.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, applies defaults and picks up the token from the
// environment. A missing file at the default location is not an error; a
// missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Field: path, Reason: "invalid YAML", Err: err}
		}
		if cfg.Paths.Root == "" {
			cfg.Paths.Root = filepath.Dir(path)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, &ConfigurationError{Field: path, Reason: "cannot read config file", Err: err}
	}

	cfg.applyDefaults()
	cfg.Figma.Token = TokenFromEnv()
	return cfg, nil
}

// TokenFromEnv returns the design-API token, preferring EnvToken.
func TokenFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(EnvTokenFallback))
}

func (c *Config) applyDefaults() {
	if c.Figma.APIBase == "" {
		c.Figma.APIBase = "https://api.figma.com/v1"
	}
	if c.Figma.Timeout <= 0 {
		c.Figma.Timeout = 30 * time.Second
	}
	if c.Figma.FileID == "" && c.Figma.FileURL != "" {
		c.Figma.FileID = FileIDFromURL(c.Figma.FileURL)
	}
	if c.Storybook.URL == "" {
		c.Storybook.URL = "http://localhost:6006"
	}
	c.Storybook.URL = strings.TrimRight(c.Storybook.URL, "/")
	if c.Storybook.StoryPrefix == "" {
		c.Storybook.StoryPrefix = "blocks"
	}
	if c.Storybook.Selector == "" {
		c.Storybook.Selector = "#storybook-root"
	}
	if c.Storybook.DefaultStory == "" {
		c.Storybook.DefaultStory = "default"
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Browser.SettleDelay <= 0 {
		c.Browser.SettleDelay = 2 * time.Second
	}
	if c.Browser.StyleDelay <= 0 {
		c.Browser.StyleDelay = 100 * time.Millisecond
	}
	if c.Browser.Width <= 0 {
		c.Browser.Width = 1160
	}
	if c.Browser.Height <= 0 {
		c.Browser.Height = 1200
	}
	if c.Browser.Scale <= 0 {
		c.Browser.Scale = 2
	}
	if c.Paths.Root == "" {
		c.Paths.Root = "."
	}
	if c.Paths.BlocksDir == "" {
		c.Paths.BlocksDir = "blocks"
	}
	if c.Paths.FigmaURLs == "" {
		c.Paths.FigmaURLs = filepath.Join("config", "figma", "figma-urls.json")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = ".validation-screenshots"
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = 1
	}
	if c.Pipeline.ElementDelay == nil {
		d := time.Second
		c.Pipeline.ElementDelay = &d
	}
	if c.Pipeline.OpenReports == nil {
		c.Pipeline.OpenReports = boolPtr(true)
	}
	if c.Pipeline.Preflight == nil {
		c.Pipeline.Preflight = boolPtr(true)
	}
	if c.History.Path == "" {
		c.History.Path = "history.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":7070"
	}
}

// Resolve returns p joined to Paths.Root unless p is absolute.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Root, p)
}

// OutputDir is the absolute-or-root-relative screenshot workspace.
func (c *Config) OutputDir() string { return c.Resolve(c.Paths.OutputDir) }

// BlocksDir is where block story manifests live.
func (c *Config) BlocksDir() string { return c.Resolve(c.Paths.BlocksDir) }

// FigmaURLsPath is the component map file.
func (c *Config) FigmaURLsPath() string { return c.Resolve(c.Paths.FigmaURLs) }

// HistoryPath places the history database inside the output directory
// unless configured absolute.
func (c *Config) HistoryPath() string {
	if filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}
	return filepath.Join(c.OutputDir(), c.History.Path)
}

// OpenReports reports whether finished reports open in the host viewer.
func (c *Config) OpenReports() bool { return c.Pipeline.OpenReports == nil || *c.Pipeline.OpenReports }

// ElementDelay is the pause between two sequential elements.
func (c *Config) ElementDelay() time.Duration {
	if c.Pipeline.ElementDelay == nil {
		return time.Second
	}
	return *c.Pipeline.ElementDelay
}

// PreflightEnabled reports whether the preview server is checked before a run.
func (c *Config) PreflightEnabled() bool { return c.Pipeline.Preflight == nil || *c.Pipeline.Preflight }

// Validate checks the settings needed for a comparison run.
func (c *Config) Validate() error {
	if c.Figma.Token == "" {
		return &ConfigurationError{Field: EnvToken, Reason: "design API token is not set"}
	}
	if c.Storybook.URL == "" {
		return &ConfigurationError{Field: "storybook.url", Reason: "is required"}
	}
	if c.Browser.Scale <= 0 || c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return &ConfigurationError{Field: "browser", Reason: "width, height and scale must be positive"}
	}
	if c.Pipeline.Concurrency < 1 {
		return &ConfigurationError{Field: "pipeline.concurrency", Reason: "must be >= 1"}
	}
	if c.ElementDelay() < 0 {
		return &ConfigurationError{Field: "pipeline.element_delay", Reason: "must not be negative"}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return &ConfigurationError{Field: fmt.Sprintf("sinks[%d].url", i), Reason: "is required for webhook sinks"}
			}
		default:
			return &ConfigurationError{Field: fmt.Sprintf("sinks[%d].type", i), Reason: fmt.Sprintf("unsupported sink type %q (use stdout or webhook)", s.Type)}
		}
	}
	return nil
}

// FileIDFromURL extracts the file key from a design URL such as
// https://www.figma.com/design/{fileId}/Name?node-id=1-2.
func FileIDFromURL(raw string) string {
	for _, marker := range []string{"/design/", "/file/", "/proto/"} {
		i := strings.Index(raw, marker)
		if i < 0 {
			continue
		}
		rest := raw[i+len(marker):]
		if j := strings.IndexAny(rest, "/?#"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}

func boolPtr(b bool) *bool { return &b }
