// Package config loads themerig settings: built-in defaults, then an
// optional TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/themerig/internal/logger"
	"github.com/loykin/themerig/internal/process"
	"github.com/loykin/themerig/internal/supervisor"
	"github.com/loykin/themerig/internal/workflow"
)

// EnvPrefix namespaces the environment overrides, e.g. THEMERIG_BACKEND_URL.
const EnvPrefix = "THEMERIG"

type Config struct {
	ProjectRoot string        `mapstructure:"project_root"`
	Env         []string      `mapstructure:"env"`
	EnvFiles    []string      `mapstructure:"env_files"`
	UseOSEnv    bool          `mapstructure:"use_os_env"`
	Backend     ServiceConfig `mapstructure:"backend"`
	Frontend    ServiceConfig `mapstructure:"frontend"`
	Health      HealthConfig  `mapstructure:"health"`
	Credentials Credentials   `mapstructure:"credentials"`
	Browser     BrowserConfig `mapstructure:"browser"`
	Paths       PathsConfig   `mapstructure:"paths"`
	Log         logger.Config `mapstructure:"log"`
	Store       StoreConfig   `mapstructure:"store"`
	Server      ServerConfig  `mapstructure:"server"`
}

type ServiceConfig struct {
	URL            string        `mapstructure:"url"`
	Command        string        `mapstructure:"command"`
	WorkDir        string        `mapstructure:"workdir"`
	Env            []string      `mapstructure:"env"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StopGrace      time.Duration `mapstructure:"stop_grace"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	SlowMo      time.Duration `mapstructure:"slow_mo"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	Bin         string        `mapstructure:"bin"`
}

type PathsConfig struct {
	Configs      string `mapstructure:"configs"`
	BaseTemplate string `mapstructure:"base_template"`
	Artifacts    string `mapstructure:"artifacts"`
}

// StoreConfig selects the capture history backend. An empty DSN disables it.
type StoreConfig struct {
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"base_path"`
	Metrics  bool   `mapstructure:"metrics"`
}

// storeDSNUnset marks store.dsn as "derive from project_root" so an
// explicit empty value can still disable history.
const storeDSNUnset = "\x00default"

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_root", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)

	v.SetDefault("backend.url", "http://localhost:8082")
	v.SetDefault("backend.command", "gradle noClientComposeUp")
	v.SetDefault("backend.workdir", "")
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.startup_timeout", 180*time.Second)
	v.SetDefault("backend.stop_grace", 10*time.Second)

	v.SetDefault("frontend.url", "http://localhost:8081")
	v.SetDefault("frontend.command", "npm start")
	v.SetDefault("frontend.workdir", "")
	v.SetDefault("frontend.env", []string{})
	v.SetDefault("frontend.startup_timeout", 120*time.Second)
	v.SetDefault("frontend.stop_grace", 5*time.Second)

	v.SetDefault("health.interval", 5*time.Second)
	v.SetDefault("health.timeout", 5*time.Second)

	v.SetDefault("credentials.username", "admin")
	v.SetDefault("credentials.password", "A12PT-admintest")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.slow_mo", 50*time.Millisecond)
	v.SetDefault("browser.page_timeout", 10*time.Second)
	v.SetDefault("browser.bin", "")

	v.SetDefault("paths.configs", "")
	v.SetDefault("paths.base_template", "")
	v.SetDefault("paths.artifacts", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", false)
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", filepath.Join(os.TempDir(), "themerig.log"))
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("store.dsn", storeDSNUnset)
	v.SetDefault("store.retention", 0)

	v.SetDefault("server.addr", "127.0.0.1:3000")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.metrics", true)
}

// legacyEnv maps keys to the unprefixed variable names older setups export.
// The prefixed name wins when both are set.
var legacyEnv = map[string]string{
	"frontend.url":         "FRONTEND_URL",
	"backend.url":          "BACKEND_URL",
	"credentials.username": "DEFAULT_USERNAME",
	"credentials.password": "DEFAULT_PASSWORD",
	"browser.headless":     "HEADLESS",
	"browser.slow_mo":      "SLOW_MO",
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// SLOW_MO has always been a bare millisecond count.
	if s := strings.TrimSpace(v.GetString("browser.slow_mo")); isDigits(s) {
		v.Set("browser.slow_mo", s+"ms")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// resolve fills the root-relative defaults and makes relative paths
// absolute. Paths in a config file are relative to project_root.
func (c *Config) resolve() error {
	if c.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve project root: %w", err)
		}
		c.ProjectRoot = wd
	}
	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	c.ProjectRoot = root

	abs := func(p, def string) string {
		if p == "" {
			p = def
		}
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Backend.WorkDir = abs(c.Backend.WorkDir, root)
	c.Frontend.WorkDir = abs(c.Frontend.WorkDir, filepath.Join(root, "client"))
	c.Paths.Configs = abs(c.Paths.Configs, filepath.Join(root, "client", "src", "themes"))
	c.Paths.BaseTemplate = abs(c.Paths.BaseTemplate, filepath.Join(c.Paths.Configs, "default.json"))
	c.Paths.Artifacts = abs(c.Paths.Artifacts, filepath.Join(root, "screenshots"))
	c.Log.File.Dir = abs(c.Log.File.Dir, "")

	switch c.Store.DSN {
	case storeDSNUnset:
		c.Store.DSN = filepath.Join(root, ".themerig", "history.db")
	case "":
	default:
		if !strings.Contains(c.Store.DSN, "://") {
			c.Store.DSN = abs(c.Store.DSN, "")
		}
	}

	if !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range []string{supervisor.Backend, supervisor.Frontend} {
		s := c.Backend
		if name == supervisor.Frontend {
			s = c.Frontend
		}
		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command is required", name))
		}
		if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.url %q is not an absolute URL", name, s.URL))
		}
		if s.StartupTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s.startup_timeout must be positive", name))
		}
		if s.StopGrace < 0 {
			errs = append(errs, fmt.Errorf("%s.stop_grace must not be negative", name))
		}
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 {
		errs = append(errs, errors.New("health.interval and health.timeout must be positive"))
	}
	if c.Browser.PageTimeout <= 0 {
		errs = append(errs, errors.New("browser.page_timeout must be positive"))
	}
	if c.Browser.SlowMo < 0 {
		errs = append(errs, errors.New("browser.slow_mo must not be negative"))
	}
	return errors.Join(errs...)
}

// GlobalEnv merges the environment handed to both services: the OS
// environment when use_os_env is set, then env_files in order, then the
// top-level env list.
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	if c.UseOSEnv {
		out = append(out, os.Environ()...)
	}
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.ProjectRoot, p)
		}
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// LoadEnvFile parses a .env file of KEY=VALUE lines. Blank lines and lines
// starting with # are skipped; surrounding quotes and a leading "export"
// are removed.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, val, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if n := len(val); n >= 2 && (val[0] == '"' && val[n-1] == '"' || val[0] == '\'' && val[n-1] == '\'') {
			val = val[1 : n-1]
		}
		out = append(out, k+"="+val)
	}
	return out, nil
}

// Service returns the supervisor settings for backend or frontend.
func (c *Config) Service(name string) supervisor.ServiceConfig {
	s := c.Backend
	if name == supervisor.Frontend {
		s = c.Frontend
	}
	return supervisor.ServiceConfig{
		Spec: process.Spec{
			Name:    name,
			Command: s.Command,
			WorkDir: s.WorkDir,
			Env:     s.Env,
			Log:     c.Log,
		},
		URL:            s.URL,
		StartupTimeout: s.StartupTimeout,
		StopGrace:      s.StopGrace,
	}
}

// Workflow returns the browser runner settings.
func (c *Config) Workflow() workflow.BrowserConfig {
	return workflow.BrowserConfig{
		FrontendURL:  c.Frontend.URL,
		Username:     c.Credentials.Username,
		Password:     c.Credentials.Password,
		ArtifactsDir: c.Paths.Artifacts,
		Browser: workflow.BrowserOptions{
			Headless:    c.Browser.Headless,
			SlowMo:      c.Browser.SlowMo,
			PageTimeout: c.Browser.PageTimeout,
			Bin:         c.Browser.Bin,
		},
	}
}
