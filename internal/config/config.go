// Package config loads control panel settings from an optional YAML file, an
// optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
)

const (
	DefaultPort        = "3000"
	DefaultHopXTimeout = 5 * time.Minute
)

// ErrMissingAPIKey is reported the first time HopX credentials are needed.
var ErrMissingAPIKey = errors.New("Missing HOPX_API_KEY environment variable. Set it in your server environment before using the control panel.")

type Config struct {
	Listen     string     `yaml:"listen"`
	LogLevel   string     `yaml:"log_level"`
	LogFormat  string     `yaml:"log_format"`
	StaticDirs []string   `yaml:"static_dirs"`
	HopX       HopXConfig `yaml:"hopx"`
	Auth       AuthConfig `yaml:"auth"`
	Terminal   TermConfig `yaml:"terminal"`
}

type HopXConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Timeout bounds one upstream HTTP request. Foreground commands block for
	// their whole run, so keep it above the longest command timeout.
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// Token, when set, is required on /api and /ws requests.
	Token string `yaml:"token"`
}

type TermConfig struct {
	// AllowedOrigins for the terminal websocket; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Credentials is what a HopX client needs.
type Credentials struct {
	APIKey  string
	BaseURL string
}

func Default() Config {
	return Config{
		Listen:     ":" + DefaultPort,
		LogLevel:   "info",
		LogFormat:  "text",
		StaticDirs: []string{"client-dist", "public"},
		HopX:       HopXConfig{BaseURL: hopx.DefaultBaseURL, Timeout: DefaultHopXTimeout},
	}
}

// Load reads path (a missing file is fine), then .env files, then the
// environment. An empty path skips the YAML step.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := loadDotenv(envFiles); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadDotenv never overrides variables already set in the environment.
func loadDotenv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("HOPX_API_KEY"); ok {
		c.HopX.APIKey = v
	}
	if v := os.Getenv("HOPX_BASE_URL"); v != "" {
		c.HopX.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("PANEL_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("PANEL_ALLOWED_ORIGINS"); v != "" {
		c.Terminal.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Terminal.AllowedOrigins = append(c.Terminal.AllowedOrigins, origin)
			}
		}
	}
}

// HasAPIKey reports whether credentials are configured.
func (c Config) HasAPIKey() bool {
	return strings.TrimSpace(c.HopX.APIKey) != ""
}

// Credentials returns the HopX credentials or ErrMissingAPIKey.
func (c Config) Credentials() (Credentials, error) {
	if !c.HasAPIKey() {
		return Credentials{}, ErrMissingAPIKey
	}
	base := c.HopX.BaseURL
	if base == "" {
		base = hopx.DefaultBaseURL
	}
	return Credentials{APIKey: c.HopX.APIKey, BaseURL: base}, nil
}
