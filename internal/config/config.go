// Package config loads changebot's settings from defaults, an optional
// YAML file and CHANGEBOT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHANGEBOT_"

type Config struct {
	Port           string `koanf:"port"`
	AppID          string `koanf:"app_id"`
	PrivateKey     string `koanf:"private_key"`
	PrivateKeyPath string `koanf:"private_key_path"`
	WebhookSecret  string `koanf:"webhook_secret"`
	// BotLogin overrides the comment author otherwise derived from the
	// App's slug or the token's user.
	BotLogin        string `koanf:"bot_login"`
	ChangelogPath   string `koanf:"changelog_path"`
	BootstrapBranch string `koanf:"bootstrap_branch"`
	APIBaseURL      string `koanf:"api_base_url"`
	HTMLBaseURL     string `koanf:"html_base_url"`
	Concurrency     int    `koanf:"concurrency"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":             "8080",
		"changelog_path":   "CHANGELOG.md",
		"bootstrap_branch": "changebot/add-changelog",
		"html_base_url":    "https://github.com",
		"concurrency":      4,
	}
}

// Load reads the configuration. path names an optional YAML file; when
// empty, $CHANGEBOT_CONFIG is used if set. PORT, as set by most hosting
// platforms, overrides the default port but not CHANGEBOT_PORT.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		_ = k.Set("port", port)
	}

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envTransform converts environment variable names to config keys.
// Example: CHANGEBOT_WEBHOOK_SECRET -> webhook_secret
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, envPrefix))
}

// ValidateServer reports every setting the webhook server cannot run
// without.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.AppID == "" {
		errs = append(errs, errors.New("app_id is required"))
	}
	if c.PrivateKey == "" && c.PrivateKeyPath == "" {
		errs = append(errs, errors.New("private_key or private_key_path is required"))
	}
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook_secret is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

// HasAppCredentials reports whether the App can authenticate.
func (c *Config) HasAppCredentials() bool {
	return c.AppID != "" && (c.PrivateKey != "" || c.PrivateKeyPath != "")
}

// PrivateKeyPEM returns the App's private key, read from
// private_key_path when private_key is not set inline.
func (c *Config) PrivateKeyPEM() ([]byte, error) {
	if c.PrivateKey != "" {
		return []byte(c.PrivateKey), nil
	}
	if c.PrivateKeyPath == "" {
		return nil, errors.New("no private key configured")
	}
	data, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}
