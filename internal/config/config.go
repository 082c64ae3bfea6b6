// Package config handles loading and validating docchat configuration.
//
// Configuration comes from three layers, applied in order:
//  1. built-in defaults (Default)
//  2. an optional YAML file, then DOCCHAT_-prefixed env overrides (koanf)
//  3. the fixed provider environment contract: OPENAI_API_KEY,
//     DEEPSEEK_API_URL, PORT and friends (caarlos0/env)
//
// Everything is validated eagerly in Load so a misconfigured process
// fails at startup instead of on the first request.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	koanfenv "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/docchat/internal/apperr"
)

// envPrefix marks the env vars that override file-based settings.
const envPrefix = "DOCCHAT_"

// Config is the top-level configuration for the docchat gateway.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Uploads  UploadsConfig  `koanf:"uploads"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`

	// Providers is populated from the provider environment contract,
	// never from the YAML file, so API keys can't end up in a checked-in
	// config.yaml.
	Providers ProvidersConfig `koanf:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// UploadsConfig controls where uploaded PDFs live and how long they stay.
type UploadsConfig struct {
	Dir string `koanf:"dir"`

	// MaxBytes caps a single upload. 0 means unlimited.
	MaxBytes int64 `koanf:"max_bytes"`

	// Retention is how long an upload is kept before the janitor deletes
	// it. 0 disables deletion.
	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// UpstreamConfig holds settings for outbound provider calls.
type UpstreamConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// CacheConfig sizes the extracted-text cache.
type CacheConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

// ProvidersConfig is the provider half of the environment contract.
type ProvidersConfig struct {
	OpenAI   OpenAIConfig
	DeepSeek DeepSeekConfig
}

// OpenAIConfig configures the primary ("gpt") provider.
type OpenAIConfig struct {
	APIKey string `env:"OPENAI_API_KEY,required,notEmpty"`
	APIURL string `env:"OPENAI_API_URL,required,notEmpty"`
	Proxy  string `env:"CHATGPT_PROXY"`
	Model  string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
}

// DeepSeekConfig configures the secondary ("deepseek") provider.
type DeepSeekConfig struct {
	APIKey string `env:"DEEPSEEK_API_KEY,required,notEmpty"`
	APIURL string `env:"DEEPSEEK_API_URL,required,notEmpty"`
	Model  string `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`
}

// environment is everything read by env.Parse.
type environment struct {
	Providers ProvidersConfig

	// Port overrides server.port when set.
	Port int `env:"PORT"`
}

// Default returns the settings used when neither the file nor the
// environment say otherwise.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Uploads: UploadsConfig{
			Dir:           "uploads",
			MaxBytes:      20 << 20,
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Upstream: UpstreamConfig{
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 64,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file doesn't exist), DOCCHAT_ env overrides and
// the provider environment contract, then validates it.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, apperr.New(apperr.KindConfiguration, "config.Load", fmt.Errorf("loading config file: %w", err))
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, apperr.New(apperr.KindConfiguration, "config.Load", fmt.Errorf("stat config file: %w", err))
		}
	}

	// DOCCHAT_UPLOADS_MAX_BYTES -> uploads.max_bytes. Only the first
	// underscore is a section separator; the rest belong to the key.
	if err := k.Load(koanfenv.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "config.Load", fmt.Errorf("loading env vars: %w", err))
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "config.Load", fmt.Errorf("unmarshaling config: %w", err))
	}

	var e environment
	if err := env.Parse(&e); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "config.Load", fmt.Errorf("parsing provider environment: %w", err))
	}
	cfg.Providers = e.Providers
	if e.Port != 0 {
		cfg.Server.Port = e.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that can't be expressed as struct tags.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Uploads.Dir) == "" {
		errs = append(errs, errors.New("uploads.dir must not be empty"))
	}
	if c.Uploads.MaxBytes < 0 {
		errs = append(errs, errors.New("uploads.max_bytes must not be negative"))
	}
	if c.Uploads.Retention > 0 && c.Uploads.SweepInterval <= 0 {
		errs = append(errs, errors.New("uploads.sweep_interval must be positive when retention is enabled"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}

	if err := checkURL("OPENAI_API_URL", c.Providers.OpenAI.APIURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("DEEPSEEK_API_URL", c.Providers.DeepSeek.APIURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Providers.OpenAI.Proxy != "" {
		if err := checkURL("CHATGPT_PROXY", c.Providers.OpenAI.Proxy, "http", "https", "socks5"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Providers.OpenAI.Model == "" || c.Providers.DeepSeek.Model == "" {
		errs = append(errs, errors.New("provider model names must not be empty"))
	}

	if len(errs) > 0 {
		return apperr.New(apperr.KindConfiguration, "config.Validate", errors.Join(errs...))
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: %q has no host", name, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", name, u.Scheme)
}
