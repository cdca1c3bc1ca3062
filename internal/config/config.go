package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/spf13/viper"
)

var (
	// DefaultHTTPPort is the default HTTP port of the server.
	DefaultHTTPPort = 8153

	// EnvPrefix prefixes every environment override, e.g. CRUISE_DATA_DIR.
	EnvPrefix = "CRUISE"
)

type TLS struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file" validate:"required_if=Enabled true"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_address" yaml:"http_address" validate:"required"`
	TLS             TLS           `mapstructure:"tls" yaml:"tls"`
	APIKeys         []string      `mapstructure:"api_keys" yaml:"api_keys"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	// Metrics serves Prometheus metrics on /metrics.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

type SecretEncryption struct {
	Enabled bool      `mapstructure:"enabled" yaml:"enabled"`
	KEK     KEKConfig `mapstructure:"kek" yaml:"kek"`
}

type KEKConfig struct {
	Source string `mapstructure:"source" yaml:"source" validate:"oneof=file env generated"`
	File   string `mapstructure:"file" yaml:"file"`
	Env    string `mapstructure:"env" yaml:"env"`
}

// Plugin is a plugin served by an external plugin host.
type Plugin struct {
	ID      string        `mapstructure:"id" yaml:"id" validate:"required"`
	Version string        `mapstructure:"version" yaml:"version"`
	Address string        `mapstructure:"address" yaml:"address" validate:"required"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	// Extensions maps extension names to the protocol versions the plugin
	// speaks.
	Extensions map[string][]string `mapstructure:"extensions" yaml:"extensions" validate:"required,min=1"`
}

type Plugins struct {
	Endpoints []Plugin `mapstructure:"endpoints" yaml:"endpoints" validate:"dive"`
}

type ConfigRepo struct {
	// MainFile is the local configuration file merged under every partial.
	MainFile string            `mapstructure:"main_file" yaml:"main_file"`
	Repos    []configrepo.Repo `mapstructure:"repos" yaml:"repos" validate:"dive"`
	// Schedule is a cron expression; empty disables polling.
	Schedule string        `mapstructure:"schedule" yaml:"schedule"`
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gte=0"`
	Workers  int           `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
	// Tokens maps git repo ids to HTTP access tokens.
	Tokens map[string]string `mapstructure:"tokens" yaml:"tokens"`
}

type Webhooks struct {
	GitHubSecret    string `mapstructure:"github_secret" yaml:"github_secret"`
	GitLabToken     string `mapstructure:"gitlab_token" yaml:"gitlab_token"`
	BitbucketSecret string `mapstructure:"bitbucket_secret" yaml:"bitbucket_secret"`
}

type Config struct {
	Server  Server `mapstructure:"server" yaml:"server"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	Log     Log    `mapstructure:"log" yaml:"log"`
	Secret  struct {
		Encryption SecretEncryption `mapstructure:"encryption" yaml:"encryption"`
	} `mapstructure:"secret" yaml:"secret"`
	Plugins    Plugins    `mapstructure:"plugins" yaml:"plugins"`
	ConfigRepo ConfigRepo `mapstructure:"config_repo" yaml:"config_repo"`
	Webhooks   Webhooks   `mapstructure:"webhooks" yaml:"webhooks"`
}

func Default() *Config {
	cfg := &Config{
		Server: Server{
			HTTPAddr:        fmt.Sprintf(":%d", DefaultHTTPPort),
			ShutdownTimeout: 5 * time.Second,
		},
		DataDir: defaultDataDir(),
		Log:     Log{Level: "info", Format: "text"},
		ConfigRepo: ConfigRepo{
			Schedule: "@every 1m",
			Debounce: 500 * time.Millisecond,
			Workers:  2,
		},
	}
	// The KEK file path is derived from DataDir at runtime so it can be
	// generated on first run.
	cfg.Secret.Encryption = SecretEncryption{Enabled: true, KEK: KEKConfig{Source: "file"}}
	return cfg
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cruise")
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return "./data"
	}
	return filepath.Join(home, ".cruise")
}

// StoreDir is where the state store lives.
func (c *Config) StoreDir() string { return filepath.Join(c.DataDir, "store") }

// CheckoutDir holds the clones of git config repos.
func (c *Config) CheckoutDir() string { return filepath.Join(c.DataDir, "checkouts") }

// KEKOptions returns how the server secret is loaded. A file KEK without an
// explicit path lives in the data directory and is generated when missing.
func (c *Config) KEKOptions() *crypto.KEKOptions {
	kek := c.Secret.Encryption.KEK
	opts := &crypto.KEKOptions{
		Source:   crypto.KEKSource(kek.Source),
		FilePath: kek.File,
		EnvVar:   kek.Env,
	}
	if opts.EnvVar == "" {
		opts.EnvVar = crypto.DefaultKEKEnvVar
	}
	if opts.Source == crypto.KEKSourceFile && opts.FilePath == "" {
		opts.FilePath = filepath.Join(c.DataDir, "kek.b64")
		opts.GenerateIfMissing = true
	}
	if opts.Source == crypto.KEKSourceGenerated {
		opts.GenerateIfMissing = true
	}
	return opts
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	seen := map[string]bool{}
	for _, r := range c.ConfigRepo.Repos {
		if seen[r.ID] {
			return fmt.Errorf("invalid configuration: duplicate config repo id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Kind() == configrepo.TypeDir && r.Dir == "" {
			return fmt.Errorf("invalid configuration: config repo %q needs a dir", r.ID)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.http_address", d.Server.HTTPAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.metrics", false)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("secret.encryption.enabled", d.Secret.Encryption.Enabled)
	v.SetDefault("secret.encryption.kek.source", d.Secret.Encryption.KEK.Source)
	v.SetDefault("secret.encryption.kek.file", "")
	v.SetDefault("secret.encryption.kek.env", "")
	v.SetDefault("config_repo.main_file", "")
	v.SetDefault("config_repo.schedule", d.ConfigRepo.Schedule)
	v.SetDefault("config_repo.watch", false)
	v.SetDefault("config_repo.debounce", d.ConfigRepo.Debounce)
	v.SetDefault("config_repo.workers", d.ConfigRepo.Workers)
	v.SetDefault("webhooks.github_secret", "")
	v.SetDefault("webhooks.gitlab_token", "")
	v.SetDefault("webhooks.bitbucket_secret", "")
}

// Load reads path, or cruise.yaml from the working directory and
// /etc/cruise when path is empty, applies CRUISE_* environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cruise")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cruise/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
