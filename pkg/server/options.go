package server

import (
	"context"
	"time"

	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/metrics"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/webhook"
)

// ConfigRepos is the part of the config repository service the API serves.
type ConfigRepos interface {
	webhook.Refresher
	Current() *configrepo.State
	Failures() []merge.ValidationFailure
	Repos() []configrepo.Repo
	Status(id string) (configrepo.RepoStatus, bool)
	Refresh(id string) error
	History(ctx context.Context, id string) (known, valid []string, err error)
}

// PluginSettings is the part of the settings service the API serves.
type PluginSettings interface {
	Metadata(pluginID string) (settings.Metadata, bool)
	Get(ctx context.Context, pluginID string) (*settings.PluginSettings, error)
	Save(ctx context.Context, ps *settings.PluginSettings) error
	History(ctx context.Context, pluginID string) ([]*settings.PluginSettings, error)
}

// Plugins lists the loaded plugins.
type Plugins interface {
	Plugins() []plugin.Descriptor
}

// Options defines configuration options for the API server.
type Options struct {
	// HTTPAddr is the address to listen on.
	HTTPAddr string

	TLSCertFile string
	TLSKeyFile  string
	EnableTLS   bool

	// APIKeys guard the admin endpoints. Empty disables authentication.
	APIKeys []string

	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration

	ConfigRepos    ConfigRepos
	PluginSettings PluginSettings
	Plugins        Plugins
	Webhooks       *webhook.Handler
	Cipher         crypto.Cipher
	// Metrics is served on /metrics without authentication when set.
	Metrics *metrics.Metrics

	Logger log.Logger
}

// DefaultOptions returns the default options for the API server.
func DefaultOptions() *Options {
	return &Options{
		HTTPAddr:        ":8153",
		ShutdownTimeout: 5 * time.Second,
		Logger:          log.GetDefaultLogger(),
	}
}

// Option is a function that configures the API server options.
type Option func(*Options)

// WithHTTPAddr sets the listen address.
func WithHTTPAddr(addr string) Option {
	return func(o *Options) {
		o.HTTPAddr = addr
	}
}

// WithTLS enables TLS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(o *Options) {
		o.TLSCertFile = certFile
		o.TLSKeyFile = keyFile
		o.EnableTLS = true
	}
}

// WithAuth guards the admin endpoints with apiKeys.
func WithAuth(apiKeys []string) Option {
	return func(o *Options) {
		o.APIKeys = apiKeys
	}
}

// WithConfigRepos serves the config repository endpoints.
func WithConfigRepos(c ConfigRepos) Option {
	return func(o *Options) {
		o.ConfigRepos = c
	}
}

// WithPluginSettings serves the plugin settings endpoints. Secure values of
// new settings are encrypted with cipher.
func WithPluginSettings(s PluginSettings, cipher crypto.Cipher) Option {
	return func(o *Options) {
		o.PluginSettings = s
		o.Cipher = cipher
	}
}

// WithPlugins serves the plugin listing.
func WithPlugins(p Plugins) Option {
	return func(o *Options) {
		o.Plugins = p
	}
}

// WithWebhooks serves the webhook endpoint.
func WithWebhooks(h *webhook.Handler) Option {
	return func(o *Options) {
		o.Webhooks = h
	}
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
