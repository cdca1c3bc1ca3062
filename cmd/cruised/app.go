package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rzbill/cruise/internal/config"
	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/metrics"
	"github.com/rzbill/cruise/pkg/partial"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension/artifact"
	"github.com/rzbill/cruise/pkg/plugin/extension/authorization"
	"github.com/rzbill/cruise/pkg/plugin/extension/packagematerial"
	"github.com/rzbill/cruise/pkg/plugin/extension/scm"
	"github.com/rzbill/cruise/pkg/plugin/metadata"
	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/plugin/transport"
	"github.com/rzbill/cruise/pkg/server"
	"github.com/rzbill/cruise/pkg/store"
	"github.com/rzbill/cruise/pkg/store/repos"
	"github.com/rzbill/cruise/pkg/webhook"
)

// app is the wired server.
type app struct {
	cfg    *config.Config
	logger log.Logger

	store       store.Store
	remote      *transport.GRPCTransport
	inProcess   *transport.InProcess
	plugins     *plugin.Manager
	configRepos *configrepo.Service
	api         *server.APIServer
}

func newApp(cfg *config.Config, logger log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := os.MkdirAll(cfg.StoreDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logger.Info("Initializing state store", log.Str("path", cfg.StoreDir()))
	core, err := store.New(store.StoreOptions{Path: cfg.StoreDir(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	a.store = core

	var cipher crypto.Cipher
	if cfg.Secret.Encryption.Enabled {
		c, err := crypto.NewAESCipherFromOptions(*cfg.KEKOptions())
		if err != nil {
			_ = core.Close()
			return nil, fmt.Errorf("failed to load secret encryption key: %w", err)
		}
		cipher = c
	} else {
		logger.Warn("Secret encryption disabled; secure configuration values cannot be used")
	}

	endpoints := make([]transport.Endpoint, 0, len(cfg.Plugins.Endpoints))
	for _, p := range cfg.Plugins.Endpoints {
		endpoints = append(endpoints, transport.Endpoint{PluginID: p.ID, Address: p.Address, Token: p.Token, Timeout: p.Timeout})
	}
	a.remote = transport.NewGRPCTransport(endpoints, transport.WithClientLogger(logger))
	a.inProcess = transport.NewInProcess(a.remote)
	var met *metrics.Metrics
	if cfg.Server.Metrics {
		met = metrics.New()
	}
	a.plugins = plugin.NewManager(a.inProcess, plugin.WithLogger(logger), plugin.WithMetrics(met))

	scmExt := scm.New(a.plugins)
	packageExt := packagematerial.New(a.plugins)
	authExt := authorization.New(a.plugins)
	artifactExt := artifact.New(a.plugins)

	scmStore := metadata.NewSCMStore()
	packageStore := metadata.NewPackageStore()
	a.plugins.AddListener(metadata.NewSCMLoader(scmExt, scmStore, metadata.WithLogger(logger)))
	a.plugins.AddListener(metadata.NewPackageLoader(packageExt, packageStore, metadata.WithLogger(logger)))
	a.plugins.AddListener(metadata.NewAuthorizationLoader(authExt, metadata.NewAuthorizationStore(), metadata.WithLogger(logger)))
	a.plugins.AddListener(metadata.NewArtifactLoader(artifactExt, metadata.NewArtifactStore(), metadata.WithLogger(logger)))

	settingsLoader := settings.NewMetadataLoader(settings.NewMetadataStore(), logger, scmExt, packageExt, authExt, artifactExt)
	a.plugins.AddListener(settingsLoader)
	settingsService := settings.NewService(settingsLoader, repos.NewPluginSettingsRepo(core), cipher, logger)

	a.configRepos, err = configrepo.New(configrepo.Options{
		MainFile: cfg.ConfigRepo.MainFile,
		Repos:    cfg.ConfigRepo.Repos,
		Fetcher: configrepo.Fetchers{
			configrepo.TypeDir: configrepo.DirFetcher{},
			configrepo.TypeGit: &configrepo.GitFetcher{Root: cfg.CheckoutDir(), Tokens: cfg.ConfigRepo.Tokens},
		},
		Cache: partial.NewCache(repos.NewPartialConfigRepo(core), logger),
		Validation: merge.ValidationContext{
			SCMSchemas:      scmStore,
			PackageMetadata: packageStore,
			Cipher:          cipher,
		},
		Schedule: cfg.ConfigRepo.Schedule,
		Watch:    cfg.ConfigRepo.Watch,
		Debounce: cfg.ConfigRepo.Debounce,
		Workers:  cfg.ConfigRepo.Workers,
		Logger:   logger,
		Metrics:  met,
	})
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	hooks := webhook.NewHandler(webhook.Secrets{
		GitHub:    cfg.Webhooks.GitHubSecret,
		GitLab:    cfg.Webhooks.GitLabToken,
		Bitbucket: cfg.Webhooks.BitbucketSecret,
	}, a.configRepos, logger)

	opts := []server.Option{
		server.WithHTTPAddr(cfg.Server.HTTPAddr),
		server.WithLogger(logger),
		server.WithConfigRepos(a.configRepos),
		server.WithPluginSettings(settingsService, cipher),
		server.WithPlugins(a.plugins),
		server.WithWebhooks(hooks),
	}
	if met != nil {
		opts = append(opts, server.WithMetrics(met))
	}
	if cfg.Server.TLS.Enabled {
		opts = append(opts, server.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	if len(cfg.Server.APIKeys) > 0 {
		opts = append(opts, server.WithAuth(cfg.Server.APIKeys))
		logger.Info("Authentication enabled", log.Int("numKeys", len(cfg.Server.APIKeys)))
	} else {
		logger.Warn("Authentication disabled")
	}
	a.api, err = server.New(opts...)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	return a, nil
}

// start loads the configured plugins, then the configuration, then serves.
// Plugins come first so their metadata is known when partials are
// validated.
func (a *app) start(ctx context.Context) error {
	if err := a.auditStateChanges(ctx); err != nil {
		return err
	}
	for _, p := range a.cfg.Plugins.Endpoints {
		a.plugins.Load(ctx, plugin.Descriptor{ID: p.ID, Version: p.Version, Extensions: p.Extensions})
	}
	if err := a.configRepos.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config repositories: %w", err)
	}
	if err := a.api.Start(); err != nil {
		a.configRepos.Stop()
		return err
	}
	return nil
}

// auditStateChanges logs every write to the persisted partials and plugin
// settings until ctx is done.
func (a *app) auditStateChanges(ctx context.Context) error {
	logger := a.logger.WithComponent("audit")
	for _, rt := range []store.ResourceType{store.ResourcePartialConfig, store.ResourcePluginSettings} {
		events, err := a.store.Watch(ctx, rt, "")
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", rt, err)
		}
		go func() {
			for e := range events {
				logger.Info("State changed",
					log.Str("type", string(e.Type)),
					log.Str("resource", string(e.ResourceType)),
					log.Str("namespace", e.Namespace),
					log.Str("name", e.Name),
					log.Str("source", string(e.Source)))
			}
		}()
	}
	return nil
}

func (a *app) stop() {
	if err := a.api.Stop(); err != nil {
		a.logger.Error("Failed to stop API server", log.Err(err))
	}
	a.configRepos.Stop()
	if err := a.remote.Close(); err != nil {
		a.logger.Warn("Failed to close plugin connections", log.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close state store", log.Err(err))
	}
}
