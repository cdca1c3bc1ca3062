// Package server exposes the merged configuration, the config repositories
// and plugin settings over HTTP, next to the webhook endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rzbill/cruise/pkg/log"
)

// APIServer serves the HTTP API.
type APIServer struct {
	options *Options
	logger  log.Logger
	router  chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New creates a new API server with the given options.
func New(opts ...Option) (*APIServer, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = log.GetDefaultLogger()
	}
	if options.EnableTLS && (options.TLSCertFile == "" || options.TLSKeyFile == "") {
		return nil, errors.New("tls requires a certificate and a key file")
	}

	s := &APIServer{
		options: options,
		logger:  options.Logger.WithComponent("api-server"),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *APIServer) Handler() http.Handler { return s.router }

func (s *APIServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.health)
	r.Get("/api/version", s.version)
	if s.options.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.options.Metrics.Handler())
	}

	if s.options.Webhooks != nil {
		s.options.Webhooks.Register(r)
	}

	o := s.options
	if o.ConfigRepos == nil && o.Plugins == nil && o.PluginSettings == nil {
		return r
	}
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(apiKey(s.options.APIKeys, s.logger))

		if s.options.ConfigRepos != nil {
			r.Get("/config", s.getConfig)
			r.Get("/config_repos", s.listConfigRepos)
			r.Get("/config_repos/{id}", s.getConfigRepo)
			r.Get("/config_repos/{id}/history", s.configRepoHistory)
			r.Post("/config_repos/{id}/refresh", s.refreshConfigRepo)
		}
		if s.options.Plugins != nil {
			r.Get("/plugins", s.listPlugins)
		}
		if s.options.PluginSettings != nil {
			r.Get("/plugin_settings/{id}", s.getPluginSettings)
			r.Put("/plugin_settings/{id}", s.putPluginSettings)
			r.Get("/plugin_settings/{id}/history", s.pluginSettingsHistory)
		}
	})
	return r
}

// Start listens and serves in the background.
func (s *APIServer) Start() error {
	lis, err := net.Listen("tcp", s.options.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.HTTPAddr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *APIServer) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}
	s.listener = lis
	s.httpServer = &http.Server{Handler: s.router}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("Starting HTTP server", log.Str("address", lis.Addr().String()), log.Bool("tls", s.options.EnableTLS))
		var err error
		if s.options.EnableTLS {
			err = s.httpServer.ServeTLS(lis, s.options.TLSCertFile, s.options.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(lis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", log.Err(err))
		}
	}()
	return nil
}

// Addr returns the listen address once started.
func (s *APIServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully.
func (s *APIServer) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}
