package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rzbill/cruise/internal/config"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/version"
)

var (
	configFile    = flag.String("config", "", "Configuration file path")
	httpAddr      = flag.String("http-addr", "", "HTTP server address")
	dataDir       = flag.String("data-dir", "", "Data directory")
	mainFile      = flag.String("main-file", "", "Main configuration file merged with config repository partials")
	logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	debugLogLevel = flag.Bool("debug", false, "Enable debug mode (shorthand for --log-level=debug)")
	logFormat     = flag.String("log-format", "", "Log format (text, json)")
	apiKeys       = flag.String("api-keys", "", "Comma-separated list of API keys (empty to disable auth)")
	showHelp      = flag.Bool("help", false, "Show help")
	showVer       = flag.Bool("version", false, "Show version")
)

// applyFlags overrides cfg with the flags set on the command line. Flags win
// over environment variables and the config file.
func applyFlags(cfg *config.Config, set map[string]bool) {
	if set["http-addr"] {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if set["data-dir"] {
		cfg.DataDir = *dataDir
	}
	if set["main-file"] {
		cfg.ConfigRepo.MainFile = *mainFile
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}
	if *debugLogLevel {
		cfg.Log.Level = "debug"
	}
	if set["log-format"] {
		cfg.Log.Format = *logFormat
	}
	if set["api-keys"] {
		cfg.Server.APIKeys = splitCSV(*apiKeys)
	}
}

func newLogger(cfg config.Log) log.Logger {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		fmt.Printf("Invalid log level: %s, defaulting to 'info'\n", cfg.Level)
		level = log.InfoLevel
	}
	opts := []log.LoggerOption{log.WithLevel(level), log.WithRedaction(log.SecretKeys...)}
	switch strings.ToLower(cfg.Format) {
	case "json":
		opts = append(opts, log.WithFormatter(&log.JSONFormatter{}))
	default:
		opts = append(opts, log.WithFormatter(&log.TextFormatter{}))
	}
	return log.NewLogger(opts...)
}

func main() {
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVer {
		fmt.Println(version.Info())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	log.SetDefaultLogger(logger)
	logger.Info("Starting Cruise Server", log.Str("version", version.Version))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize server", log.Err(err))
		os.Exit(1)
	}
	if err := a.start(ctx); err != nil {
		logger.Error("Failed to start server", log.Err(err))
		a.stop()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	a.stop()
	logger.Info("Cruise server stopped")
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
