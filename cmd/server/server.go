// Package server implements the `rtpscope serve` subcommand: the HTTP API
// over a log directory and the upload store.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/saveenergy/rtpscope/internal/analysis"
	"github.com/saveenergy/rtpscope/internal/api"
	"github.com/saveenergy/rtpscope/internal/config"
	"github.com/saveenergy/rtpscope/internal/eventlog"
	"github.com/saveenergy/rtpscope/internal/logging"
	"github.com/saveenergy/rtpscope/internal/logstore"
	"github.com/saveenergy/rtpscope/internal/websocket"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2

	shutdownTimeout = 30 * time.Second
	storeFileName   = "logs.db"
)

// Run parses flags, loads configuration and serves until SIGINT or SIGTERM.
func Run(args []string, version string) int {
	cfg, code, ok := loadConfig(args)
	if !ok {
		return code
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Init(level)
	logging.GetLogger().SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, version); err != nil {
		logging.Error("Server failed", logging.Err(err))
		return exitFailure
	}
	return exitSuccess
}

// loadConfig layers defaults, CONFIG_FILE and the environment, the --config
// file, then explicitly set flags.
func loadConfig(args []string) (*config.Config, int, bool) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "rtpscope serve: %v\n", err)
		return nil, exitUsage, false
	}

	fs := flag.NewFlagSet("rtpscope serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configFile := fs.String("config", "", "YAML config file (applied before flags)")
	port := fs.String("port", cfg.Port, "HTTP port")
	logDir := fs.String("log-dir", cfg.LogDir, "Directory of JSONL logs (with optional index.json)")
	dataDir := fs.String("data-dir", cfg.DataDir, "Directory for the upload store")
	noStore := fs.Bool("no-store", !cfg.StoreEnabled, "Disable uploads and the SQLite store")
	window := fs.Duration("window", cfg.RateWindow, "Default rate window")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, exitSuccess, false
		}
		return nil, exitUsage, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "rtpscope serve: unexpected argument %q\n", fs.Arg(0))
		return nil, exitUsage, false
	}

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "rtpscope serve: %v\n", err)
			return nil, exitUsage, false
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "log-dir":
			cfg.LogDir = *logDir
		case "data-dir":
			cfg.DataDir = *dataDir
		case "no-store":
			cfg.StoreEnabled = !*noStore
		case "window":
			cfg.RateWindow = *window
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rtpscope serve: invalid configuration: %v\n", err)
		return nil, exitUsage, false
	}
	return cfg, exitSuccess, true
}

// app is the wired server minus its listener.
type app struct {
	handler http.Handler
	store   *logstore.Store
	feed    *websocket.Server
}

func newApp(cfg *config.Config, version string) (*app, error) {
	var sources []eventlog.Source
	if cfg.LogDir != "" {
		sources = append(sources, eventlog.NewDirSource(cfg.LogDir))
	}

	a := &app{}
	if cfg.StoreEnabled {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err := logstore.New(filepath.Join(cfg.DataDir, storeFileName), cfg.MaxStoredLogs)
		if err != nil {
			return nil, fmt.Errorf("open log store: %w", err)
		}
		a.store = store
		sources = append(sources, store)
	}

	analyzer := analysis.New(analysis.Options{
		Timeout:       cfg.AnalysisTimeout,
		RateWindow:    cfg.RateWindow,
		MaxConcurrent: cfg.MaxConcurrentAnalyses,
	}, sources...)

	handler := api.NewHandler(analyzer)
	handler.SetVersion(version)

	a.feed = websocket.NewServer()
	a.feed.SetAllowedOrigins(cfg.AllowedOrigins)
	a.feed.SetPingInterval(cfg.WebSocketPingInterval)

	router := api.NewRouter(handler, cfg)
	router.SetRateLimiter(cfg)
	if a.store != nil {
		handler.SetStore(a.store)
		handler.SetNotifier(a.feed)
		router.SetFeedHandler(a.feed.HandleFeed)
	}
	a.handler = router.SetupRoutes()
	return a, nil
}

func (a *app) Close() {
	a.feed.Close()
	if a.store != nil {
		a.store.Close()
	}
}

func serve(ctx context.Context, cfg *config.Config, version string) error {
	a, err := newApp(cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	pprofServer := startPprofServer(cfg)
	defer shutdownPprofServer(pprofServer, 5*time.Second)
	stopStats := startRuntimeStatsLogger(cfg)
	defer stopStats()

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server starting",
			logging.String("address", cfg.Address()),
			logging.String("log_dir", cfg.LogDir),
			logging.Field{Key: "store", Value: cfg.StoreEnabled},
			logging.Field{Key: "rate_window", Value: cfg.RateWindow})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown error", logging.Err(err))
	}
	logging.Info("Server stopped")
	return nil
}
