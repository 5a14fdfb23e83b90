package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-pac/internal/pac/common/clock"
	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/config"
	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/gateways/feed"
	"github.com/haukened/rr-pac/internal/pac/gateways/httpapi"
	"github.com/haukened/rr-pac/internal/pac/gateways/platform"
	"github.com/haukened/rr-pac/internal/pac/repos/ignore"
	"github.com/haukened/rr-pac/internal/pac/repos/registry"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
	boltstate "github.com/haukened/rr-pac/internal/pac/repos/state/bolt"
	redisstate "github.com/haukened/rr-pac/internal/pac/repos/state/redis"
	"github.com/haukened/rr-pac/internal/pac/services/policy"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-pacd"

	defaultShutdownTimeout = 10 * time.Second
	defaultConnectTimeout  = 5 * time.Second
)

// Application holds all the components of the PAC daemon
type Application struct {
	config   *config.AppConfig
	state    state.Store
	ignore   *ignore.Store
	registry *registry.Registry
	engine   *policy.Engine
	listener net.Listener
	server   *http.Server
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":       version,
		"env":           cfg.Env,
		"log_level":     cfg.LogLevel,
		"listen":        cfg.Listen,
		"platform":      cfg.Platform,
		"state_backend": cfg.StateBackend,
		"registry_url":  cfg.RegistryURL,
		"ignore_url":    cfg.IgnoreURL,
	}, "Starting RR-PAC daemon")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build application with all dependencies
	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, "RR-PAC daemon stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	store, err := buildStateStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build state store: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	app, err := wire(cfg, store, listener, logger)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

// wire builds repositories, gateways and services on top of an open store
// and listener.
func wire(cfg *config.AppConfig, store state.Store, listener net.Listener, logger log.Logger) (*Application, error) {
	// Gateways
	blobs := platform.NewBlobStore("http://" + listener.Addr().String())
	installer, err := platform.NewInstaller(cfg.Platform, blobs, platform.StaticPrivateBrowsing(cfg.PrivateBrowsing))
	if err != nil {
		return nil, fmt.Errorf("failed to build installer: %w", err)
	}
	settings := platform.NewLocalSettings(cfg.InlinePath, logger)
	extensions := platform.NewLocalExtensions(domain.Extension{
		ID:          cfg.SelfID,
		Name:        appName,
		Enabled:     true,
		Permissions: []string{domain.PermissionProxy},
	})

	var ignoreFetcher ignore.Fetcher
	if cfg.IgnoreURL != "" {
		ignoreFetcher = feed.NewClient(cfg.IgnoreURL, cfg.HTTPTimeout, logger)
	}
	var registryFetcher registry.Fetcher
	if cfg.RegistryURL != "" {
		registryFetcher = feed.NewRegistryClient(cfg.RegistryURL, cfg.HTTPTimeout, logger)
	}

	// Repositories
	ignoreStore, err := ignore.New(ignore.Options{
		State:          store,
		Fetcher:        ignoreFetcher,
		Logger:         logger,
		CacheSize:      cfg.IgnoreCacheSize,
		FetchInterval:  cfg.IgnoreFetchInterval,
		SaveInterval:   cfg.IgnoreSaveInterval,
		RequestTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build ignore store: %w", err)
	}
	reg, err := registry.New(registry.Options{
		State:   store,
		Fetcher: registryFetcher,
		Logger:  logger,
		Clock:   clock.RealClock{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	// Services
	engine, err := policy.NewEngine(policy.EngineOptions{
		Registry:           reg,
		State:              store,
		Settings:           settings,
		Extensions:         extensions,
		Installer:          installer,
		Logger:             logger,
		DefaultProxyServer: cfg.ProxyServer,
		DefaultPingURI:     cfg.ProxyPing,
		HTTPClient:         &http.Client{Timeout: cfg.HTTPTimeout},
		PingTimeout:        cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build policy engine: %w", err)
	}

	apiOpts := httpapi.Options{
		PAC:      blobs,
		Ignore:   ignoreStore,
		Registry: reg,
		Engine:   engine,
		Logger:   logger,
	}
	if lw, ok := store.(httpapi.LastWriteReporter); ok {
		apiOpts.Storage = lw
	}
	handler := httpapi.New(apiOpts)

	return &Application{
		config:   cfg,
		state:    store,
		ignore:   ignoreStore,
		registry: reg,
		engine:   engine,
		listener: listener,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
		},
	}, nil
}

// buildStateStore opens the configured StateStore backend
func buildStateStore(ctx context.Context, cfg *config.AppConfig) (state.Store, error) {
	switch cfg.StateBackend {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		store, err := boltstate.New(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open bolt state %s: %w", cfg.StatePath, err)
		}
		log.Info(map[string]any{"path": cfg.StatePath}, "Bolt state store opened")
		return store, nil
	case "redis":
		cctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
		store, err := redisstate.New(cctx, cfg.RedisAddr, redisstate.DefaultPrefix)
		if err != nil {
			return nil, err
		}
		log.Info(map[string]any{"prefix": redisstate.DefaultPrefix}, "Redis state store connected")
		return store, nil
	case "memory":
		log.Warn(nil, "Using in-memory state store, nothing will be persisted")
		return state.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", domain.ErrConfiguration, cfg.StateBackend)
	}
}

// Address returns the address the HTTP surface is bound to.
func (app *Application) Address() string { return app.listener.Addr().String() }

// Run restores persisted state, installs the PAC and runs the background
// tasks and HTTP server until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.ignore.Load(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Loading ignored hosts failed")
	}
	if err := app.registry.Load(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Loading registry snapshot failed")
	}
	app.applyPolicy(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.ignore.Run(gctx)
	})

	// Without a registry URL only the persisted snapshot is served.
	interval := app.config.RegistryInterval
	if app.config.RegistryURL == "" {
		interval = 0
	}
	g.Go(func() error {
		return app.registry.Start(gctx, registry.UpdaterConfig{
			Interval:  interval,
			Timeout:   app.config.HTTPTimeout,
			OnSuccess: app.applyPolicy,
		})
	})

	g.Go(func() error {
		log.Info(map[string]any{"address": app.Address()}, "HTTP server started")
		if err := app.server.Serve(app.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info(nil, "Shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			log.Warn(map[string]any{"error": err}, "Error during HTTP shutdown")
		}
		return nil
	})

	err := g.Wait()
	app.shutdown()
	return err
}

// applyPolicy installs or removes the PAC according to the master toggle.
func (app *Application) applyPolicy(ctx context.Context) {
	if !app.engine.ExtensionEnabled(ctx) {
		if err := app.engine.RemoveProxy(ctx); err != nil {
			log.Warn(map[string]any{"error": err}, "Removing proxy failed")
		}
		return
	}
	if app.engine.SetProxy(ctx) {
		app.engine.Ping(ctx)
	}
}

// shutdown flushes the ignore list, waits for pings and closes the store.
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.ignore.Persist(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Final ignore list flush failed")
	}
	app.engine.Wait()
	if err := app.state.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Closing state store failed")
	}
	log.Info(nil, "Graceful shutdown completed")
}
