package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sophialabs/apiscenario/internal/domain/lro"
	inboundhttp "github.com/sophialabs/apiscenario/internal/infrastructure/inbound/http"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/logging"
	"github.com/sophialabs/apiscenario/internal/infrastructure/usecases"
	"github.com/sophialabs/apiscenario/internal/infrastructure/wiring"
)

// App is the thin lifecycle manager that delegates dependency construction to wiring.Container.
type App struct {
	cfg       Config
	env       map[string]any
	container *wiring.Container
	logger    *logging.SlogLogger
}

// New constructs the application by creating a logger, reading the env file
// and wiring infrastructure components via the container. Logs go to logOut.
func New(ctx context.Context, cfg Config, logOut io.Writer) (*App, error) {
	logger := logging.NewText(logOut, logging.ParseLevel(cfg.LogLevel))

	env, err := LoadEnv(filesystem.OSFileSystem{}, cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	env = MergeVars(env, cfg.Vars)
	creds := CredentialsFrom(env, cfg.Authority)
	delete(env, EnvClientSecret)

	container, err := wiring.New(ctx, wiring.Params{
		RootDir:     cfg.RootDir,
		SpecPaths:   cfg.SpecPaths,
		BaseURL:     cfg.BaseURL,
		Credentials: creds,
		HTTPTimeout: cfg.HTTPTimeout,

		DryRun:       cfg.DryRun,
		RecordingDir: cfg.RecordingDir,

		Polling: lro.Options{
			MaxPolls: cfg.MaxPolls,
			Interval: cfg.PollInterval,
			Timeout:  cfg.PollTimeout,
		},
		FinalStateVia:     lro.FinalStateVia(cfg.FinalStateVia),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		ThrottleTTL:       cfg.ThrottleTTL,

		SnapshotPath:          cfg.SnapshotPath,
		AssertionExpression:   cfg.AssertionExpression,
		ResourceGroupTemplate: cfg.ResourceGroupTemplate,

		TraceSize: cfg.TraceSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wire infrastructure: %w", err)
	}
	if !cfg.DryRun && !creds.Complete() {
		logger.Warn("no service principal credentials configured, requests are sent unauthenticated")
	}

	return &App{cfg: cfg, env: env, container: container, logger: logger}, nil
}

// Close releases the container's resources.
func (a *App) Close() {
	a.container.Close()
}

// Validate loads and resolves the definitions at paths, or every definition
// below the root when paths is empty. No request is sent.
func (a *App) Validate(ctx context.Context, paths []string) ([]*usecases.LoadResult, error) {
	loadUC := a.container.LoadDefinitionUseCase()
	if len(paths) == 0 {
		return loadUC.ExecuteAll(ctx)
	}

	results := make([]*usecases.LoadResult, 0, len(paths))
	for _, p := range paths {
		res, err := loadUC.Execute(ctx, a.definitionPath(p))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// definitionPath makes p absolute so that files it references resolve
// relative to the definition itself.
func (a *App) definitionPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
	}
	return filepath.Join(a.container.Repository().Root(), p)
}

// Run loads the definitions at paths and runs each of them. SIGINT and
// SIGTERM cancel the run; resource groups created so far are still deleted.
func (a *App) Run(ctx context.Context, paths []string) ([]*usecases.RunReport, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := a.Validate(ctx, paths)
	if err != nil {
		return nil, err
	}

	opts := usecases.RunOptions{
		RunID:       a.cfg.RunID,
		Env:         a.env,
		Scenarios:   a.cfg.Scenarios,
		SkipCleanup: a.cfg.SkipCleanup,
		From:        a.cfg.From,
		To:          a.cfg.To,
	}

	var reports []*usecases.RunReport
	var runErrs []error
	for _, res := range results {
		report, err := a.container.Run(ctx, res.File, opts)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			runErrs = append(runErrs, fmt.Errorf("%s: %w", res.File.Path, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return reports, errors.Join(runErrs...)
}

// Serve executes the admin server lifecycle: load definitions, start the
// watcher, serve HTTP, and shut down gracefully on SIGINT/SIGTERM or context
// cancellation.
func (a *App) Serve(ctx context.Context) error {
	server := a.container.Server()
	if err := server.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := a.setupWatcher(server)
	if watcher != nil {
		defer watcher.Stop()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      server,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting admin server", "addr", httpServer.Addr, "root", a.cfg.RootDir, "dryRun", a.cfg.DryRun)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func (a *App) setupWatcher(server *inboundhttp.Server) *filesystem.Watcher {
	roots := append([]string{a.cfg.RootDir}, a.cfg.SpecPaths...)
	watcher, err := filesystem.NewWatcher(roots, a.cfg.WatcherDebounce, a.logger, func() {
		if err := server.Reload(context.Background()); err != nil {
			a.logger.Error("hot reload failed", "error", err)
			return
		}
		a.logger.Info("hot reload complete")
	})
	if err != nil {
		a.logger.Warn("file watcher not available", "error", err)
		return nil
	}

	watcher.Start()
	a.logger.Info("file watcher started", "roots", roots)
	return watcher
}
