package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal/catalog"
	"github.com/lychee-technology/strata/internal/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("strata-server", pflag.ContinueOnError)
	cfgFile := flags.String("config", "", "config file (default: ./strata.yaml)")
	bootstrap := flags.Bool("bootstrap", false, "create missing schema objects before serving")
	flags.String("listen", "", "listen address (default :8080)")
	flags.String("schemas", "", "directory of entity JSON schemas")
	flags.String("dialect", "", "database dialect (postgres|mysql|sqlite|oracle|tsql)")
	flags.String("dsn", "", "driver connection string")
	flags.String("database", "", "database name, or the file path for sqlite")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (json|console)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgFile, flags)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Store.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer zap.ReplaceGlobals(logger)()

	cat, err := catalog.LoadDir(cfg.Schemas)
	if err != nil {
		return fmt.Errorf("load schemas from %s: %w", cfg.Schemas, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := factory.NewStore(ctx, cfg.Store, cat.Registry())
	if err != nil {
		return err
	}
	defer store.Close()

	if *bootstrap {
		report, err := store.Bootstrap(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if report.State != strata.StateReady {
			return fmt.Errorf("bootstrap stopped at %s: %v", report.State, report.Failed)
		}
	}

	if cfg.Store.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cat, store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.S().Infow("Starting server", "addr", cfg.Listen, "dialect", cfg.Store.Database.Dialect)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.S().Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
