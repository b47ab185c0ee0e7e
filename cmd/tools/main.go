package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal/catalog"
	"github.com/lychee-technology/strata/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries the configuration and logger of one CLI invocation.
type app struct {
	cfgFile string
	cfg     *config.Loaded
	logger  *zap.Logger
	restore func()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "strata-tools",
		Short: "Operate a strata attribute-table store",
		Long: `strata-tools provisions and operates a strata store.

Entity types are read from a directory of JSON-Schema documents; instances are
exchanged as JSON documents of the form {"entity": ..., "guid": ..., "data": {...}}.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./strata.yaml)")
	pf.String("schemas", "", "directory of entity JSON schemas")
	pf.String("dialect", "", "database dialect (postgres|mysql|sqlite|oracle|tsql)")
	pf.String("dsn", "", "driver connection string, overrides the host settings")
	pf.String("database", "", "database name, or the file path for sqlite")
	pf.String("host", "", "database host")
	pf.Int("port", 0, "database port")
	pf.String("user", "", "database user")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (json|console)")

	root.AddCommand(
		newBootstrapCmd(a),
		newProbeCmd(a),
		newSaveCmd(a),
		newLoadCmd(a),
		newDeleteCmd(a),
		newArchiveCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := config.NewLogger(cfg.Store.Logging)
	if err != nil {
		return err
	}
	a.logger = logger
	a.restore = zap.ReplaceGlobals(logger)
	if cfg.File != "" {
		zap.S().Debugw("using config file", "path", cfg.File)
	}
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.restore != nil {
		a.restore()
	}
}

// openStore loads the schema catalog and connects a store bound to its registry.
func (a *app) openStore(ctx context.Context) (*catalog.Catalog, strata.Store, error) {
	cat, err := catalog.LoadDir(a.cfg.Schemas)
	if err != nil {
		return nil, nil, fmt.Errorf("load schemas from %s: %w", a.cfg.Schemas, err)
	}
	store, err := factory.NewStore(ctx, a.cfg.Store, cat.Registry())
	if err != nil {
		return nil, nil, err
	}
	return cat, store, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
