package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal/catalog"
	"github.com/lychee-technology/strata/internal/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	cfgFile   string
	listings  int
	chunkSize int
	lookups   int
	workers   int
	seed      int64
	purge     bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.cfgFile, flags)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Store.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer zap.ReplaceGlobals(logger)()

	cat, err := catalog.New(map[string][]byte{"listing.json": []byte(listingSchema)})
	if err != nil {
		return err
	}
	listingID, _ := cat.EntityID("listing")

	ctx := context.Background()
	store, err := factory.NewStore(ctx, cfg.Store, cat.Registry())
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if opts.purge {
		existing, err := store.Load(ctx, listingID, strata.All())
		if err != nil {
			return fmt.Errorf("load existing listings: %w", err)
		}
		guids := make([]string, 0, len(existing))
		for _, e := range existing {
			guids = append(guids, e.Overview().EntityGuid)
		}
		if err := store.Delete(ctx, guids...); err != nil {
			return fmt.Errorf("purge listings: %w", err)
		}
		zap.S().Infow("Cleared existing listings", "count", len(guids))
	}

	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
		zap.S().Infow("Using random seed", "seed", opts.seed)
	}
	entities, err := generateListings(cat, rand.New(rand.NewSource(opts.seed)), opts.listings)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := store.SaveChunked(ctx, entities, opts.chunkSize); err != nil {
		return fmt.Errorf("seed listings: %w", err)
	}
	saveElapsed := time.Since(start)

	guids := make([]string, len(entities))
	for i, e := range entities {
		guids[i] = e.Overview().EntityGuid
	}
	latencies, err := timeLookups(ctx, store, listingID, guids, opts)
	if err != nil {
		return err
	}

	start = time.Now()
	q := strata.NewQuery(cat.Registry()).GreaterThan(fieldRent, int64(150_000)).And().Equals(fieldLayout, "2LDK")
	matched, err := store.Load(ctx, listingID, strata.Matching(q))
	if err != nil {
		return fmt.Errorf("query listings: %w", err)
	}

	fmt.Printf("saved %d listings in %s (%.0f/s)\n", len(entities), saveElapsed.Round(time.Millisecond), float64(len(entities))/saveElapsed.Seconds())
	fmt.Printf("lookups: %d, p50 %s, p95 %s, p99 %s\n", len(latencies),
		percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
	fmt.Printf("query matched %d listings in %s\n", len(matched), time.Since(start).Round(time.Millisecond))
	return nil
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	flags := pflag.NewFlagSet("strata-benchmark", pflag.ContinueOnError)
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default: ./strata.yaml)")
	flags.String("dialect", "", "database dialect")
	flags.String("dsn", "", "driver connection string")
	flags.String("database", "", "database name, or the file path for sqlite")
	flags.String("log-level", "", "log level")
	flags.IntVar(&opts.listings, "listings", 10_000, "number of listings to generate")
	flags.IntVar(&opts.chunkSize, "chunk-size", 500, "instances per save transaction")
	flags.IntVar(&opts.lookups, "lookups", 1_000, "number of single-instance loads to time")
	flags.IntVar(&opts.workers, "workers", 8, "concurrent lookup workers")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed (0 uses current time)")
	flags.BoolVar(&opts.purge, "purge", false, "delete existing listings before seeding")
	if err := flags.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.listings < 0 || opts.lookups < 0 {
		return opts, nil, fmt.Errorf("counts must be non-negative")
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	return opts, flags, nil
}

// timeLookups loads random guids by id with a fixed number of workers.
func timeLookups(ctx context.Context, store strata.Store, entityID int64, guids []string, opts options) ([]time.Duration, error) {
	if len(guids) == 0 || opts.lookups == 0 {
		return nil, nil
	}
	latencies := make([]time.Duration, opts.lookups)
	r := rand.New(rand.NewSource(opts.seed + 1))
	picks := make([]string, opts.lookups)
	for i := range picks {
		picks[i] = guids[r.Intn(len(guids))]
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for i, guid := range picks {
		g.Go(func() error {
			start := time.Now()
			loaded, err := store.Load(ctx, entityID, strata.ByGuid(guid))
			if err != nil {
				return err
			}
			if len(loaded) != 1 {
				return fmt.Errorf("listing %s not found", guid)
			}
			latencies[i] = time.Since(start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("timed lookups: %w", err)
	}
	return latencies, nil
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*p + 99) / 100
	if idx < 1 {
		idx = 1
	}
	return sorted[idx-1]
}
