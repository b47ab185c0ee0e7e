// Package config loads store configuration for the command-line programs.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/lychee-technology/strata"
	"github.com/spf13/pflag"
)

const (
	envPrefix         = "STRATA_"
	defaultConfigFile = "strata.yaml"
)

// FlagKeys maps command-line flags onto configuration keys. Flags not listed are
// not configuration.
var FlagKeys = map[string]string{
	"schemas":       "schemas",
	"dialect":       "database.dialect",
	"dsn":           "database.dsn",
	"database":      "database.database",
	"host":          "database.host",
	"port":          "database.port",
	"user":          "database.username",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"strict-probes": "bootstrap.strict_probes",
	"skip-extras":   "bootstrap.skip_extras",
	"older-than":    "archive.older_than",
	"batch-size":    "archive.batch_size",
	"bucket":        "archive.s3_bucket",
	"chunk-size":    "store.save_chunk_size",
	"listen":        "listen",
}

// Loaded is the store configuration plus the settings of the programs themselves.
type Loaded struct {
	Store   *strata.Config
	Schemas string
	Listen  string
	File    string
}

// Load merges, lowest to highest precedence: defaults, the YAML file,
// STRATA_ environment variables and explicitly set flags. Nested environment keys
// use a double underscore: STRATA_DATABASE__MAX_CONNECTIONS.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"schemas": "schemas",
		"listen":  ":8080",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			cfgFile = defaultConfigFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := strata.DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &Loaded{Store: cfg, Schemas: k.String("schemas"), Listen: k.String("listen"), File: cfgFile}, nil
}
