package archive

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

// OpenPostgresSource opens a Postgres store through database/sql for archival.
func OpenPostgresSource(cfg strata.DatabaseConfig, password string) (internal.Session, error) {
	db, err := sql.Open("postgres", PostgresConnString(cfg, password))
	if err != nil {
		return nil, fmt.Errorf("open pg: %w", err)
	}
	db.SetMaxOpenConns(2)
	return internal.NewSQLSession(db, internal.PlaceholderDollar), nil
}

// PostgresConnString renders a lib/pq keyword/value connection string. A configured
// DSN is used verbatim.
func PostgresConnString(cfg strata.DatabaseConfig, password string) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}
	pairs := []string{
		"host=" + pqValue(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + pqValue(cfg.Username),
		"password=" + pqValue(password),
		"dbname=" + pqValue(cfg.Database),
		"sslmode=" + pqValue(sslmode),
	}
	return strings.Join(pairs, " ")
}

func pqValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, `'`, `\'`) + "'"
}
