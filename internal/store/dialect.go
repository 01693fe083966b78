package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	_ "modernc.org/sqlite"             // SQLite driver.
)

type dialect struct {
	name       string
	driver     string
	primaryKey string
	positional bool
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		primaryKey: "INTEGER PRIMARY KEY",
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "pgx",
		primaryKey: "BIGSERIAL PRIMARY KEY",
		positional: true,
	}
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// rebind rewrites ? placeholders to $n for dialects with positional parameters.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Location is a parsed database URL.
type Location struct {
	dialect dialect
	// DSN is what the driver receives.
	DSN string
	// Path is the SQLite file path, empty for in-memory and PostgreSQL databases.
	Path string
}

// Dialect returns "sqlite" or "postgres".
func (l Location) Dialect() string { return l.dialect.name }

// ParseURL resolves a database URL.
//
// Accepted forms are sqlite:///relative/path.db, sqlite:////absolute/path.db,
// sqlite:// for an in-memory database, postgres:// and postgresql:// URLs,
// and bare file paths.
func ParseURL(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Location{}, fmt.Errorf("database url is empty")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Location{dialect: postgresDialect, DSN: raw}, nil
	case raw == "sqlite://" || raw == "sqlite:///:memory:":
		return Location{dialect: sqliteDialect, DSN: "file::memory:?" + sqlitePragmas}, nil
	case strings.HasPrefix(raw, "sqlite:///"):
		return sqliteLocation(strings.TrimPrefix(raw, "sqlite:///"))
	case strings.Contains(raw, "://"):
		return Location{}, fmt.Errorf("unsupported database url %q", raw)
	default:
		return sqliteLocation(raw)
	}
}

func sqliteLocation(path string) (Location, error) {
	if path == "" {
		return Location{}, fmt.Errorf("sqlite url has no path")
	}
	return Location{dialect: sqliteDialect, DSN: path + "?" + sqlitePragmas, Path: path}, nil
}
