package db

import (
	"strconv"
	"strings"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
)

// Dialect captures the SQL differences between the supported databases
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// DialectForDriver maps an am database driver name to its dialect
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "", am.DriverSQLite:
		return SQLite, nil
	case am.DriverPostgres:
		return Postgres, nil
	default:
		return SQLite, errors.WrapInvalidRequest(errors.Newf("unsupported database driver %q", driver), "dialect")
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SkipLocked returns the row-locking suffix for "pick one pending row" subqueries.
// SQLite serializes writers with BEGIN IMMEDIATE instead.
func (d Dialect) SkipLocked() string {
	if d == Postgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (d Dialect) migrationsDir() string {
	if d == Postgres {
		return "postgres/migrations"
	}
	return "sqlite/migrations"
}
