package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite untouched", SQLite, "SELECT * FROM scrape_jobs WHERE id = ?", "SELECT * FROM scrape_jobs WHERE id = ?"},
		{"postgres numbered", Postgres, "UPDATE scrape_jobs SET status = ?, updated_at = ? WHERE id = ?",
			"UPDATE scrape_jobs SET status = $1, updated_at = $2 WHERE id = $3"},
		{"postgres ignores quoted", Postgres, "SELECT '?' AS q, id FROM companies WHERE id = ?",
			"SELECT '?' AS q, id FROM companies WHERE id = $1"},
		{"postgres no placeholders", Postgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.in))
		})
	}
}

func TestDialectForDriver(t *testing.T) {
	d, err := DialectForDriver("")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	d, err = DialectForDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	assert.Equal(t, "postgres", d.String())
	assert.Contains(t, d.SkipLocked(), "SKIP LOCKED")
	assert.Empty(t, SQLite.SkipLocked())

	_, err = DialectForDriver("oracle")
	assert.Error(t, err)
}

func TestMigrationsEmbeddedForBothDialects(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		entries, err := migrations.ReadDir(d.migrationsDir())
		require.NoError(t, err)
		require.Len(t, entries, 3, d.String())
		assert.Equal(t, "000_create_schema_migrations.sql", entries[0].Name())
	}
}
