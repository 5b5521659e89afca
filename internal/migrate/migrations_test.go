package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	first, err := Migrate(conn, "sqlite")
	require.NoError(t, err)
	second, err := Migrate(conn, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, 2)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&n))
	assert.Zero(t, n)
}

func TestLoadMigrationsRendersDialect(t *testing.T) {
	ms, err := loadMigrations("pgx")
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for _, m := range ms {
		assert.NotContains(t, m.UpSQL, "{{serial}}")
	}
	assert.Contains(t, ms[0].UpSQL, "BIGSERIAL")

	_, err = loadMigrations("mysql")
	assert.Error(t, err)
}
