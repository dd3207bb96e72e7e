package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingUpFilesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_verification.up.sql": {Data: []byte("SELECT 1")},
		"m/0001_init.up.sql":         {Data: []byte("SELECT 1")},
		"m/0001_init.down.sql":       {Data: []byte("SELECT 1")},
		"m/README.md":                {Data: []byte("notes")},
		"m/nested/0003_skip.up.sql":  {Data: []byte("SELECT 1")},
	}

	files, err := pendingUpFiles(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.up.sql", "0002_verification.up.sql"}, files)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := pendingUpFiles(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_escrow.up.sql", files[0])
	assert.Contains(t, files, "0003_checkout_sessions.up.sql")
}

func TestHasParam(t *testing.T) {
	assert.True(t, hasParam("postgres://u@h/db?pool_max_conns=5", "pool_max_conns"))
	assert.True(t, hasParam("host=h pool_max_conns=5", "pool_max_conns"))
	assert.False(t, hasParam("postgres://u@h/db?sslmode=disable", "pool_max_conns"))
}
