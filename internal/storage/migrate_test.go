package storage

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrationsFS, down)
		assert.NoError(t, err, "missing down migration for %s", up)
	}
}

func TestSampleColumnsMatchSchema(t *testing.T) {
	schema, err := fs.ReadFile(migrationsFS, "migrations/000001_create_samples.up.sql")
	require.NoError(t, err)

	for _, col := range sampleColumns {
		assert.Contains(t, string(schema), col)
	}
}
