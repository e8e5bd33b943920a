package main

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_ordersUpScriptsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_index.up.sql":    {Data: []byte("CREATE INDEX i;")},
		"002_seq.up.sql":      {Data: []byte("ALTER TABLE t;")},
		"002_seq.down.sql":    {Data: []byte("DROP;")},
		"001_ledger.up.sql":   {Data: []byte("CREATE TABLE t;")},
		"README.md":           {Data: []byte("docs")},
		"nested/003_x.up.sql": {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 10}, []int64{got[0].Version, got[1].Version, got[2].Version})
	assert.Equal(t, "001_ledger.up.sql", got[0].Name)
	assert.Equal(t, "CREATE TABLE t;", got[0].SQL)
}

func TestLoadMigrations_rejectsBadNames(t *testing.T) {
	for _, name := range []string{"ledger.up.sql", "abc_ledger.up.sql", "000_zero.up.sql"} {
		_, err := loadMigrations(fstest.MapFS{name: {Data: []byte("x")}})
		assert.ErrorIs(t, err, errBadName, name)
	}
}

func TestLoadMigrations_rejectsDuplicateVersions(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{
		"001_a.up.sql":  {Data: []byte("x")},
		"0001_b.up.sql": {Data: []byte("y")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 1 used by")
}

func TestLoadMigrations_shippedSchema(t *testing.T) {
	got, err := loadMigrations(os.DirFS("../../migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, int64(1), got[0].Version)
	assert.Contains(t, got[0].SQL, "CREATE TABLE")
}
