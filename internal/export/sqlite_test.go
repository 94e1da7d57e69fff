package export

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlite_Export(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite")

	artifact, err := NewSqlite().Export(testHistory(), path)
	require.NoError(t, err)
	assert.Equal(t, path, artifact)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var runs, samples int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM samples").Scan(&samples))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 2, samples)

	// Undefined values land as NULL.
	var bTeo sql.NullFloat64
	require.NoError(t, db.QueryRow("SELECT b_teo FROM samples WHERE t_ms = 1050").Scan(&bTeo))
	assert.False(t, bTeo.Valid)

	require.NoError(t, db.QueryRow("SELECT b_teo FROM samples WHERE t_ms = 1000").Scan(&bTeo))
	assert.True(t, bTeo.Valid)

	var tRel int64
	require.NoError(t, db.QueryRow("SELECT t_ms_rel FROM samples WHERE t_ms = 1050").Scan(&tRel))
	assert.Equal(t, int64(50), tRel)
}

func TestSqlite_AppendsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite")
	exporter := NewSqlite()

	_, err := exporter.Export(testHistory(), path)
	require.NoError(t, err)
	_, err = exporter.Export(nil, path)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var runs int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	assert.Equal(t, 2, runs)

	var count int
	require.NoError(t, db.QueryRow("SELECT samples FROM runs ORDER BY id DESC LIMIT 1").Scan(&count))
	assert.Zero(t, count)
}
