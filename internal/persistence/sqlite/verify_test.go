package sqlite

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmasAndCreatesDir(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := Open(ctx, dbPath, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	v, err := UserVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ok.db")
	db, err := Open(ctx, dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data BLOB)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(ctx, dbPath, "quick")
	require.NoError(t, err)
	assert.Nil(t, issues)
}

func TestVerifyIntegrity_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "corruptible.db")

	db, err := Open(ctx, dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data BLOB)")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = db.Exec("INSERT INTO t (data) VALUES (randomblob(512))")
		require.NoError(t, err)
	}
	_, err = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Overwrite the b-tree page header of the table root page.
	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xFF}, 200), 4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	issues, err := VerifyIntegrity(ctx, dbPath, "full")
	if err == nil {
		assert.NotEmpty(t, issues, "corruption went undetected")
	}
}
