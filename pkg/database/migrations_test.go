package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: ":memory:", MaxOpenConns: 4, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoad_SortsAndNames(t *testing.T) {
	fsys := fstest.MapFS{
		"002_orders.sql":   {Data: []byte("CREATE TABLE orders (id TEXT)")},
		"001_requests.sql": {Data: []byte("CREATE TABLE requests (id TEXT)")},
		"README.md":        {Data: []byte("ignored")},
	}

	migs, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "requests", migs[0].Name)
	assert.Equal(t, 2, migs[1].Version)
}

func TestLoad_RejectsBadNames(t *testing.T) {
	_, err := Load(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1")}})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1")},
		"001_b.sql": {Data: []byte("SELECT 1")},
	})
	assert.Error(t, err)
}

func TestMigrator_RunIsIdempotent(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, zap.NewNop())
	fsys := fstest.MapFS{
		"001_requests.sql": {Data: []byte("CREATE TABLE requests (id TEXT PRIMARY KEY)")},
	}

	require.NoError(t, m.Run(fsys))
	require.NoError(t, m.Run(fsys))

	applied, err := m.Applied()
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true}, applied)
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, zap.NewNop())

	err := m.Run(fstest.MapFS{"001_bad.sql": {Data: []byte("CREATE TABLE (")}})
	assert.Error(t, err)

	applied, err := m.Applied()
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrator_ProjectMigrations(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, NewMigrator(db, zap.NewNop()).RunMigrations("../../migrations"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM approval_requests`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM purchase_orders`).Scan(&n))
	assert.Zero(t, n)
}
