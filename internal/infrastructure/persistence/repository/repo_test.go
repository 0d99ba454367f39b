package repository

import (
	"testing"

	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-approval/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: ":memory:", MaxIdleConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations("../../../../migrations"))
	return sqlite.NewDB(db.DB, logger)
}
