package sqlstore

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/database"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/migrations"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/store/storetest"
)

// openSQLite returns a migrated database in a temp dir, closed at test cleanup.
func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "arcade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(db, logger.Discard()))
	return db
}

func TestSQLiteStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock clockwork.Clock) store.Stores {
		return New(openSQLite(t), clock, store.Options{}, logger.Discard())
	})
}

func TestMigrationsAreRepeatable(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, migrations.Run(db, logger.Discard()))

	var tables int
	require.NoError(t, db.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('game_sessions', 'leaderboard_entries', 'prize_pools', 'used_nonces')`))
	require.Equal(t, 4, tables)
}
