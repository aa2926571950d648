package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSQLiteIsRepeatable(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, SQLite))
	require.NoError(t, Migrate(ctx, db, SQLite))

	for _, tbl := range schema {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tbl.name).Scan(&name)
		require.NoError(t, err, tbl.name)
		assert.Equal(t, tbl.name, name)
	}
}

func TestActiveSlotAllowsHistoricalDuplicates(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, SQLite))
	// foreign keys are not the subject here
	_, err = db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)

	const ins = `INSERT INTO bookings (session_id, user_id, user_ticket_id, status, active_slot) VALUES (1, 7, 1, ?, ?)`
	_, err = db.ExecContext(ctx, ins, "CANCELLED", nil)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, ins, "CANCELLED", nil)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, ins, "CONFIRMED", 1)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, ins, "CONFIRMED", 1)
	require.Error(t, err, "second live booking for the same pair must be rejected")
}

func TestStatementsPerDialect(t *testing.T) {
	var sessions table
	for _, tbl := range schema {
		if tbl.name == "class_sessions" {
			sessions = tbl
		}
	}
	require.NotEmpty(t, sessions.name)

	mysql := statements(sessions, MySQL)
	require.Len(t, mysql, 1)
	assert.Contains(t, mysql[0], "AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, mysql[0], "KEY idx_sessions_academy_start (academy_id, starts_at)")
	assert.True(t, strings.HasSuffix(mysql[0], "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"))

	lite := statements(sessions, SQLite)
	require.Len(t, lite, 3)
	assert.Contains(t, lite[0], "INTEGER PRIMARY KEY AUTOINCREMENT")
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx_sessions_rule_start ON class_sessions (rule_id, starts_at)", lite[2])
}
