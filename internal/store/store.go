// Package store is the persisted snapshot: versioned subscription and
// episode records in an embedded database under the data directory.
// Records are never physically deleted; membership changes are recorded
// as timestamps so history stays addressable.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // The database driver
	"github.com/rs/zerolog/log"
)

// DB is the global database connection.
var DB *sqlx.DB

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	stable_id         TEXT PRIMARY KEY,
	overcast_id       INTEGER NOT NULL DEFAULT 0,
	title             TEXT NOT NULL,
	feed_url          TEXT,
	export_url        TEXT NOT NULL,
	added_at          TIMESTAMP NOT NULL,
	removed_at        TIMESTAMP,
	last_refreshed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS episodes (
	stable_id         TEXT PRIMARY KEY,
	subscription_id   TEXT NOT NULL REFERENCES subscriptions(stable_id),
	title             TEXT NOT NULL,
	published_at      TIMESTAMP NOT NULL,
	audio_url         TEXT,
	duration_seconds  INTEGER,
	last_attempted_at TIMESTAMP,
	created_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_subscription ON episodes(subscription_id);
CREATE INDEX IF NOT EXISTS idx_episodes_missing_duration
	ON episodes(published_at) WHERE duration_seconds IS NULL;
`

// InitDB opens (creating if necessary) the snapshot database in dir.
func InitDB(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating data dir: %w", err)
	}

	path := filepath.Join(dir, "overcast.db")
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("store: connecting to %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}

	DB = db
	log.Debug().Str("path", path).Msg("store opened")
	return nil
}

// Close releases the connection; safe to call when InitDB never ran.
func Close() error {
	if DB == nil {
		return nil
	}
	err := DB.Close()
	DB = nil
	return err
}
