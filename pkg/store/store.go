// Package store keeps the schedule list and calibration progress in an
// embedded SQLite database.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"
)

// DB wraps the chargectl state database.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to create data dir %s", dir)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open %s", path)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to ping %s", path)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to migrate")
	}

	logrus.WithField("path", path).Debug("state database opened")

	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id           TEXT PRIMARY KEY,
			position     INTEGER NOT NULL,
			start_minute INTEGER NOT NULL,
			end_minute   INTEGER NOT NULL,
			target       INTEGER NOT NULL,
			repeat_days  TEXT NOT NULL DEFAULT '',
			enabled      BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_position ON schedules(position)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored under key.
func (d *DB) Get(key string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if pkgerrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrapf(err, "failed to get %s", key)
	}
	return v, true, nil
}

// Put stores value under key, replacing any previous value.
func (d *DB) Put(key, value string) error {
	_, err := d.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to put %s", key)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(key string) error {
	if _, err := d.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return pkgerrors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}
