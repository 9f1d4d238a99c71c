// Package database implements the SQLite persistence layer. All access
// goes through a single DB value whose internal mutex serializes the
// persistence consumer against the synchronous guest/image paths called
// from traversal tasks; the embedded store never sees interleaved
// writers.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// Status reports what an upsert did with a candidate record.
type Status string

// Upsert outcomes.
const (
	Inserted Status = "inserted"
	Updated  Status = "updated"
	Skipped  Status = "skipped"
)

const schema = `
CREATE TABLE IF NOT EXISTS user (
	id INTEGER PRIMARY KEY,
	name TEXT,
	username TEXT,
	user_group TEXT,
	age INTEGER,
	birthdate TEXT,
	date_registered INTEGER,
	email TEXT,
	gender TEXT,
	instant_messengers TEXT,
	last_online INTEGER,
	latest_status TEXT,
	location TEXT,
	post_count INTEGER,
	signature TEXT,
	url TEXT,
	website TEXT,
	website_url TEXT
);

CREATE TABLE IF NOT EXISTS category (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS board (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	category_id INTEGER REFERENCES category(id),
	parent_id INTEGER REFERENCES board(id),
	password_protected INTEGER NOT NULL DEFAULT 0,
	url TEXT
);

CREATE TABLE IF NOT EXISTS moderator (
	board_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	UNIQUE (board_id, user_id)
);

CREATE TABLE IF NOT EXISTS thread (
	id INTEGER PRIMARY KEY,
	board_id INTEGER NOT NULL REFERENCES board(id),
	user_id INTEGER NOT NULL,
	title TEXT,
	locked INTEGER NOT NULL DEFAULT 0,
	sticky INTEGER NOT NULL DEFAULT 0,
	announcement INTEGER NOT NULL DEFAULT 0,
	views INTEGER,
	url TEXT
);

CREATE TABLE IF NOT EXISTS post (
	id INTEGER PRIMARY KEY,
	thread_id INTEGER NOT NULL REFERENCES thread(id),
	user_id INTEGER NOT NULL,
	date INTEGER,
	message TEXT,
	url TEXT,
	last_edited INTEGER,
	edit_user_id INTEGER
);

CREATE TABLE IF NOT EXISTS poll (
	id INTEGER PRIMARY KEY REFERENCES thread(id),
	question TEXT
);

CREATE TABLE IF NOT EXISTS poll_option (
	id INTEGER PRIMARY KEY,
	poll_id INTEGER NOT NULL REFERENCES poll(id),
	name TEXT,
	votes INTEGER
);

CREATE TABLE IF NOT EXISTS poll_voter (
	poll_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	UNIQUE (poll_id, user_id)
);

CREATE TABLE IF NOT EXISTS image (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	filename TEXT,
	md5_hash TEXT,
	size INTEGER
);

CREATE TABLE IF NOT EXISTS avatar (
	user_id INTEGER NOT NULL,
	image_id INTEGER NOT NULL,
	UNIQUE (user_id, image_id)
);

CREATE TABLE IF NOT EXISTS shoutbox_post (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	date INTEGER,
	message TEXT
);

CREATE TABLE IF NOT EXISTS scrape_run (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	started INTEGER NOT NULL
);
`

// DB wraps the SQLite store.
type DB struct {
	mu     sync.Mutex
	db     *sqlx.DB
	update bool
	logger *zap.Logger
}

// Open creates (or opens) the database file at path and ensures the
// schema exists. When update is true, re-scraped records overwrite
// existing rows; otherwise they are skipped.
func Open(path string, update bool, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer by construction; one connection keeps sqlite happy.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("database ready", zap.String("path", path), zap.Bool("update_mode", update))
	return &DB{db: db, update: update, logger: logger}, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// RecordRun stores a provenance row for a scrape run.
func (d *DB) RecordRun(runID, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO scrape_run (id, url, started) VALUES (?, ?, ?)`,
		runID, url, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record scrape run: %w", err)
	}
	return nil
}

// Counts returns the row count of every entity table, keyed by table
// name. Used for the end-of-run summary and idempotence checks.
func (d *DB) Counts() (map[string]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tables := []string{
		"user", "category", "board", "moderator", "thread", "post",
		"poll", "poll_option", "poll_voter", "image", "avatar",
		"shoutbox_post",
	}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		if err := d.db.Get(&n, `SELECT COUNT(*) FROM `+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func (d *DB) logUpsert(label string, status Status) {
	switch status {
	case Inserted:
		d.logger.Info("added to database", zap.String("item", label))
	case Updated:
		d.logger.Info("updated in database", zap.String("item", label))
	default:
		d.logger.Debug("already in database", zap.String("item", label))
	}
}
