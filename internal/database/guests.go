package database

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

// Guest resolves a guest poster's name to a stable negative user id,
// creating the row on first sight. Guests have no site-assigned id, so
// the store hands out -1, -2, ... in order of first appearance; calling
// Guest twice with the same name returns the same id.
func (d *DB) Guest(name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var id int64
	err := d.db.Get(&id, `SELECT id FROM user WHERE id < 0 AND name = ?`, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("look up guest %q: %w", name, err)
	}

	var lowest sql.NullInt64
	if err := d.db.Get(&lowest, `SELECT MIN(id) FROM user WHERE id < 0`); err != nil {
		return 0, fmt.Errorf("find lowest guest id: %w", err)
	}
	id = -1
	if lowest.Valid {
		id = lowest.Int64 - 1
	}

	guest := &forum.User{ID: id, Name: name}
	if _, err := d.db.NamedExec(userInsert, guest); err != nil {
		return 0, fmt.Errorf("insert guest %q: %w", name, err)
	}
	d.logger.Info("added guest to database",
		zap.String("name", name), zap.Int64("id", id))
	return id, nil
}
