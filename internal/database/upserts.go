package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

// Every upsert follows the same contract: look the candidate up by its
// natural key (the site-assigned id, or the composite key for join
// tables, or content-hash-else-URL for images). Absent rows are
// inserted; present rows are overwritten in update mode and left alone
// otherwise. The stored record is reflected back into the argument so
// callers can read resolved fields (e.g. a store-assigned image id).

func (d *DB) exists(query string, args ...any) (bool, error) {
	var one int
	err := d.db.Get(&one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const userInsert = `
INSERT INTO user (
	id, name, username, user_group, age, birthdate, date_registered,
	email, gender, instant_messengers, last_online, latest_status,
	location, post_count, signature, url, website, website_url
) VALUES (
	:id, :name, :username, :user_group, :age, :birthdate, :date_registered,
	:email, :gender, :instant_messengers, :last_online, :latest_status,
	:location, :post_count, :signature, :url, :website, :website_url
)`

const userUpdate = `
UPDATE user SET
	name = :name, username = :username, user_group = :user_group,
	age = :age, birthdate = :birthdate, date_registered = :date_registered,
	email = :email, gender = :gender,
	instant_messengers = :instant_messengers, last_online = :last_online,
	latest_status = :latest_status, location = :location,
	post_count = :post_count, signature = :signature, url = :url,
	website = :website, website_url = :website_url
WHERE id = :id`

// UpsertUser inserts or refreshes a registered user (or guest) row.
func (d *DB) UpsertUser(u *forum.User) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(u.Label(), userInsert, userUpdate, u,
		`SELECT 1 FROM user WHERE id = ?`, u.ID)
}

// UpsertCategory inserts or refreshes a category row.
func (d *DB) UpsertCategory(c *forum.Category) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(c.Label(),
		`INSERT INTO category (id, name) VALUES (:id, :name)`,
		`UPDATE category SET name = :name WHERE id = :id`,
		c, `SELECT 1 FROM category WHERE id = ?`, c.ID)
}

const boardInsert = `
INSERT INTO board (
	id, name, description, category_id, parent_id, password_protected, url
) VALUES (
	:id, :name, :description, :category_id, :parent_id, :password_protected, :url
)`

const boardUpdate = `
UPDATE board SET
	name = :name, description = :description, category_id = :category_id,
	parent_id = :parent_id, password_protected = :password_protected,
	url = :url
WHERE id = :id`

// UpsertBoard inserts or refreshes a board row.
func (d *DB) UpsertBoard(b *forum.Board) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(b.Label(), boardInsert, boardUpdate, b,
		`SELECT 1 FROM board WHERE id = ?`, b.ID)
}

// UpsertModerator inserts a board-moderator link, keyed by the
// (board, user) pair.
func (d *DB) UpsertModerator(m *forum.Moderator) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertLink(m.Label(),
		`INSERT INTO moderator (board_id, user_id) VALUES (:board_id, :user_id)`,
		m, `SELECT 1 FROM moderator WHERE board_id = ? AND user_id = ?`,
		m.BoardID, m.UserID)
}

const threadInsert = `
INSERT INTO thread (
	id, board_id, user_id, title, locked, sticky, announcement, views, url
) VALUES (
	:id, :board_id, :user_id, :title, :locked, :sticky, :announcement, :views, :url
)`

const threadUpdate = `
UPDATE thread SET
	board_id = :board_id, user_id = :user_id, title = :title,
	locked = :locked, sticky = :sticky, announcement = :announcement,
	views = :views, url = :url
WHERE id = :id`

// UpsertThread inserts or refreshes a thread row.
func (d *DB) UpsertThread(t *forum.Thread) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(t.Label(), threadInsert, threadUpdate, t,
		`SELECT 1 FROM thread WHERE id = ?`, t.ID)
}

const postInsert = `
INSERT INTO post (
	id, thread_id, user_id, date, message, url, last_edited, edit_user_id
) VALUES (
	:id, :thread_id, :user_id, :date, :message, :url, :last_edited, :edit_user_id
)`

const postUpdate = `
UPDATE post SET
	thread_id = :thread_id, user_id = :user_id, date = :date,
	message = :message, url = :url, last_edited = :last_edited,
	edit_user_id = :edit_user_id
WHERE id = :id`

// UpsertPost inserts or refreshes a post row.
func (d *DB) UpsertPost(p *forum.Post) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(p.Label(), postInsert, postUpdate, p,
		`SELECT 1 FROM post WHERE id = ?`, p.ID)
}

// UpsertPoll inserts or refreshes a poll row (id == owning thread id).
func (d *DB) UpsertPoll(p *forum.Poll) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(p.Label(),
		`INSERT INTO poll (id, question) VALUES (:id, :question)`,
		`UPDATE poll SET question = :question WHERE id = :id`,
		p, `SELECT 1 FROM poll WHERE id = ?`, p.ID)
}

// UpsertPollOption inserts or refreshes a poll option row.
func (d *DB) UpsertPollOption(o *forum.PollOption) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(o.Label(),
		`INSERT INTO poll_option (id, poll_id, name, votes)
		 VALUES (:id, :poll_id, :name, :votes)`,
		`UPDATE poll_option SET poll_id = :poll_id, name = :name, votes = :votes
		 WHERE id = :id`,
		o, `SELECT 1 FROM poll_option WHERE id = ?`, o.ID)
}

// UpsertPollVoter inserts a poll-voter link, keyed by the (poll, user)
// pair.
func (d *DB) UpsertPollVoter(v *forum.PollVoter) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertLink(v.Label(),
		`INSERT INTO poll_voter (poll_id, user_id) VALUES (:poll_id, :user_id)`,
		v, `SELECT 1 FROM poll_voter WHERE poll_id = ? AND user_id = ?`,
		v.PollID, v.UserID)
}

// UpsertShoutboxPost inserts or refreshes a shoutbox message row.
func (d *DB) UpsertShoutboxPost(s *forum.ShoutboxPost) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNamed(s.Label(),
		`INSERT INTO shoutbox_post (id, user_id, date, message)
		 VALUES (:id, :user_id, :date, :message)`,
		`UPDATE shoutbox_post SET user_id = :user_id, date = :date,
		 message = :message WHERE id = :id`,
		s, `SELECT 1 FROM shoutbox_post WHERE id = ?`, s.ID)
}

// UpsertImage inserts image metadata, deduplicating by MD5 hash when
// the download succeeded and by source URL otherwise. The store
// assigns the id; it is written back into img either way so callers
// can link avatars against it.
func (d *DB) UpsertImage(img *forum.Image) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		existingID int64
		err        error
	)
	if img.MD5Hash != nil {
		err = d.db.Get(&existingID, `SELECT id FROM image WHERE md5_hash = ?`, *img.MD5Hash)
	} else {
		err = d.db.Get(&existingID, `SELECT id FROM image WHERE url = ?`, img.URL)
	}
	switch {
	case err == nil:
		img.ID = existingID
		if !d.update {
			d.logUpsert(img.Label(), Skipped)
			return Skipped, nil
		}
		if _, err := d.db.NamedExec(
			`UPDATE image SET url = :url, filename = :filename,
			 md5_hash = :md5_hash, size = :size WHERE id = :id`, img,
		); err != nil {
			return Skipped, fmt.Errorf("update %s: %w", img.Label(), err)
		}
		d.logUpsert(img.Label(), Updated)
		return Updated, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := d.db.NamedExec(
			`INSERT INTO image (url, filename, md5_hash, size)
			 VALUES (:url, :filename, :md5_hash, :size)`, img,
		)
		if err != nil {
			return Skipped, fmt.Errorf("insert %s: %w", img.Label(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Skipped, fmt.Errorf("read back image id: %w", err)
		}
		img.ID = id
		d.logUpsert(img.Label(), Inserted)
		return Inserted, nil
	default:
		return Skipped, fmt.Errorf("look up %s: %w", img.Label(), err)
	}
}

// UpsertAvatar inserts a user-avatar link, keyed by the (user, image)
// pair.
func (d *DB) UpsertAvatar(a *forum.Avatar) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertLink(a.Label(),
		`INSERT INTO avatar (user_id, image_id) VALUES (:user_id, :image_id)`,
		a, `SELECT 1 FROM avatar WHERE user_id = ? AND image_id = ?`,
		a.UserID, a.ImageID)
}

// upsertNamed implements the shared contract for id-keyed entities.
func (d *DB) upsertNamed(
	label, insertQuery, updateQuery string, record any,
	existsQuery string, existsArgs ...any,
) (Status, error) {
	found, err := d.exists(existsQuery, existsArgs...)
	if err != nil {
		return Skipped, fmt.Errorf("look up %s: %w", label, err)
	}
	if !found {
		if _, err := d.db.NamedExec(insertQuery, record); err != nil {
			return Skipped, fmt.Errorf("insert %s: %w", label, err)
		}
		d.logUpsert(label, Inserted)
		return Inserted, nil
	}
	if !d.update {
		d.logUpsert(label, Skipped)
		return Skipped, nil
	}
	if _, err := d.db.NamedExec(updateQuery, record); err != nil {
		return Skipped, fmt.Errorf("update %s: %w", label, err)
	}
	d.logUpsert(label, Updated)
	return Updated, nil
}

// upsertLink implements the contract for composite-key join rows,
// which have nothing to update beyond their key.
func (d *DB) upsertLink(
	label, insertQuery string, record any,
	existsQuery string, existsArgs ...any,
) (Status, error) {
	found, err := d.exists(existsQuery, existsArgs...)
	if err != nil {
		return Skipped, fmt.Errorf("look up %s: %w", label, err)
	}
	if found {
		d.logUpsert(label, Skipped)
		return Skipped, nil
	}
	if _, err := d.db.NamedExec(insertQuery, record); err != nil {
		return Skipped, fmt.Errorf("insert %s: %w", label, err)
	}
	d.logUpsert(label, Inserted)
	return Inserted, nil
}
