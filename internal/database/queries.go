package database

import (
	"fmt"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

// BoardDetail is a board row joined with its moderator user ids and the
// ids of its direct sub-boards.
type BoardDetail struct {
	forum.Board
	ModeratorIDs []int64
	SubBoardIDs  []int64
}

// Users returns every stored user, guests included, ordered by id.
func (d *DB) Users() ([]forum.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var users []forum.User
	if err := d.db.Select(&users, `SELECT * FROM user ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return users, nil
}

// Boards returns every stored board with its moderators and sub-boards
// resolved, ordered by id.
func (d *DB) Boards() ([]BoardDetail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var boards []forum.Board
	if err := d.db.Select(&boards, `SELECT * FROM board ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query boards: %w", err)
	}

	details := make([]BoardDetail, 0, len(boards))
	for _, b := range boards {
		detail := BoardDetail{Board: b}
		err := d.db.Select(&detail.ModeratorIDs,
			`SELECT user_id FROM moderator WHERE board_id = ? ORDER BY user_id`, b.ID)
		if err != nil {
			return nil, fmt.Errorf("query moderators for board %d: %w", b.ID, err)
		}
		err = d.db.Select(&detail.SubBoardIDs,
			`SELECT id FROM board WHERE parent_id = ? ORDER BY id`, b.ID)
		if err != nil {
			return nil, fmt.Errorf("query sub-boards of board %d: %w", b.ID, err)
		}
		details = append(details, detail)
	}
	return details, nil
}

// ThreadPosts returns the posts of a thread ordered by id.
func (d *DB) ThreadPosts(threadID int64) ([]forum.Post, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var posts []forum.Post
	err := d.db.Select(&posts,
		`SELECT * FROM post WHERE thread_id = ? ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query posts for thread %d: %w", threadID, err)
	}
	return posts, nil
}
