package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

func openTestDB(t *testing.T, update bool) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forum.db")
	db, err := Open(path, update, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesEmptySchema(t *testing.T) {
	db := openTestDB(t, false)

	counts, err := db.Counts()
	require.NoError(t, err)
	require.Len(t, counts, 12)
	for table, n := range counts {
		assert.Zero(t, n, "table %s should start empty", table)
	}
}

func TestUpsertUserSkipMode(t *testing.T) {
	db := openTestDB(t, false)

	user := &forum.User{ID: 7, Name: "alice", Username: "alice7"}
	status, err := db.UpsertUser(user)
	require.NoError(t, err)
	assert.Equal(t, Inserted, status)

	// A re-scrape of the same user must not touch the stored row.
	changed := &forum.User{ID: 7, Name: "alice-renamed"}
	status, err = db.UpsertUser(changed)
	require.NoError(t, err)
	assert.Equal(t, Skipped, status)

	var name string
	require.NoError(t, db.db.Get(&name, `SELECT name FROM user WHERE id = 7`))
	assert.Equal(t, "alice", name)
}

func TestUpsertUserUpdateMode(t *testing.T) {
	db := openTestDB(t, true)

	_, err := db.UpsertUser(&forum.User{ID: 7, Name: "alice"})
	require.NoError(t, err)

	status, err := db.UpsertUser(&forum.User{ID: 7, Name: "alice-renamed"})
	require.NoError(t, err)
	assert.Equal(t, Updated, status)

	var name string
	require.NoError(t, db.db.Get(&name, `SELECT name FROM user WHERE id = 7`))
	assert.Equal(t, "alice-renamed", name)
}

func TestUpsertIdempotence(t *testing.T) {
	db := openTestDB(t, false)

	insert := func() {
		_, err := db.UpsertCategory(&forum.Category{ID: 1, Name: "General"})
		require.NoError(t, err)
		_, err = db.UpsertBoard(&forum.Board{ID: 2, Name: "Chat", CategoryID: ptr(int64(1))})
		require.NoError(t, err)
		_, err = db.UpsertThread(&forum.Thread{ID: 3, BoardID: 2, UserID: 7, Title: "hello"})
		require.NoError(t, err)
		_, err = db.UpsertPost(&forum.Post{ID: 4, ThreadID: 3, UserID: 7, Message: "hi"})
		require.NoError(t, err)
	}

	insert()
	first, err := db.Counts()
	require.NoError(t, err)

	insert()
	second, err := db.Counts()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLinkTablesDeduplicate(t *testing.T) {
	db := openTestDB(t, true)

	mod := &forum.Moderator{BoardID: 2, UserID: 7}
	status, err := db.UpsertModerator(mod)
	require.NoError(t, err)
	assert.Equal(t, Inserted, status)

	// Update mode has nothing to refresh on a bare link row.
	status, err = db.UpsertModerator(mod)
	require.NoError(t, err)
	assert.Equal(t, Skipped, status)

	voter := &forum.PollVoter{PollID: 3, UserID: 7}
	status, err = db.UpsertPollVoter(voter)
	require.NoError(t, err)
	assert.Equal(t, Inserted, status)
	status, err = db.UpsertPollVoter(voter)
	require.NoError(t, err)
	assert.Equal(t, Skipped, status)
}

func TestGuestIDsAreStable(t *testing.T) {
	db := openTestDB(t, false)

	anon, err := db.Guest("Anon")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), anon)

	drifter, err := db.Guest("Drifter")
	require.NoError(t, err)
	assert.Equal(t, int64(-2), drifter)

	again, err := db.Guest("Anon")
	require.NoError(t, err)
	assert.Equal(t, anon, again)

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts["user"])
}

func TestGuestIgnoresRegisteredUsers(t *testing.T) {
	db := openTestDB(t, false)

	// A registered user sharing a guest's display name must not
	// shadow the guest row.
	_, err := db.UpsertUser(&forum.User{ID: 10, Name: "Anon"})
	require.NoError(t, err)

	id, err := db.Guest("Anon")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), id)
}

func TestUpsertImageDedup(t *testing.T) {
	db := openTestDB(t, false)

	hash := "d41d8cd98f00b204e9800998ecf8427e"
	img := &forum.Image{
		URL:      "https://img.example.com/a.png",
		Filename: ptr(hash + ".png"),
		MD5Hash:  ptr(hash),
		Size:     ptr(int64(1024)),
	}
	status, err := db.UpsertImage(img)
	require.NoError(t, err)
	assert.Equal(t, Inserted, status)
	require.NotZero(t, img.ID)

	// Same bytes served from a different URL: dedupe on the hash and
	// hand back the existing id.
	dup := &forum.Image{
		URL:     "https://cdn.example.com/mirror/a.png",
		MD5Hash: ptr(hash),
	}
	status, err = db.UpsertImage(dup)
	require.NoError(t, err)
	assert.Equal(t, Skipped, status)
	assert.Equal(t, img.ID, dup.ID)
}

func TestUpsertImageFailureRecord(t *testing.T) {
	db := openTestDB(t, false)

	// Failed downloads still record the URL, keyed by URL since there
	// is no hash.
	failed := &forum.Image{URL: "https://img.example.com/gone.png"}
	status, err := db.UpsertImage(failed)
	require.NoError(t, err)
	assert.Equal(t, Inserted, status)
	require.NotZero(t, failed.ID)

	retry := &forum.Image{URL: "https://img.example.com/gone.png"}
	status, err = db.UpsertImage(retry)
	require.NoError(t, err)
	assert.Equal(t, Skipped, status)
	assert.Equal(t, failed.ID, retry.ID)
}

func TestBoardsResolveModeratorsAndSubBoards(t *testing.T) {
	db := openTestDB(t, false)

	_, err := db.UpsertBoard(&forum.Board{ID: 1, Name: "General"})
	require.NoError(t, err)
	_, err = db.UpsertBoard(&forum.Board{ID: 2, Name: "Off-Topic", ParentID: ptr(int64(1))})
	require.NoError(t, err)
	_, err = db.UpsertBoard(&forum.Board{ID: 3, Name: "Archive", ParentID: ptr(int64(1))})
	require.NoError(t, err)
	_, err = db.UpsertModerator(&forum.Moderator{BoardID: 1, UserID: 7})
	require.NoError(t, err)
	_, err = db.UpsertModerator(&forum.Moderator{BoardID: 1, UserID: 9})
	require.NoError(t, err)

	boards, err := db.Boards()
	require.NoError(t, err)
	require.Len(t, boards, 3)

	assert.Equal(t, "General", boards[0].Name)
	assert.Equal(t, []int64{7, 9}, boards[0].ModeratorIDs)
	assert.Equal(t, []int64{2, 3}, boards[0].SubBoardIDs)
	assert.Empty(t, boards[1].SubBoardIDs)
}

func TestUsersIncludeGuests(t *testing.T) {
	db := openTestDB(t, false)

	_, err := db.UpsertUser(&forum.User{ID: 5, Name: "alice"})
	require.NoError(t, err)
	_, err = db.Guest("Anon")
	require.NoError(t, err)

	users, err := db.Users()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(-1), users[0].ID)
	assert.True(t, users[0].Guest())
	assert.Equal(t, "alice", users[1].Name)
}

func TestRecordRun(t *testing.T) {
	db := openTestDB(t, false)

	require.NoError(t, db.RecordRun("run-1", "https://forum.example.com"))
	require.NoError(t, db.RecordRun("run-1", "https://forum.example.com"))

	var n int
	require.NoError(t, db.db.Get(&n, `SELECT COUNT(*) FROM scrape_run`))
	assert.Equal(t, 1, n)
}

func ptr[T any](v T) *T { return &v }
