package scrape

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/database"
	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/queue"
	"github.com/nrsyed/proboards-scraper/internal/storage"
)

const base = "https://example.proboards.com"

// stubFetcher serves synthetic pages from a map and records every
// fetched URL.
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *stubFetcher) Get(_ context.Context, url string) (*goquery.Document, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	html, ok := f.pages[url]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no stub page for %s", url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *stubFetcher) Download(context.Context, string) ([]byte, int, error) {
	return nil, 0, errors.New("download unavailable")
}

func (f *stubFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == url {
			n++
		}
	}
	return n
}

// stubRenderer serves pre-rendered documents for the poll path.
type stubRenderer struct {
	pages map[string]string
}

func (r *stubRenderer) Render(_ context.Context, url string) (*goquery.Document, error) {
	html, ok := r.pages[url]
	if !ok {
		return nil, fmt.Errorf("no rendered page for %s", url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (r *stubRenderer) Close() {}

func newTestManager(t *testing.T, fetcher Fetcher, withUsers bool) *Manager {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "forum.db"), false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	images, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	return New(Config{
		Fetcher:       fetcher,
		DB:            db,
		Images:        images,
		Logger:        zap.NewNop(),
		UserWorkers:   4,
		WithUserQueue: withUsers,
	})
}

// drain collects queue items up to the sentinel.
func drain(t *testing.T, q *queue.Queue) []forum.Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var items []forum.Item
	for {
		item, err := q.Get(ctx)
		require.NoError(t, err)
		if item == nil {
			return items
		}
		items = append(items, item)
	}
}

func memberPage(rows string, nextHref string) string {
	next := `<li class="next state-disabled"><a>Next</a></li>`
	if nextHref != "" {
		next = fmt.Sprintf(`<li class="next"><a href="%s">Next</a></li>`, nextHref)
	}
	return fmt.Sprintf(`<html><body>
<div class="container members"><table><tbody>%s</tbody></table></div>
<ul class="ui-pagination">%s</ul>
</body></html>`, rows, next)
}

func memberRow(id int) string {
	return fmt.Sprintf(`<tr><td><a href="/user/%d">user %d</a></td></tr>`, id, id)
}

func profilePage(name, username string, posts int) string {
	return fmt.Sprintf(`<html><body><div class="show-user">
<div class="name_and_group float-right"><span class="big_username">%s</span><br>
Member</div>
<div class="float-right controls"><div class="float-right clear pad-top">Username:<span>%s</span>Last Online:<span><abbr data-timestamp="1600000000">then</abbr></span></div></div>
<div class="pad-all-double ui-helper-clearfix clear"><div id="center-column">
<div class="content-box"><table>
<tr><td>Posts:</td><td>%d</td></tr>
<tr><td>Email:</td><td>%s@example.com</td></tr>
</table></div>
</div></div>
</div></body></html>`, name, username, posts, username)
}

func TestPaginationTermination(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/members":        memberPage(memberRow(1)+memberRow(2), "/members?page=2"),
		base + "/members?page=2": memberPage(memberRow(3)+memberRow(4), "/members?page=3"),
		base + "/members?page=3": memberPage(memberRow(5), ""),
	}}
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("User%d", i)
		fetcher.pages[fmt.Sprintf("%s/user/%d", base, i)] = profilePage(name, strings.ToLower(name), i*10)
	}

	m := newTestManager(t, fetcher, true)
	m.RunTask(context.Background(), SignalUsers, func(ctx context.Context) error {
		return m.ScrapeUsers(ctx, base+"/members")
	})

	// Exactly one fetch per listing page: the disabled "next" control on
	// page 3 must stop the walk.
	assert.Equal(t, 1, fetcher.fetchCount(base+"/members"))
	assert.Equal(t, 1, fetcher.fetchCount(base+"/members?page=2"))
	assert.Equal(t, 1, fetcher.fetchCount(base+"/members?page=3"))

	users := drain(t, m.userQueue)
	require.Len(t, users, 5)
	ids := map[int64]bool{}
	for _, item := range users {
		user, ok := item.(*forum.User)
		require.True(t, ok)
		ids[user.ID] = true
	}
	for i := int64(1); i <= 5; i++ {
		assert.True(t, ids[i], "user %d should have been scraped", i)
	}
}

func TestUserProfileFields(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/user/7": profilePage("Alice", "alice", 1234),
	}}
	m := newTestManager(t, fetcher, true)

	require.NoError(t, m.ScrapeUser(context.Background(), base+"/user/7"))
	m.userQueue.Put(nil)

	items := drain(t, m.userQueue)
	require.Len(t, items, 1)
	user := items[0].(*forum.User)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "Member", user.Group)
	assert.Equal(t, int64(1600000000), user.LastOnline)
	assert.Equal(t, int64(1234), user.PostCount)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.Guest())
}

func boardPage(name, desc, subBoardHref string) string {
	sub := ""
	if subBoardHref != "" {
		sub = fmt.Sprintf(`<div class="container boards"><table><tbody>
<tr><td class="main clickable"><span class="link"><a href="%s">%s</a></span></td></tr>
</tbody></table></div>`, subBoardHref, subBoardHref)
	}
	return fmt.Sprintf(`<html><body>
<div class="container stats"><div class="board-name">%s</div><div class="board-description">%s</div></div>
%s</body></html>`, name, desc, sub)
}

func TestBoardHierarchyOrdering(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/board/1/a": boardPage("A", "top", "/board/2/b"),
		base + "/board/2/b": boardPage("B", "middle", "/board/3/c"),
		base + "/board/3/c": boardPage("C", "leaf", ""),
	}}
	m := newTestManager(t, fetcher, false)

	m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
		return m.ScrapeBoard(ctx, base+"/board/1/a")
	})

	items := drain(t, m.contentQueue)
	var boardOrder []int64
	for _, item := range items {
		if board, ok := item.(*forum.Board); ok {
			boardOrder = append(boardOrder, board.ID)
		}
	}
	// Each board must precede its own sub-board.
	assert.Equal(t, []int64{1, 2, 3}, boardOrder)

	boards := map[int64]*forum.Board{}
	for _, item := range items {
		if board, ok := item.(*forum.Board); ok {
			boards[board.ID] = board
		}
	}
	require.NotNil(t, boards[2].ParentID)
	assert.Equal(t, int64(1), *boards[2].ParentID)
	require.NotNil(t, boards[3].ParentID)
	assert.Equal(t, int64(2), *boards[3].ParentID)
}

func TestPasswordProtectedBoard(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/board/8/secret": `<html><body>
<div class="container"><div class="title-bar"><h2>Secret Board</h2></div>
<p>This board is password protected.</p></div>
</body></html>`,
	}}
	m := newTestManager(t, fetcher, false)

	m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
		return m.ScrapeBoard(ctx, base+"/board/8/secret")
	})

	items := drain(t, m.contentQueue)
	require.Len(t, items, 1)
	board := items[0].(*forum.Board)
	assert.Equal(t, "Secret Board", board.Name)
	assert.True(t, board.PasswordProtected)
	assert.Nil(t, board.Description)
}

func postRow(id int, author string, message string) string {
	return fmt.Sprintf(`<tr class="post" id="post-%d">
<td class="left-panel">%s</td>
<td class="content"><div class="date"><abbr data-timestamp="%d">date</abbr></div><div class="message">%s</div></td>
</tr>`, id, author, 1000+id, message)
}

func userLink(id int) string {
	return fmt.Sprintf(`<a href="/user/%d">user</a>`, id)
}

func threadPage(title, nav, rows, nextHref string) string {
	next := `<li class="next state-disabled"><a>Next</a></li>`
	if nextHref != "" {
		next = fmt.Sprintf(`<li class="next"><a href="%s">Next</a></li>`, nextHref)
	}
	return fmt.Sprintf(`<html><body>
%s
<div class="container posts">
<div class="title-bar"><h1>%s</h1></div>
<table><tbody>%s</tbody></table>
<ul class="ui-pagination">%s</ul>
</div>
</body></html>`, nav, title, rows, next)
}

func TestThreadTwoPagesNoPoll(t *testing.T) {
	nav := `<div id="navigation-tree"><a href="/board/4/general">General</a></div>`
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/thread/9/hello": threadPage("Hello", nav,
			postRow(101, userLink(7), "first")+postRow(102, userLink(8), "second"),
			"/thread/9/hello?page=2"),
		base + "/thread/9/hello?page=2": threadPage("Hello", nav,
			postRow(103, userLink(7), "third"), ""),
	}}
	m := newTestManager(t, fetcher, false)

	m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
		return m.ScrapeThread(ctx, base+"/thread/9/hello")
	})

	items := drain(t, m.contentQueue)
	require.Len(t, items, 4)

	thread, ok := items[0].(*forum.Thread)
	require.True(t, ok, "thread must be emitted before its posts")
	assert.Equal(t, int64(9), thread.ID)
	assert.Equal(t, int64(4), thread.BoardID)
	assert.Equal(t, int64(7), thread.UserID)
	assert.Equal(t, "Hello", thread.Title)

	var postIDs []int64
	for _, item := range items[1:] {
		post, ok := item.(*forum.Post)
		require.True(t, ok, "no poll content expected, got %T", item)
		assert.Equal(t, int64(9), post.ThreadID)
		postIDs = append(postIDs, post.ID)
	}
	assert.Equal(t, []int64{101, 102, 103}, postIDs)
}

func TestThreadWithPoll(t *testing.T) {
	nav := `<div id="navigation-tree"><a href="/board/4/general">General</a></div>`
	pollContent := `<div class="container poll">
<div class="question">Best color?</div>
<ul><li class="option" data-id="31"><span class="name">Red</span><span class="votes">2</span></li>
<li class="option" data-id="32"><span class="name">Blue</span><span class="votes">1</span></li></ul>
<div class="voters"><a data-id="7">u7</a><a data-id="8">u8</a></div>
</div>`

	// The plain fetch shows only an empty poll container; the voter list
	// appears in the rendered page.
	plain := threadPage("Vote", nav+`<div class="container poll"></div>`,
		postRow(201, userLink(7), "vote here"), "")
	rendered := threadPage("Vote", nav+pollContent,
		postRow(201, userLink(7), "vote here"), "")

	fetcher := &stubFetcher{pages: map[string]string{
		base + "/thread/12/vote": plain,
	}}
	m := newTestManager(t, fetcher, false)
	m.renderer = &stubRenderer{pages: map[string]string{
		base + "/thread/12/vote": rendered,
	}}

	m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
		return m.ScrapeThread(ctx, base+"/thread/12/vote")
	})

	items := drain(t, m.contentQueue)
	require.Len(t, items, 7)

	_, ok := items[0].(*forum.Thread)
	require.True(t, ok)
	poll, ok := items[1].(*forum.Poll)
	require.True(t, ok, "poll must follow the thread")
	assert.Equal(t, int64(12), poll.ID)
	assert.Equal(t, "Best color?", poll.Question)

	red := items[2].(*forum.PollOption)
	assert.Equal(t, int64(31), red.ID)
	assert.Equal(t, "Red", red.Name)
	assert.Equal(t, int64(2), red.Votes)
	blue := items[3].(*forum.PollOption)
	assert.Equal(t, int64(32), blue.ID)

	voters := []*forum.PollVoter{
		items[4].(*forum.PollVoter), items[5].(*forum.PollVoter),
	}
	assert.Equal(t, int64(7), voters[0].UserID)
	assert.Equal(t, int64(8), voters[1].UserID)

	_, ok = items[6].(*forum.Post)
	require.True(t, ok, "posts come after the poll data")
}

func TestGuestAuthorResolution(t *testing.T) {
	nav := `<div id="navigation-tree"><a href="/board/4/general">General</a></div>`
	guest := `<span class="user-guest">Anon</span>`
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/thread/15/anon": threadPage("By a guest", nav,
			postRow(301, guest, "hello from a guest"), ""),
	}}
	m := newTestManager(t, fetcher, false)

	m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
		return m.ScrapeThread(ctx, base+"/thread/15/anon")
	})

	// The guest row is created synchronously during traversal, before
	// the post referencing it is persisted.
	counts, err := m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["user"])

	require.NoError(t, m.Run(context.Background()))

	id, err := m.db.Guest("Anon")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), id)

	counts, err = m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["user"])
	assert.Equal(t, 1, counts["thread"])
	assert.Equal(t, 1, counts["post"])
}

func TestConsumerDrainsUsersBeforeContent(t *testing.T) {
	m := newTestManager(t, &stubFetcher{pages: map[string]string{}}, true)

	for i := int64(1); i <= 3; i++ {
		m.userQueue.Put(&forum.User{ID: i, Name: fmt.Sprintf("user%d", i)})
	}
	m.contentQueue.Put(&forum.Post{ID: 500, ThreadID: 1, UserID: 2})
	m.contentQueue.Put(nil)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	// With the user sentinel still missing the consumer must sit in the
	// user-draining state and leave all content untouched.
	time.Sleep(100 * time.Millisecond)
	counts, err := m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, counts["user"])
	assert.Equal(t, 0, counts["post"])

	m.userQueue.Put(nil)
	require.NoError(t, <-done)

	counts, err = m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, counts["user"])
	assert.Equal(t, 1, counts["post"])
}

func TestFailedImageDownloadRecordsMetadata(t *testing.T) {
	m := newTestManager(t, &stubFetcher{pages: map[string]string{}}, false)

	m.contentQueue.Put(&forum.Image{URL: "https://img.example.com/gone.png"})
	m.contentQueue.Put(nil)
	require.NoError(t, m.Run(context.Background()))

	counts, err := m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["image"])
}

func TestScrapeIdempotence(t *testing.T) {
	nav := `<div id="navigation-tree"><a href="/board/4/general">General</a></div>`
	pages := map[string]string{
		base + "/thread/9/hello": threadPage("Hello", nav,
			postRow(101, userLink(7), "first"), ""),
	}

	run := func(m *Manager) {
		m.RunTask(context.Background(), SignalContent, func(ctx context.Context) error {
			return m.ScrapeThread(ctx, base+"/thread/9/hello")
		})
		require.NoError(t, m.Run(context.Background()))
	}

	m := newTestManager(t, &stubFetcher{pages: pages}, false)
	run(m)
	first, err := m.db.Counts()
	require.NoError(t, err)

	// Second pass over unchanged pages must not change any row counts.
	m2 := New(Config{
		Fetcher: &stubFetcher{pages: pages},
		DB:      m.db,
		Images:  m.images,
		Logger:  zap.NewNop(),
	})
	run(m2)
	second, err := m.db.Counts()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
