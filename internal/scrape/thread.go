package scrape

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/fetch"
	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
)

// threadMeta carries what the board listing row already knows about a
// thread. It is nil for standalone thread scrapes, which recover the
// fields from the thread page itself.
type threadMeta struct {
	BoardID      int64
	UserID       int64
	Locked       bool
	Sticky       bool
	Announcement bool
	Views        int64
}

// ScrapeThread scrapes a single thread subtree from its URL.
func (m *Manager) ScrapeThread(ctx context.Context, threadURL string) error {
	return m.scrapeThread(ctx, threadURL, nil)
}

// scrapeThread emits the Thread record, then its poll (when present),
// then every post across the thread's paginated post listing.
func (m *Manager) scrapeThread(ctx context.Context, threadURL string, meta *threadMeta) error {
	match := threadURLPattern.FindStringSubmatch(threadURL)
	if match == nil {
		return fmt.Errorf("not a thread url: %s", threadURL)
	}
	base := match[1]
	threadID, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parse thread id from %s: %w", threadURL, err)
	}

	doc, err := m.fetcher.Get(ctx, threadURL)
	if err != nil {
		return fmt.Errorf("fetch thread %d: %w", threadID, err)
	}
	metrics.ObservePage("thread")

	posts := m.parsePosts(base, threadID, doc)

	thread := &forum.Thread{ID: threadID, URL: threadURL}
	thread.Title = strings.TrimSpace(
		doc.Find("div.container.posts div.title-bar h1").First().Text())
	if thread.Title == "" {
		thread.Title = strings.TrimSpace(
			doc.Find("div.container.posts div.title-bar h2").First().Text())
	}

	if meta != nil {
		thread.BoardID = meta.BoardID
		thread.UserID = meta.UserID
		thread.Locked = meta.Locked
		thread.Sticky = meta.Sticky
		thread.Announcement = meta.Announcement
		thread.Views = meta.Views
	} else {
		// Standalone scrape: the owning board comes from the navigation
		// tree and the creator is the first post's author.
		boardID, err := boardIDFromNav(doc)
		if err != nil {
			return fmt.Errorf("thread %d: %w", threadID, err)
		}
		thread.BoardID = boardID
		if len(posts) == 0 {
			return fmt.Errorf("thread %d has no posts to identify its creator", threadID)
		}
		thread.UserID = posts[0].UserID
	}

	m.contentQueue.Put(thread)

	if doc.Find("div.container.poll").Length() > 0 {
		m.scrapePoll(ctx, threadURL, threadID)
	}

	for _, post := range posts {
		m.contentQueue.Put(post)
	}

	// Remaining post pages.
	current := doc
	for {
		href, ok := nextPageHref(current.Find("div.container.posts").First())
		if !ok {
			return nil
		}
		nextURL := base + href
		next, err := m.fetcher.Get(ctx, nextURL)
		if err != nil {
			return fmt.Errorf("fetch post page %s: %w", nextURL, err)
		}
		metrics.ObservePage("thread")

		for _, post := range m.parsePosts(base, threadID, next) {
			m.contentQueue.Put(post)
		}
		current = next
	}
}

// parsePosts extracts every post on one thread page. Images embedded in
// post bodies are queued for download as a side effect.
func (m *Manager) parsePosts(base string, threadID int64, doc *goquery.Document) []*forum.Post {
	var posts []*forum.Post
	doc.Find("div.container.posts tbody tr.post").Each(func(_ int, row *goquery.Selection) {
		post, err := m.parsePost(base, threadID, row)
		if err != nil {
			metrics.ObserveError("post")
			m.logger.Warn("skipping post",
				zap.Int64("thread_id", threadID), zap.Error(err))
			return
		}
		posts = append(posts, post)
	})
	return posts
}

func (m *Manager) parsePost(base string, threadID int64, row *goquery.Selection) (*forum.Post, error) {
	rawID, ok := row.Attr("id")
	if !ok || !strings.HasPrefix(rawID, "post-") {
		return nil, errors.New("post row has no post id")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(rawID, "post-"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse post id %q: %w", rawID, err)
	}

	userID, err := m.resolveAuthor(row.Find("td.left-panel").First())
	if err != nil {
		return nil, fmt.Errorf("post %d: %w", id, err)
	}

	post := &forum.Post{
		ID:       id,
		ThreadID: threadID,
		UserID:   userID,
		URL:      fmt.Sprintf("%s/post/%d", base, id),
	}
	if ts, ok := timestampAttr(row.Find("div.date").First()); ok {
		post.Date = ts
	}

	message := row.Find("td.content div.message").First()
	if html, err := message.Html(); err == nil {
		post.Message = strings.TrimSpace(html)
	}
	m.queueImages(message)

	if edited := row.Find("div.edited_by").First(); edited.Length() > 0 {
		if ts, ok := timestampAttr(edited); ok {
			post.LastEdited = &ts
		}
		if href, ok := edited.Find("a").First().Attr("href"); ok {
			if editorID, err := idFromPath(href); err == nil {
				post.EditUserID = &editorID
			}
		}
	}
	return post, nil
}

// scrapePoll renders the thread page in the headless browser (voter
// lists are client-rendered) and emits the Poll, its options, and its
// voters. A missing renderer downgrades to a warning: the thread and
// its posts are still scraped.
func (m *Manager) scrapePoll(ctx context.Context, threadURL string, threadID int64) {
	rendered, err := m.renderer.Render(ctx, threadURL)
	if err != nil {
		if errors.Is(err, fetch.ErrRenderingUnavailable) {
			m.logger.Warn("poll skipped: no renderer configured",
				zap.Int64("thread_id", threadID))
		} else {
			metrics.ObserveError("poll")
			m.logger.Warn("poll render failed",
				zap.Int64("thread_id", threadID), zap.Error(err))
		}
		return
	}
	metrics.ObservePage("poll")

	poll := rendered.Find("div.container.poll").First()
	if poll.Length() == 0 {
		m.logger.Warn("rendered page has no poll content",
			zap.Int64("thread_id", threadID))
		return
	}

	question := strings.TrimSpace(poll.Find("div.question").First().Text())
	m.contentQueue.Put(&forum.Poll{ID: threadID, Question: question})

	poll.Find("li.option").Each(func(_ int, option *goquery.Selection) {
		rawID, ok := option.Attr("data-id")
		if !ok {
			return
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return
		}
		record := &forum.PollOption{
			ID:     id,
			PollID: threadID,
			Name:   strings.TrimSpace(option.Find("span.name").First().Text()),
		}
		if votes, err := intText(option.Find("span.votes").First().Text()); err == nil {
			record.Votes = votes
		}
		m.contentQueue.Put(record)
	})

	poll.Find("div.voters a[data-id]").Each(func(_ int, voter *goquery.Selection) {
		rawID, _ := voter.Attr("data-id")
		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return
		}
		m.contentQueue.Put(&forum.PollVoter{PollID: threadID, UserID: userID})
	})
}

// boardIDFromNav recovers the owning board of a standalone thread from
// the last board link in the page's navigation tree.
func boardIDFromNav(doc *goquery.Document) (int64, error) {
	var boardID int64
	found := false
	doc.Find(`div#navigation-tree a[href*="/board/"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if match := boardURLPattern.FindStringSubmatch(href); match != nil {
			if id, err := strconv.ParseInt(match[2], 10, 64); err == nil {
				boardID = id
				found = true
			}
		}
	})
	if !found {
		return 0, errors.New("no board link in navigation tree")
	}
	return boardID, nil
}
