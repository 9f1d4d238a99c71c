package scrape

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
)

// ScrapeBoard scrapes one board subtree from its URL: the board's own
// record first, then sub-boards (depth-first), then every thread across
// the board's paginated listing.
func (m *Manager) ScrapeBoard(ctx context.Context, boardURL string) error {
	return m.scrapeBoard(ctx, boardURL, nil, nil, nil)
}

func (m *Manager) scrapeBoard(
	ctx context.Context, boardURL string,
	categoryID, parentID *int64, moderators []int64,
) error {
	match := boardURLPattern.FindStringSubmatch(boardURL)
	if match == nil {
		return fmt.Errorf("not a board url: %s", boardURL)
	}
	base := match[1]
	boardID, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parse board id from %s: %w", boardURL, err)
	}

	doc, err := m.fetcher.Get(ctx, boardURL)
	if err != nil {
		return fmt.Errorf("fetch board %d: %w", boardID, err)
	}
	metrics.ObservePage("board")

	board := &forum.Board{
		ID:         boardID,
		CategoryID: categoryID,
		ParentID:   parentID,
		URL:        boardURL,
	}

	stats := doc.Find("div.container.stats").First()
	if stats.Length() == 0 {
		// Boards behind a password expose only their name; emit what we
		// have and do not descend.
		html, _ := doc.Html()
		if !strings.Contains(html, "This board is password protected") {
			return fmt.Errorf("board %d page has no stats container", boardID)
		}
		board.Name = strings.TrimSpace(
			doc.Find("div.container div.title-bar h2").First().Text())
		board.PasswordProtected = true
		m.contentQueue.Put(board)
		m.emitModerators(boardID, moderators)
		m.logger.Info("board is password protected; not descending",
			zap.String("board", board.Label()))
		return nil
	}

	board.Name = strings.TrimSpace(stats.Find("div.board-name").First().Text())
	description := strings.TrimSpace(stats.Find("div.board-description").First().Text())
	board.Description = &description

	m.contentQueue.Put(board)
	m.emitModerators(boardID, moderators)

	// Sub-boards before threads so a sub-board row precedes everything
	// under it.
	var subErr error
	doc.Find("div.container.boards tbody tr").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("td.main.clickable span.link a").First().Attr("href")
		if !ok {
			return
		}
		if err := m.scrapeBoard(ctx, base+href, categoryID, &boardID, nil); err != nil {
			metrics.ObserveError("board")
			m.logger.Warn("skipping sub-board",
				zap.String("url", base+href), zap.Error(err))
			if ctx.Err() != nil {
				subErr = ctx.Err()
			}
		}
	})
	if subErr != nil {
		return subErr
	}

	return m.scrapeThreadListing(ctx, base, boardID, doc)
}

func (m *Manager) emitModerators(boardID int64, moderators []int64) {
	for _, userID := range moderators {
		m.contentQueue.Put(&forum.Moderator{BoardID: boardID, UserID: userID})
	}
}

// scrapeThreadListing pages through a board's thread listing and
// descends into each thread.
func (m *Manager) scrapeThreadListing(
	ctx context.Context, base string, boardID int64, doc *goquery.Document,
) error {
	threads := doc.Find("div.container.threads").First()

	for threads.Length() > 0 {
		var rowErr error
		threads.Find("tbody tr.thread").Each(func(_ int, row *goquery.Selection) {
			if err := m.scrapeThreadRow(ctx, base, boardID, row); err != nil {
				metrics.ObserveError("thread")
				m.logger.Warn("skipping thread", zap.Error(err))
				if ctx.Err() != nil {
					rowErr = ctx.Err()
				}
			}
		})
		if rowErr != nil {
			return rowErr
		}

		href, ok := nextPageHref(threads)
		if !ok {
			return nil
		}
		nextURL := base + href
		nextDoc, err := m.fetcher.Get(ctx, nextURL)
		if err != nil {
			return fmt.Errorf("fetch thread listing page %s: %w", nextURL, err)
		}
		metrics.ObservePage("board")
		threads = nextDoc.Find("div.container.threads").First()
	}
	return nil
}

// scrapeThreadRow reads one listing row's metadata (flags, creator,
// view count) and scrapes the thread it links to.
func (m *Manager) scrapeThreadRow(
	ctx context.Context, base string, boardID int64, row *goquery.Selection,
) error {
	creatorID, err := m.resolveAuthor(row.Find("td.created-by").First())
	if err != nil {
		return fmt.Errorf("resolve thread creator: %w", err)
	}

	href, ok := row.Find("td.main.clickable span.link.target a").First().Attr("href")
	if !ok {
		return fmt.Errorf("thread row has no link")
	}

	meta := &threadMeta{
		BoardID:      boardID,
		UserID:       creatorID,
		Locked:       row.HasClass("locked"),
		Sticky:       row.HasClass("sticky"),
		Announcement: row.HasClass("announcement"),
	}
	if views, err := intText(row.Find("td.views").First().Text()); err == nil {
		meta.Views = views
	}

	return m.scrapeThread(ctx, base+href, meta)
}
