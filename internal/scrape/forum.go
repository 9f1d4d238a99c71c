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

// ScrapeForum walks the whole site from the homepage: every category
// block, each board under it (recursing through sub-boards, threads,
// and posts), and finally the shoutbox. Emission order puts each parent
// on the content queue before anything it owns.
func (m *Manager) ScrapeForum(ctx context.Context, homeURL string) error {
	base, err := siteBase(homeURL)
	if err != nil {
		return err
	}

	m.logger.Info("scraping entire forum", zap.String("url", homeURL))

	doc, err := m.fetcher.Get(ctx, homeURL)
	if err != nil {
		return fmt.Errorf("fetch homepage: %w", err)
	}
	metrics.ObservePage("home")

	var categories []*goquery.Selection
	doc.Find("div.container.boards").Each(func(_ int, cat *goquery.Selection) {
		categories = append(categories, cat)
	})

	for _, cat := range categories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.scrapeCategory(ctx, base, cat); err != nil {
			metrics.ObserveError("category")
			m.logger.Warn("skipping category", zap.Error(err))
		}
	}

	m.scrapeShoutbox(doc)
	return nil
}

// scrapeCategory emits one category and descends into each board listed
// under it.
func (m *Manager) scrapeCategory(ctx context.Context, base string, cat *goquery.Selection) error {
	// The category id lives in a preceding <a name="category-N"> anchor.
	idTag := cat.PrevAllFiltered(`a[name^="category-"]`).First()
	nameAttr, ok := idTag.Attr("name")
	if !ok {
		return fmt.Errorf("category block has no category anchor")
	}
	categoryID, err := strconv.ParseInt(strings.TrimPrefix(nameAttr, "category-"), 10, 64)
	if err != nil {
		return fmt.Errorf("parse category id from %q: %w", nameAttr, err)
	}

	name := strings.TrimSpace(cat.Find("div.title_wrapper").First().Text())
	m.contentQueue.Put(&forum.Category{ID: categoryID, Name: name})

	var boardErr error
	cat.Find("tr.o-board, tr.board, tr.item").Each(func(_ int, row *goquery.Selection) {
		clickable := row.Find("td.main.clickable").First()
		href, ok := clickable.Find("span.link a").First().Attr("href")
		if !ok {
			return
		}

		// Moderator ids are listed inline on the homepage only.
		var moderators []int64
		clickable.Find("p.moderators a[data-id]").Each(func(_ int, a *goquery.Selection) {
			if raw, ok := a.Attr("data-id"); ok {
				if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
					moderators = append(moderators, id)
				}
			}
		})

		err := m.scrapeBoard(ctx, base+href, &categoryID, nil, moderators)
		if err != nil {
			metrics.ObserveError("board")
			m.logger.Warn("skipping board",
				zap.String("url", base+href), zap.Error(err))
			if ctx.Err() != nil {
				boardErr = ctx.Err()
			}
		}
	})
	return boardErr
}

// scrapeShoutbox emits the homepage's shoutbox messages. Guest shouters
// are resolved through the guest id allocator like guest post authors.
func (m *Manager) scrapeShoutbox(doc *goquery.Document) {
	shoutbox := doc.Find("div.container.shoutbox").First()
	if shoutbox.Length() == 0 {
		return
	}

	shoutbox.Find("div.shoutbox-post").Each(func(_ int, shout *goquery.Selection) {
		rawID, ok := shout.Attr("data-id")
		if !ok {
			return
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return
		}

		userID, err := m.resolveAuthor(shout.Find("div.author").First())
		if err != nil {
			metrics.ObserveError("shoutbox")
			m.logger.Warn("skipping shoutbox post",
				zap.Int64("id", id), zap.Error(err))
			return
		}

		post := &forum.ShoutboxPost{ID: id, UserID: userID}
		if ts, ok := timestampAttr(shout); ok {
			post.Date = ts
		}
		message := shout.Find("span.message").First()
		if html, err := message.Html(); err == nil {
			post.Message = strings.TrimSpace(html)
		}
		m.contentQueue.Put(post)
		m.queueImages(message)
	})
}
