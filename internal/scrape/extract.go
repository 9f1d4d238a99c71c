package scrape

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

// Selector helpers for the ProBoards page structures. Helpers return a
// zero value (or false) when the expected element is missing; callers
// decide whether that abandons the item or the whole subtree.

var (
	boardURLPattern  = regexp.MustCompile(`^(.*)/board/(\d+)(?:/.*)?$`)
	threadURLPattern = regexp.MustCompile(`^(.*)/thread/(\d+)(?:/.*)?$`)
)

// nextPageHref reads the "next" pagination control under root. A
// missing control, a state-disabled control, or an anchor with no href
// all terminate pagination.
func nextPageHref(root *goquery.Selection) (string, bool) {
	next := root.Find("ul.ui-pagination li.next").First()
	if next.Length() == 0 || next.HasClass("state-disabled") {
		return "", false
	}
	href, ok := next.Find("a").First().Attr("href")
	if !ok || href == "" {
		return "", false
	}
	return href, true
}

// memberHrefs extracts the profile links from one member-list page.
// The hrefs are site-relative ("/user/42").
func memberHrefs(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("div.container.members tbody tr").Each(func(_ int, row *goquery.Selection) {
		if href, ok := row.Find("a").First().Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// timestampAttr reads a Unix-seconds timestamp from the first
// <abbr data-timestamp> at or under sel.
func timestampAttr(sel *goquery.Selection) (int64, bool) {
	abbr := sel.Find("abbr[data-timestamp]").First()
	if abbr.Length() == 0 {
		abbr = sel.Filter("abbr[data-timestamp]").First()
	}
	raw, ok := abbr.Attr("data-timestamp")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// intText parses an integer that may carry thousands separators
// ("1,500").
func intText(s string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
}

// idFromPath returns the trailing numeric path segment of a URL or
// href, e.g. 42 for "/user/42".
func idFromPath(href string) (int64, error) {
	href = strings.TrimSuffix(href, "/")
	i := strings.LastIndex(href, "/")
	if i < 0 || i == len(href)-1 {
		return 0, errors.New("no trailing id segment in " + href)
	}
	return strconv.ParseInt(href[i+1:], 10, 64)
}

// resolveAuthor maps the author block of a listing row, post, or shout
// to a user id, allocating a guest id when there is no profile link.
func (m *Manager) resolveAuthor(sel *goquery.Selection) (int64, error) {
	if guest := sel.Find("span.user-guest").First(); guest.Length() > 0 {
		return m.db.Guest(strings.TrimSpace(guest.Text()))
	}
	href, ok := sel.Find("a").First().Attr("href")
	if !ok {
		return 0, errors.New("author block has no profile link or guest marker")
	}
	return idFromPath(href)
}

// queueImages emits an Image content item for every <img> under sel.
// Downloads happen on the consumer so traversal is never blocked on
// third-party image hosts.
func (m *Manager) queueImages(sel *goquery.Selection) {
	sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			m.contentQueue.Put(&forum.Image{URL: src})
		}
	})
}
