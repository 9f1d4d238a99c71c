package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
)

// ScrapeUsers walks the paginated member list, then scrapes every
// discovered profile through a bounded worker pool. Each profile emits
// exactly one User onto the user queue; per-profile failures are logged
// and skipped.
func (m *Manager) ScrapeUsers(ctx context.Context, membersURL string) error {
	base, err := siteBase(membersURL)
	if err != nil {
		return err
	}

	m.logger.Info("collecting user profile urls", zap.String("url", membersURL))

	var profileURLs []string
	pageURL := membersURL
	for {
		doc, err := m.fetcher.Get(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("fetch member list: %w", err)
		}
		metrics.ObservePage("members")

		for _, href := range memberHrefs(doc) {
			profileURLs = append(profileURLs, base+href)
		}

		href, ok := nextPageHref(doc.Selection)
		if !ok {
			break
		}
		pageURL = base + href
	}
	m.logger.Info("found user profiles", zap.Int("count", len(profileURLs)))

	urls := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < m.userWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for profileURL := range urls {
				if err := m.ScrapeUser(ctx, profileURL); err != nil {
					metrics.ObserveError("user")
					m.logger.Warn("skipping user profile",
						zap.String("url", profileURL), zap.Error(err))
				}
			}
		}()
	}

	for _, profileURL := range profileURLs {
		select {
		case urls <- profileURL:
		case <-ctx.Done():
			close(urls)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(urls)
	wg.Wait()
	return nil
}

// ScrapeUser scrapes one profile page and emits the User onto the user
// queue. The avatar is downloaded and linked synchronously because the
// link needs the image row's store-assigned id.
func (m *Manager) ScrapeUser(ctx context.Context, userURL string) error {
	user, avatarURL, err := m.scrapeUserProfile(ctx, userURL)
	if err != nil {
		return err
	}
	m.userQueue.Put(user)
	m.logger.Debug("scraped user profile", zap.String("user", user.Label()))

	if avatarURL != "" {
		img, err := m.processImage(ctx, avatarURL)
		if err != nil {
			m.logger.Warn("avatar processing failed",
				zap.String("url", avatarURL), zap.Error(err))
			return nil
		}
		if _, err := m.db.UpsertAvatar(&forum.Avatar{UserID: user.ID, ImageID: img.ID}); err != nil {
			m.logger.Warn("avatar link failed",
				zap.String("user", user.Label()), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) scrapeUserProfile(ctx context.Context, userURL string) (*forum.User, string, error) {
	id, err := idFromPath(userURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse user id from %s: %w", userURL, err)
	}

	doc, err := m.fetcher.Get(ctx, userURL)
	if err != nil {
		return nil, "", err
	}
	metrics.ObservePage("user")

	container := doc.Find("div.show-user").First()
	if container.Length() == 0 {
		return nil, "", fmt.Errorf("no profile content at %s", userURL)
	}

	user := &forum.User{ID: id, URL: userURL}

	nameAndGroup := container.Find("div.name_and_group").First()
	user.Name = strings.TrimSpace(nameAndGroup.Find("span.big_username").Text())
	// The group name is the bare text node after the <br> that follows
	// the display name.
	nameAndGroup.Contents().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if goquery.NodeName(n) == "#text" {
			if text := strings.TrimSpace(n.Text()); text != "" {
				user.Group = text
				return false
			}
		}
		return true
	})

	m.parseUserControls(container, user)
	m.parseUserInfoBoxes(container, user)

	avatarURL := ""
	if src, ok := container.Find("div.avatar img").First().Attr("src"); ok {
		avatarURL = src
	}
	return user, avatarURL, nil
}

// parseUserControls reads the username and last-online fields, which
// live in a flat label/value run of nodes rather than a table.
func (m *Manager) parseUserControls(container *goquery.Selection, user *forum.User) {
	controls := container.Find("div.float-right.controls div.float-right.clear.pad-top").First()

	var nodes []*goquery.Selection
	controls.Contents().Each(func(_ int, n *goquery.Selection) {
		nodes = append(nodes, n)
	})
	for i, n := range nodes {
		if goquery.NodeName(n) != "#text" {
			continue
		}
		switch strings.TrimSpace(n.Text()) {
		case "Username:":
			if i+1 < len(nodes) {
				user.Username = strings.TrimSpace(nodes[i+1].Text())
			}
		case "Last Online:":
			if i+1 < len(nodes) {
				if ts, ok := timestampAttr(nodes[i+1]); ok {
					user.LastOnline = ts
				}
			}
		case "Member is Online":
			// The profile shows no timestamp for users currently online
			// (including the session's own account).
			user.LastOnline = time.Now().Unix()
		}
	}
}

// parseUserInfoBoxes reads the profile's content boxes: a heading/value
// table first, then optional signature and instant-messenger boxes.
func (m *Manager) parseUserInfoBoxes(container *goquery.Selection, user *forum.User) {
	statusForm := container.Find("div.pad-all-double.ui-helper-clearfix.clear").First()
	boxes := statusForm.Find("#center-column div.content-box")
	if boxes.Length() == 0 {
		return
	}

	// The session's own profile carries a status-update form in an extra
	// leading box; drop it so the info table comes first.
	if boxes.First().Find("td.status-input").Length() > 0 {
		boxes = boxes.Slice(1, boxes.Length())
	}
	if boxes.Length() == 0 {
		return
	}

	boxes.First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		heading := strings.TrimSuffix(strings.TrimSpace(cells.Eq(0).Text()), ":")
		val := cells.Eq(1)

		switch heading {
		case "Age":
			if age, err := intText(val.Text()); err == nil {
				user.Age = &age
			}
		case "Birthday":
			user.Birthdate = strings.TrimSpace(val.Text())
		case "Date Registered":
			if ts, ok := timestampAttr(val); ok {
				user.DateRegistered = ts
			}
		case "Email":
			user.Email = strings.TrimSpace(val.Text())
		case "Gender":
			user.Gender = strings.TrimSpace(val.Text())
		case "Latest Status":
			user.LatestStatus = strings.TrimSpace(val.Find("span").First().Text())
		case "Location":
			user.Location = strings.TrimSpace(val.Text())
		case "Posts":
			if n, err := intText(val.Text()); err == nil {
				user.PostCount = n
			}
		case "Web Site":
			anchor := val.Find("a").First()
			user.WebsiteURL, _ = anchor.Attr("href")
			user.Website = strings.TrimSpace(anchor.Text())
		}
	})

	boxes.Each(func(i int, box *goquery.Selection) {
		if i == 0 {
			return
		}
		if strings.HasPrefix(strings.TrimSpace(box.Text()), "Signature") {
			// The signature markup starts after the <hr> separator;
			// keep it verbatim.
			if html, err := box.Html(); err == nil {
				if _, after, found := strings.Cut(html, "<hr"); found {
					if _, body, closed := strings.Cut(after, ">"); closed {
						user.Signature = strings.TrimSpace(body)
					}
				}
			}
			return
		}
		if messengers := box.Find("div.social.messengers").First(); messengers.Length() > 0 {
			var entries []string
			messengers.Find("span.label").Each(func(_ int, label *goquery.Selection) {
				entries = append(entries, label.Text()+label.Next().Text())
			})
			user.InstantMessengers = strings.Join(entries, ";")
		}
	})
}

// siteBase reduces a page URL to its scheme://host root, used to
// resolve the site-relative hrefs ProBoards pages carry.
func siteBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %s has no scheme or host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
