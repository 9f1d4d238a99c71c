package forum

import (
	"fmt"
	"net/url"
	"strings"
)

// TargetKind classifies a scrape-target URL by its path shape.
type TargetKind string

// Recognized target kinds.
const (
	TargetHomepage TargetKind = "homepage"
	TargetMembers  TargetKind = "members"
	TargetUser     TargetKind = "user"
	TargetBoard    TargetKind = "board"
	TargetThread   TargetKind = "thread"
)

// Target is a classified scrape-target URL.
type Target struct {
	Kind TargetKind
	// BaseURL is the site root, e.g. "https://example.proboards.com".
	BaseURL string
	// URL is the full normalized target URL.
	URL string
}

// ClassifyURL splits a forum URL into its site base and target kind.
// A bare homepage URL means a full-site scrape; /members, /user/{id},
// /board/{id}/... and /thread/{id}/... select narrower scrapes.
func ClassifyURL(raw string) (Target, error) {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("url %q is missing a scheme or host", raw)
	}

	base := u.Scheme + "://" + u.Host
	target := Target{BaseURL: base, URL: raw}

	switch {
	case u.Path == "" || u.Path == "/":
		target.Kind = TargetHomepage
	case strings.HasPrefix(u.Path, "/members"):
		target.Kind = TargetMembers
	case strings.HasPrefix(u.Path, "/user/"):
		target.Kind = TargetUser
	case strings.HasPrefix(u.Path, "/board/"):
		target.Kind = TargetBoard
	case strings.HasPrefix(u.Path, "/thread/"):
		target.Kind = TargetThread
	default:
		return Target{}, fmt.Errorf("unrecognized target path %q", u.Path)
	}
	return target, nil
}
