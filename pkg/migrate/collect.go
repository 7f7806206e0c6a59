// Package migrate creates bookmark folders for items that were saved into the
// index before bookmarks existed.
package migrate

import (
	"strings"

	"github.com/entrhq/kbhost/pkg/kb"
)

// Candidate is one saved item that may need a bookmark folder.
type Candidate struct {
	Platform      kb.Platform
	URL           string
	Title         string
	Summary       string
	DatePublished string
	Topics        []string
	AuthorName    string
	SourceName    string
}

// Collect lists every saved item that has a URL, in document order.
func Collect(doc *kb.Document) []Candidate {
	if doc == nil {
		return nil
	}
	var out []Candidate
	for _, p := range kb.Platforms {
		list := doc.FavoriteAuthors.List(p)
		for i := range *list {
			a := &(*list)[i]
			authorName, sourceName := kb.Attribution(p, a)
			for _, c := range *a.Saved(p) {
				url := strings.TrimSpace(c.URL)
				if url == "" {
					continue
				}
				out = append(out, Candidate{
					Platform:      p,
					URL:           url,
					Title:         strings.TrimSpace(c.Title),
					Summary:       summaryOf(c),
					DatePublished: strings.TrimSpace(c.DatePublished),
					Topics:        append([]string(nil), c.Topics...),
					AuthorName:    authorName,
					SourceName:    sourceName,
				})
			}
		}
	}
	return out
}

// summaryOf prefers summary, then the legacy preview key, then text.
func summaryOf(c kb.Content) string {
	if s := strings.TrimSpace(c.Summary); s != "" {
		return s
	}
	if s, ok := c.Extra["preview"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(c.Text)
}
