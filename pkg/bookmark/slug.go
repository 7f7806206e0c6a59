package bookmark

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxSlugLength bounds the full folder name.
	MaxSlugLength = 100

	maxSlugText = 80
	untitled    = "untitled"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

	publishedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
	}
)

// Slug derives the folder name "YYYY-MM-DD_descriptive-text". The date comes
// from datePublished when it parses and from now otherwise. The text comes
// from title, else the URL path, else "untitled".
func Slug(title, rawURL, datePublished string, now time.Time) string {
	date := now.Format("2006-01-02")
	if t, ok := ParseDate(datePublished); ok {
		date = t.Format("2006-01-02")
	}

	text := slugText(title)
	if text == "" {
		if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
			text = slugText(strings.ReplaceAll(u.Path, "/", " "))
		}
	}
	if text == "" {
		text = untitled
	}

	slug := date + "_" + text
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}

// ParseDate accepts the publication date formats seen in saved records.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func slugText(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	text := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(text) > maxSlugText {
		text = strings.TrimRight(text[:maxSlugText], "-")
	}
	return text
}

// ValidateSlug rejects names that could escape the base directory or collide
// with staging folders.
func ValidateSlug(slug string) error {
	switch {
	case strings.TrimSpace(slug) == "":
		return goerr.Wrap(ErrInvalidSlug, "slug is empty")
	case len(slug) > MaxSlugLength:
		return goerr.Wrap(ErrInvalidSlug, "slug too long", goerr.V("slug", slug), goerr.V("max", MaxSlugLength))
	case strings.ContainsAny(slug, "/\\\x00"):
		return goerr.Wrap(ErrInvalidSlug, "slug contains a path separator", goerr.V("slug", slug))
	case strings.HasPrefix(slug, "."):
		return goerr.Wrap(ErrInvalidSlug, "slug starts with a dot", goerr.V("slug", slug))
	case strings.Contains(slug, ".."):
		return goerr.Wrap(ErrInvalidSlug, "slug contains '..'", goerr.V("slug", slug))
	}
	return nil
}
