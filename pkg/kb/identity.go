package kb

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Identity is the platform-specific key that makes an author unique within
// its platform list. The set of implementations is closed.
type Identity interface {
	Platform() Platform
	// Key is the normalized form used for equality.
	Key() string

	assign(a *Author)
	sealed()
}

// XIdentity identifies an x author by handle.
type XIdentity struct{ Handle string }

// LinkedInIdentity identifies a linkedin author by profile URL.
type LinkedInIdentity struct{ ProfileURL string }

// SubstackIdentity identifies a substack publication by URL.
type SubstackIdentity struct{ URL string }

// WebIdentity identifies a generic web author by name and source site.
type WebIdentity struct{ Name, Source string }

func (XIdentity) Platform() Platform        { return PlatformX }
func (LinkedInIdentity) Platform() Platform { return PlatformLinkedIn }
func (SubstackIdentity) Platform() Platform { return PlatformSubstack }
func (WebIdentity) Platform() Platform      { return PlatformGenericWeb }

func (i XIdentity) Key() string        { return NormalizeHandle(i.Handle) }
func (i LinkedInIdentity) Key() string { return NormalizeURL(i.ProfileURL) }
func (i SubstackIdentity) Key() string { return NormalizeURL(i.URL) }
func (i WebIdentity) Key() string {
	return strings.ToLower(strings.TrimSpace(i.Name)) + "|" + NormalizeURL(i.Source)
}

func (i XIdentity) assign(a *Author) {
	a.Handle = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(i.Handle), "@"))
}
func (i LinkedInIdentity) assign(a *Author) { a.ProfileURL = strings.TrimSpace(i.ProfileURL) }
func (i SubstackIdentity) assign(a *Author) { a.URL = strings.TrimSpace(i.URL) }
func (i WebIdentity) assign(a *Author) {
	a.Name = strings.TrimSpace(i.Name)
	a.Source = strings.TrimSpace(i.Source)
}

func (XIdentity) sealed()        {}
func (LinkedInIdentity) sealed() {}
func (SubstackIdentity) sealed() {}
func (WebIdentity) sealed()      {}

// IdentityOf reads the identity of a stored author. ok is false when the
// author lacks the identity fields its platform requires.
func IdentityOf(p Platform, a *Author) (id Identity, ok bool) {
	switch p {
	case PlatformX:
		id = XIdentity{Handle: a.Handle}
	case PlatformLinkedIn:
		id = LinkedInIdentity{ProfileURL: a.ProfileURL}
	case PlatformSubstack:
		id = SubstackIdentity{URL: a.URL}
	case PlatformGenericWeb:
		if strings.TrimSpace(a.Name) == "" {
			return nil, false
		}
		id = WebIdentity{Name: a.Name, Source: a.Source}
	default:
		return nil, false
	}
	if id.Key() == "" {
		return nil, false
	}
	return id, true
}

// findAuthor returns the index of the author matching id, or -1.
func findAuthor(list []Author, id Identity) int {
	want := id.Key()
	for i := range list {
		got, ok := IdentityOf(id.Platform(), &list[i])
		if ok && got.Key() == want {
			return i
		}
	}
	return -1
}

// AuthorReference is the display string used to cross-link topics to an
// author: "@handle" on x, the display name elsewhere, falling back to the
// identity value.
func AuthorReference(p Platform, a *Author) string {
	if p == PlatformX {
		h := strings.TrimPrefix(strings.TrimSpace(a.Handle), "@")
		if h == "" {
			return strings.TrimSpace(a.Name)
		}
		return "@" + h
	}
	for _, v := range []string{a.Name, a.Writer, a.ProfileURL, a.URL, a.Source} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Attribution returns the author and source names recorded on a bookmark.
func Attribution(p Platform, a *Author) (authorName, sourceName string) {
	switch p {
	case PlatformX:
		return AuthorReference(p, a), "X (Twitter)"
	case PlatformLinkedIn:
		return a.Name, "LinkedIn"
	case PlatformSubstack:
		authorName = a.Writer
		if authorName == "" {
			authorName = a.Name
		}
		return authorName, a.Name
	default:
		return a.Name, a.Source
	}
}

// ExtractedRecord is what the extension scraped from a page.
type ExtractedRecord struct {
	Platform        Platform     `json:"platform"`
	Author          AuthorInfo   `json:"author"`
	Content         *ContentInfo `json:"content,omitempty"`
	SuggestedTopics []string     `json:"suggestedTopics,omitempty"`
}

// AuthorInfo carries the author fields of an extracted record.
type AuthorInfo struct {
	Handle      string `json:"handle,omitempty"`
	Name        string `json:"name,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
	URL         string `json:"url,omitempty"`
	Source      string `json:"source,omitempty"`
	Writer      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
}

// ContentInfo carries the content fields of an extracted record.
type ContentInfo struct {
	Title         string `json:"title,omitempty"`
	Text          string `json:"text,omitempty"`
	Summary       string `json:"summary,omitempty"`
	URL           string `json:"url,omitempty"`
	DatePublished string `json:"date_published,omitempty"`
}

// AuthorFields are the non-identity author fields carried into an upsert.
type AuthorFields struct {
	Name        string
	Writer      string
	Description string
	Topics      []string
}

// Identity converts the loosely typed record into the closed identity type.
func (r *ExtractedRecord) Identity() (Identity, error) {
	p, err := ParsePlatform(string(r.Platform))
	if err != nil {
		return nil, err
	}

	var id Identity
	switch p {
	case PlatformX:
		id = XIdentity{Handle: r.Author.Handle}
	case PlatformLinkedIn:
		id = LinkedInIdentity{ProfileURL: r.Author.ProfileURL}
	case PlatformSubstack:
		id = SubstackIdentity{URL: r.Author.URL}
	case PlatformGenericWeb:
		id = WebIdentity{Name: r.Author.Name, Source: r.Author.Source}
		if strings.TrimSpace(r.Author.Name) == "" {
			return nil, goerr.Wrap(ErrInvalidRecord, "generic_web author requires a name")
		}
	}
	if id.Key() == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "author identity is empty", goerr.V("platform", p))
	}
	return id, nil
}

// Fields returns the author fields of the record with its suggested topics.
func (r *ExtractedRecord) Fields() AuthorFields {
	return AuthorFields{
		Name:        strings.TrimSpace(r.Author.Name),
		Writer:      strings.TrimSpace(r.Author.Writer),
		Description: strings.TrimSpace(r.Author.Description),
		Topics:      normalizeTopics(r.SuggestedTopics),
	}
}

// Item returns the content of the record, if it carries any.
func (r *ExtractedRecord) Item() (Content, bool) {
	if r.Content == nil || strings.TrimSpace(r.Content.URL) == "" {
		return Content{}, false
	}
	return Content{
		URL:           strings.TrimSpace(r.Content.URL),
		Title:         strings.TrimSpace(r.Content.Title),
		Text:          r.Content.Text,
		Summary:       r.Content.Summary,
		DatePublished: strings.TrimSpace(r.Content.DatePublished),
		Topics:        normalizeTopics(r.SuggestedTopics),
	}, true
}
