// Package kb holds the Index Document model and the mutation engine that keeps
// author identity, content identity and the topic index consistent.
//
// Documents are treated as immutable values: every mutation returns a new
// *Document and leaves its input untouched. Only Store touches disk.
package kb

import (
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Platform is the closed set of sources an author can come from.
type Platform string

const (
	PlatformX          Platform = "x"
	PlatformSubstack   Platform = "substack"
	PlatformLinkedIn   Platform = "linkedin"
	PlatformGenericWeb Platform = "generic_web"
)

// Platforms lists every platform in document order.
var Platforms = []Platform{PlatformX, PlatformSubstack, PlatformLinkedIn, PlatformGenericWeb}

// ParsePlatform validates s against the closed platform set.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.TrimSpace(s))
	if !p.Valid() {
		return "", goerr.Wrap(ErrUnknownPlatform, "unsupported platform", goerr.V("platform", s))
	}
	return p, nil
}

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformX, PlatformSubstack, PlatformLinkedIn, PlatformGenericWeb:
		return true
	}
	return false
}

// ContentKey is the author field that owns saved items for the platform.
func (p Platform) ContentKey() string {
	if p == PlatformX || p == PlatformLinkedIn {
		return "saved_posts"
	}
	return "saved_articles"
}

// Document is the Index Document: the table of contents of the knowledge base.
type Document struct {
	Version         int                 `yaml:"version"`
	LastUpdated     string              `yaml:"last_updated"`
	MyContent       map[string]any      `yaml:"my_content"`
	FavoriteAuthors FavoriteAuthors     `yaml:"favorite_authors"`
	TopicIndex      map[string][]string `yaml:"topic_index"`

	// Extra keeps top-level keys this version does not model.
	Extra map[string]any `yaml:",inline"`
}

// FavoriteAuthors holds the per-platform author lists in a fixed key order.
type FavoriteAuthors struct {
	X          []Author `yaml:"x"`
	Substack   []Author `yaml:"substack"`
	LinkedIn   []Author `yaml:"linkedin"`
	GenericWeb []Author `yaml:"generic_web"`

	Extra map[string]any `yaml:",inline"`
}

// List returns a pointer to the author list of p, or nil for an unknown platform.
func (f *FavoriteAuthors) List(p Platform) *[]Author {
	switch p {
	case PlatformX:
		return &f.X
	case PlatformSubstack:
		return &f.Substack
	case PlatformLinkedIn:
		return &f.LinkedIn
	case PlatformGenericWeb:
		return &f.GenericWeb
	}
	return nil
}

// Author is a followed source together with the content saved from it.
// Which identity field is populated depends on the platform.
type Author struct {
	Handle      string `yaml:"handle,omitempty"`
	Name        string `yaml:"name,omitempty"`
	ProfileURL  string `yaml:"profile_url,omitempty"`
	URL         string `yaml:"url,omitempty"`
	Source      string `yaml:"source,omitempty"`
	Writer      string `yaml:"author,omitempty"`
	Description string `yaml:"description,omitempty"`

	Topics        []string  `yaml:"topics,omitempty"`
	SavedPosts    []Content `yaml:"saved_posts,omitempty"`
	SavedArticles []Content `yaml:"saved_articles,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// Saved returns a pointer to the content list owned under p's content key.
func (a *Author) Saved(p Platform) *[]Content {
	if p.ContentKey() == "saved_posts" {
		return &a.SavedPosts
	}
	return &a.SavedArticles
}

// Content is one saved item.
type Content struct {
	URL           string   `yaml:"url"`
	Title         string   `yaml:"title,omitempty"`
	Text          string   `yaml:"text,omitempty"`
	Summary       string   `yaml:"summary,omitempty"`
	DatePublished string   `yaml:"date_published,omitempty"`
	DateSaved     string   `yaml:"date_saved,omitempty"`
	Topics        []string `yaml:"topics,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// Topics returns the topic_index keys in sorted order.
func (d *Document) Topics() []string {
	keys := make([]string, 0, len(d.TopicIndex))
	for k := range d.TopicIndex {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the modelled fields. Preserved unknown values
// are copied one level deep; the engine never mutates them.
func (d *Document) Clone() *Document {
	c := *d
	c.MyContent = cloneMap(d.MyContent)
	c.Extra = cloneMap(d.Extra)
	c.FavoriteAuthors = d.FavoriteAuthors.clone()
	c.TopicIndex = make(map[string][]string, len(d.TopicIndex))
	for k, refs := range d.TopicIndex {
		c.TopicIndex[k] = append([]string(nil), refs...)
	}
	return &c
}

func (f FavoriteAuthors) clone() FavoriteAuthors {
	return FavoriteAuthors{
		X:          cloneAuthors(f.X),
		Substack:   cloneAuthors(f.Substack),
		LinkedIn:   cloneAuthors(f.LinkedIn),
		GenericWeb: cloneAuthors(f.GenericWeb),
		Extra:      cloneMap(f.Extra),
	}
}

func cloneAuthors(in []Author) []Author {
	if in == nil {
		return nil
	}
	out := make([]Author, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}

func (a Author) clone() Author {
	c := a
	c.Topics = append([]string(nil), a.Topics...)
	c.SavedPosts = cloneContents(a.SavedPosts)
	c.SavedArticles = cloneContents(a.SavedArticles)
	c.Extra = cloneMap(a.Extra)
	return c
}

func cloneContents(in []Content) []Content {
	if in == nil {
		return nil
	}
	out := make([]Content, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}

func (c Content) clone() Content {
	out := c
	out.Topics = append([]string(nil), c.Topics...)
	out.Extra = cloneMap(c.Extra)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
