package bookmark

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Status tells whether the body was captured.
type Status string

const (
	StatusFinal   Status = "final"
	StatusPartial Status = "partial"
)

const (
	metaFile      = "meta.yaml"
	contentFile   = "assets/content.md"
	retrievalFile = "canonicals/retrieval.md"
	aliasTarget   = "../assets/content.md"

	// DefaultGenerator is recorded as canonical.generator.
	DefaultGenerator = "kb-host"

	emptyBody = "*No content extracted.*"
)

// timeNow is injected for testability.
var timeNow = time.Now

// Draft is everything needed to render one bookmark.
type Draft struct {
	Slug          string
	Title         string
	SourceURL     string
	Platform      kb.Platform
	AuthorName    string
	SourceName    string
	DatePublished string
	Tags          []string
	Body          string
	Status        Status

	// Record is registered in the index after a successful commit.
	Record *kb.ExtractedRecord
}

// DraftFromRecord turns an extracted record and its Markdown body into a
// draft. An empty body yields a partial bookmark.
func DraftFromRecord(rec kb.ExtractedRecord, body string) (Draft, error) {
	if _, err := rec.Identity(); err != nil {
		return Draft{}, err
	}
	if rec.Content == nil || strings.TrimSpace(rec.Content.URL) == "" {
		return Draft{}, goerr.Wrap(kb.ErrInvalidRecord, "bookmark requires content.url")
	}

	author := kb.Author{
		Handle:     rec.Author.Handle,
		Name:       rec.Author.Name,
		ProfileURL: rec.Author.ProfileURL,
		URL:        rec.Author.URL,
		Source:     rec.Author.Source,
		Writer:     rec.Author.Writer,
	}
	authorName, sourceName := kb.Attribution(rec.Platform, &author)

	status := StatusFinal
	if strings.TrimSpace(body) == "" {
		status = StatusPartial
	}
	return Draft{
		Title:         rec.Content.Title,
		SourceURL:     strings.TrimSpace(rec.Content.URL),
		Platform:      rec.Platform,
		AuthorName:    authorName,
		SourceName:    sourceName,
		DatePublished: strings.TrimSpace(rec.Content.DatePublished),
		Tags:          rec.Fields().Topics,
		Body:          body,
		Status:        status,
		Record:        &rec,
	}, nil
}

// Document is a fully rendered bookmark ready to commit.
type Document struct {
	Slug     string
	Meta     *Meta
	MetaYAML []byte
	Content  []byte
	SHA256   string
	Record   *kb.ExtractedRecord
}

// Meta is the meta.yaml record.
type Meta struct {
	DocID            string           `yaml:"doc_id"`
	DocType          string           `yaml:"doc_type"`
	Title            string           `yaml:"title"`
	CreatedAt        string           `yaml:"created_at"`
	UpdatedAt        string           `yaml:"updated_at"`
	Language         string           `yaml:"language"`
	Status           Status           `yaml:"status"`
	Visibility       string           `yaml:"visibility"`
	Canonical        Canonical        `yaml:"canonical"`
	SourceOfTruth    SourceOfTruth    `yaml:"source_of_truth"`
	Assets           []Asset          `yaml:"assets"`
	Tags             []string         `yaml:"tags"`
	Relationships    Relationships    `yaml:"relationships"`
	BookmarkMetadata BookmarkMetadata `yaml:"bookmark_metadata"`
}

type Canonical struct {
	Path          string `yaml:"path"`
	GeneratedFrom string `yaml:"generated_from"`
	Generator     string `yaml:"generator"`
	GeneratedAt   string `yaml:"generated_at"`
}

type SourceOfTruth struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
}

type Asset struct {
	Path      string `yaml:"path"`
	MediaType string `yaml:"media_type"`
	SHA256    string `yaml:"sha256"`
	CreatedAt string `yaml:"created_at"`
}

type Relationships struct {
	DerivedFrom []string `yaml:"derived_from"`
	Related     []string `yaml:"related"`
}

type BookmarkMetadata struct {
	SourceURL      string      `yaml:"source_url"`
	Platform       kb.Platform `yaml:"platform"`
	AuthorName     string      `yaml:"author_name"`
	SourceName     string      `yaml:"source_name"`
	DatePublished  string      `yaml:"date_published"`
	DateBookmarked string      `yaml:"date_bookmarked"`
}

// FrontMatter is the YAML header of assets/content.md.
type FrontMatter struct {
	Title          string      `yaml:"title"`
	SourceURL      string      `yaml:"source_url"`
	Author         string      `yaml:"author,omitempty"`
	Source         string      `yaml:"source,omitempty"`
	Platform       kb.Platform `yaml:"platform"`
	DatePublished  string      `yaml:"date_published"`
	DateBookmarked string      `yaml:"date_bookmarked"`
	Status         Status      `yaml:"status"`
	Tags           []string    `yaml:"tags"`
}

// Build renders d. It touches nothing on disk.
func Build(d Draft, generator string) (*Document, error) {
	if strings.TrimSpace(d.SourceURL) == "" {
		return nil, goerr.Wrap(kb.ErrInvalidRecord, "bookmark requires a source url")
	}
	if d.Platform != "" && !d.Platform.Valid() {
		return nil, goerr.Wrap(kb.ErrUnknownPlatform, "unsupported platform", goerr.V("platform", d.Platform))
	}
	if generator == "" {
		generator = DefaultGenerator
	}
	if d.Status != StatusPartial {
		d.Status = StatusFinal
	}

	now := timeNow().UTC()
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = "Untitled"
	}
	slug := d.Slug
	if slug == "" {
		slug = Slug(d.Title, d.SourceURL, d.DatePublished, now)
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	created := now.Format(time.RFC3339)
	bookmarked := now.Format(kb.DateLayout)

	content, err := renderContent(FrontMatter{
		Title:          title,
		SourceURL:      d.SourceURL,
		Author:         d.AuthorName,
		Source:         d.SourceName,
		Platform:       d.Platform,
		DatePublished:  d.DatePublished,
		DateBookmarked: bookmarked,
		Status:         d.Status,
		Tags:           tags,
	}, d.Body)
	if err != nil {
		return nil, err
	}
	sum := Digest(content)

	meta := &Meta{
		DocID:      slug,
		DocType:    "bookmark",
		Title:      title,
		CreatedAt:  created,
		UpdatedAt:  created,
		Language:   "en",
		Status:     d.Status,
		Visibility: "private",
		Canonical: Canonical{
			Path:          retrievalFile,
			GeneratedFrom: contentFile,
			Generator:     generator,
			GeneratedAt:   created,
		},
		SourceOfTruth: SourceOfTruth{Path: contentFile, SHA256: sum},
		Assets: []Asset{{
			Path:      contentFile,
			MediaType: "text/markdown",
			SHA256:    sum,
			CreatedAt: created,
		}},
		Tags:          tags,
		Relationships: Relationships{DerivedFrom: []string{}, Related: []string{}},
		BookmarkMetadata: BookmarkMetadata{
			SourceURL:      d.SourceURL,
			Platform:       d.Platform,
			AuthorName:     d.AuthorName,
			SourceName:     d.SourceName,
			DatePublished:  d.DatePublished,
			DateBookmarked: bookmarked,
		},
	}
	metaYAML, err := encodeYAML(meta)
	if err != nil {
		return nil, err
	}

	return &Document{
		Slug:     slug,
		Meta:     meta,
		MetaYAML: metaYAML,
		Content:  content,
		SHA256:   sum,
		Record:   d.Record,
	}, nil
}

// Digest is the hex SHA-256 recorded for content.md.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

const frontMatterDelimiter = "---"

func renderContent(fm FrontMatter, body string) ([]byte, error) {
	head, err := encodeYAML(&fm)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(head)
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.WriteString("# " + fm.Title + "\n\n")
	if fm.Source != "" {
		sb.WriteString("**Source:** [" + fm.Source + "](" + fm.SourceURL + ")\n")
	} else {
		sb.WriteString("**Source:** [" + fm.SourceURL + "](" + fm.SourceURL + ")\n")
	}
	if fm.Author != "" {
		sb.WriteString("**Author:** " + fm.Author + "\n")
	}
	if fm.DatePublished != "" {
		sb.WriteString("**Published:** " + fm.DatePublished + "\n")
	}
	sb.WriteString("\n" + frontMatterDelimiter + "\n\n")
	if strings.TrimSpace(body) == "" {
		sb.WriteString(emptyBody)
	} else {
		sb.WriteString(body)
	}
	return []byte(sb.String()), nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, goerr.Wrap(err, "failed to encode yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to encode yaml")
	}
	return buf.Bytes(), nil
}
