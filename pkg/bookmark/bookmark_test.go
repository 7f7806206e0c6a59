package bookmark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func fixClock(t *testing.T) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return fixedNow }
	t.Cleanup(func() { timeNow = prev })
}

func sampleDraft() Draft {
	return Draft{
		Title:         "Why \"Go\" Wins: A Retrospective",
		SourceURL:     "https://foo.substack.com/p/why-go-wins",
		Platform:      kb.PlatformSubstack,
		AuthorName:    "Ann",
		SourceName:    "Foo Weekly",
		DatePublished: "2024-01-15T10:00:00Z",
		Tags:          []string{"go", "languages"},
		Body:          "Go was designed at Google.\n\n## Simplicity\n\nLess is more.",
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name, title, url, published, want string
	}{
		{"title and date", "Hello, World!", "https://example.com", "2024-01-15T10:00:00Z", "2024-01-15_hello-world"},
		{"plain date", "Go 1.22 Released", "", "2024-02-06", "2024-02-06_go-1-22-released"},
		{"rfc1123 date", "News", "", "Mon, 02 Jan 2006 15:04:05 MST", "2006-01-02_news"},
		{"unparsable date", "News", "", "yesterday", "2024-03-01_news"},
		{"url path fallback", "", "https://example.com/posts/my-great-post/", "", "2024-03-01_posts-my-great-post"},
		{"untitled", "  ", "", "", "2024-03-01_untitled"},
		{"accents folded", "Café déjà vu à Paris", "", "", "2024-03-01_cafe-deja-vu-a-paris"},
		{"punctuation only", "!!!", "https://example.com/", "", "2024-03-01_untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title, tt.url, tt.published, fixedNow))
		})
	}
}

func TestSlug_Bounded(t *testing.T) {
	slug := Slug(strings.Repeat("word ", 60), "", "", fixedNow)
	assert.LessOrEqual(t, len(slug), MaxSlugLength)
	text := strings.TrimPrefix(slug, "2024-03-01_")
	assert.LessOrEqual(t, len(text), 80)
	assert.False(t, strings.HasSuffix(text, "-"))
	assert.NoError(t, ValidateSlug(slug))
}

func TestValidateSlug(t *testing.T) {
	for _, bad := range []string{"", " ", "../evil", "a/b", `a\b`, ".staging-x", "a..b", strings.Repeat("a", 101)} {
		assert.ErrorIs(t, ValidateSlug(bad), ErrInvalidSlug, bad)
	}
	assert.NoError(t, ValidateSlug("2024-01-15_hello-world"))
}

func TestBuild(t *testing.T) {
	fixClock(t)

	doc, err := Build(sampleDraft(), "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15_why-go-wins-a-retrospective", doc.Slug)
	assert.Equal(t, Digest(doc.Content), doc.SHA256)
	assert.Len(t, doc.SHA256, 64)

	fm, body, err := splitContent(t, doc.Content)
	require.NoError(t, err)
	assert.Equal(t, "Why \"Go\" Wins: A Retrospective", fm.Title)
	assert.Equal(t, "Ann", fm.Author)
	assert.Equal(t, "Foo Weekly", fm.Source)
	assert.Equal(t, kb.PlatformSubstack, fm.Platform)
	assert.Equal(t, "2024-03-01", fm.DateBookmarked)
	assert.Equal(t, StatusFinal, fm.Status)
	assert.Equal(t, []string{"go", "languages"}, fm.Tags)
	assert.True(t, strings.HasPrefix(body, "# Why \"Go\" Wins: A Retrospective\n\n**Source:** [Foo Weekly](https://foo.substack.com/p/why-go-wins)\n**Author:** Ann\n**Published:** 2024-01-15T10:00:00Z\n\n---\n\n"), body)
	assert.True(t, strings.HasSuffix(body, "Less is more."))

	var meta Meta
	require.NoError(t, yaml.Unmarshal(doc.MetaYAML, &meta))
	assert.Equal(t, doc.Slug, meta.DocID)
	assert.Equal(t, "bookmark", meta.DocType)
	assert.Equal(t, "2024-03-01T09:30:00Z", meta.CreatedAt)
	assert.Equal(t, DefaultGenerator, meta.Canonical.Generator)
	assert.Equal(t, "canonicals/retrieval.md", meta.Canonical.Path)
	assert.Equal(t, doc.SHA256, meta.SourceOfTruth.SHA256)
	require.Len(t, meta.Assets, 1)
	assert.Equal(t, doc.SHA256, meta.Assets[0].SHA256)
	assert.Equal(t, "https://foo.substack.com/p/why-go-wins", meta.BookmarkMetadata.SourceURL)
	assert.Equal(t, "2024-03-01", meta.BookmarkMetadata.DateBookmarked)
	assert.True(t, strings.HasPrefix(string(doc.MetaYAML), "doc_id: "))
}

func TestBuild_PartialWithoutBody(t *testing.T) {
	fixClock(t)
	d := sampleDraft()
	d.Body = ""
	d.Status = StatusPartial
	d.Tags = nil

	doc, err := Build(d, "kb-migrate")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(doc.Content), "*No content extracted.*"))
	assert.Equal(t, StatusPartial, doc.Meta.Status)
	assert.Equal(t, "kb-migrate", doc.Meta.Canonical.Generator)
	assert.Contains(t, string(doc.MetaYAML), "tags: []")
}

func TestBuild_Errors(t *testing.T) {
	d := sampleDraft()
	d.SourceURL = ""
	_, err := Build(d, "")
	assert.ErrorIs(t, err, kb.ErrInvalidRecord)

	d = sampleDraft()
	d.Platform = "myspace"
	_, err = Build(d, "")
	assert.ErrorIs(t, err, kb.ErrUnknownPlatform)

	d = sampleDraft()
	d.Slug = "../escape"
	_, err = Build(d, "")
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestDraftFromRecord(t *testing.T) {
	rec := kb.ExtractedRecord{
		Platform:        kb.PlatformX,
		Author:          kb.AuthorInfo{Handle: "@jack", Name: "Jack"},
		Content:         &kb.ContentInfo{URL: "https://x.com/jack/status/20", Title: "just setting up"},
		SuggestedTopics: []string{" history ", "history"},
	}
	d, err := DraftFromRecord(rec, "")
	require.NoError(t, err)
	assert.Equal(t, "@jack", d.AuthorName)
	assert.Equal(t, "X (Twitter)", d.SourceName)
	assert.Equal(t, []string{"history"}, d.Tags)
	assert.Equal(t, StatusPartial, d.Status)
	require.NotNil(t, d.Record)

	rec.Content = nil
	_, err = DraftFromRecord(rec, "body")
	assert.ErrorIs(t, err, kb.ErrInvalidRecord)

	rec.Platform = "myspace"
	_, err = DraftFromRecord(rec, "body")
	assert.ErrorIs(t, err, kb.ErrUnknownPlatform)
}

func TestCommit(t *testing.T) {
	fixClock(t)
	base := filepath.Join(t.TempDir(), "08_bookmarked_content")
	b := NewBuilder(base)

	doc, err := b.Build(sampleDraft())
	require.NoError(t, err)
	res, err := b.Commit(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, doc.Slug), res.Path)
	assert.Equal(t, doc.SHA256, res.SHA256)

	content, err := os.ReadFile(filepath.Join(res.Path, "assets", "content.md"))
	require.NoError(t, err)
	assert.Equal(t, doc.Content, content)

	meta, err := os.ReadFile(filepath.Join(res.Path, "meta.yaml"))
	require.NoError(t, err)
	assert.Equal(t, doc.MetaYAML, meta)

	alias := filepath.Join(res.Path, "canonicals", "retrieval.md")
	target, err := os.Readlink(alias)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("../assets/content.md"), target)
	viaAlias, err := os.ReadFile(alias)
	require.NoError(t, err)
	assert.Equal(t, content, viaAlias)

	assertNoStaging(t, base)
}

func TestCommit_Collisions(t *testing.T) {
	fixClock(t)
	base := t.TempDir()
	b := NewBuilder(base)
	doc, err := b.Build(sampleDraft())
	require.NoError(t, err)

	_, err = b.Commit(context.Background(), doc)
	require.NoError(t, err)
	_, err = b.Commit(context.Background(), doc)
	assert.ErrorIs(t, err, fileaccess.ErrAlreadyExists)

	require.NoError(t, os.Mkdir(filepath.Join(base, "2024-01-01_half-done"), 0o750))
	doc.Slug = "2024-01-01_half-done"
	_, err = b.Commit(context.Background(), doc)
	assert.ErrorIs(t, err, ErrPartialBookmark)

	assertNoStaging(t, base)
}

func TestCommit_ConcurrentSameSlug(t *testing.T) {
	fixClock(t)
	base := t.TempDir()
	b := NewBuilder(base)
	doc, err := b.Build(sampleDraft())
	require.NoError(t, err)

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := b.Commit(context.Background(), doc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, fileaccess.ErrAlreadyExists):
				conflict++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflict)

	ex, err := b.Exists(doc.Slug)
	require.NoError(t, err)
	assert.True(t, ex.Exists)
	assert.False(t, ex.Partial)
	assertNoStaging(t, base)
}

func TestCreateRaw_ReplacesPlaceholder(t *testing.T) {
	base := t.TempDir()
	b := NewBuilder(base)
	content := "---\ntitle: \"T\"\n---\n# T\n"
	meta := "doc_id: \"2024-01-01_t\"\nsource_of_truth:\n  sha256: \"SHA256_PLACEHOLDER\"\nassets:\n  - sha256: \"SHA256_PLACEHOLDER\"\n"

	res, err := b.CreateRaw(context.Background(), "2024-01-01_t", meta, content)
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte(content)), res.SHA256)

	written, err := os.ReadFile(filepath.Join(res.Path, "meta.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, string(written), ShaPlaceholder)
	assert.Equal(t, 2, strings.Count(string(written), res.SHA256))

	_, err = b.CreateRaw(context.Background(), "../x", meta, content)
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

type recordingRegistrar struct {
	err  error
	recs []kb.ExtractedRecord
}

func (r *recordingRegistrar) Register(_ context.Context, rec kb.ExtractedRecord) error {
	r.recs = append(r.recs, rec)
	return r.err
}

func TestCreate_RegistersRecord(t *testing.T) {
	reg := &recordingRegistrar{}
	b := NewBuilder(t.TempDir(), WithRegistrar(reg))

	d, err := DraftFromRecord(kb.ExtractedRecord{
		Platform: kb.PlatformGenericWeb,
		Author:   kb.AuthorInfo{Name: "Ann", Source: "example.com"},
		Content:  &kb.ContentInfo{URL: "https://example.com/a", Title: "A"},
	}, "body")
	require.NoError(t, err)

	res, err := b.Create(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.IndexUpdated)
	assert.Empty(t, res.IndexError)
	require.Len(t, reg.recs, 1)
	assert.Equal(t, "https://example.com/a", reg.recs[0].Content.URL)
}

func TestCreate_IndexFailureKeepsBookmark(t *testing.T) {
	reg := &recordingRegistrar{err: goerr.New("index locked")}
	base := t.TempDir()
	b := NewBuilder(base, WithRegistrar(reg))

	d := sampleDraft()
	d.Record = &kb.ExtractedRecord{
		Platform: kb.PlatformSubstack,
		Author:   kb.AuthorInfo{URL: "https://foo.substack.com"},
		Content:  &kb.ContentInfo{URL: d.SourceURL},
	}
	res, err := b.Create(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, res.IndexUpdated)
	assert.Contains(t, res.IndexError, "index locked")
	assert.DirExists(t, res.Path)
}

func TestCreate_WithIndexStore(t *testing.T) {
	dir := t.TempDir()
	store := kb.NewStore(filepath.Join(dir, "curated_sources.yaml"))
	b := NewBuilder(filepath.Join(dir, "bookmarks"), WithRegistrar(store))

	d, err := DraftFromRecord(kb.ExtractedRecord{
		Platform:        kb.PlatformX,
		Author:          kb.AuthorInfo{Handle: "jack"},
		Content:         &kb.ContentInfo{URL: "https://x.com/jack/status/20", Title: "first"},
		SuggestedTopics: []string{"history"},
	}, "just setting up my twttr")
	require.NoError(t, err)

	res, err := b.Create(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.IndexUpdated)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.FavoriteAuthors.X, 1)
	assert.Len(t, doc.FavoriteAuthors.X[0].SavedPosts, 1)
	assert.Equal(t, []string{"@jack"}, doc.TopicIndex["history"])
}

func TestExists(t *testing.T) {
	base := t.TempDir()
	b := NewBuilder(base)

	ex, err := b.Exists("2024-01-01_nothing")
	require.NoError(t, err)
	assert.False(t, ex.Exists)
	assert.Equal(t, filepath.Join(base, "2024-01-01_nothing"), ex.Path)

	partial := filepath.Join(base, "2024-01-01_partial")
	require.NoError(t, os.MkdirAll(filepath.Join(partial, "assets"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(partial, "assets", "content.md"), []byte("x"), 0o644))
	ex, err = b.Exists("2024-01-01_partial")
	require.NoError(t, err)
	assert.True(t, ex.Exists)
	assert.True(t, ex.Partial)

	_, err = b.Exists("../etc")
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestExists_SlugOccupiedByFile(t *testing.T) {
	fixClock(t)
	base := t.TempDir()
	b := NewBuilder(base)
	doc, err := b.Build(sampleDraft())
	require.NoError(t, err)
	stray := filepath.Join(base, doc.Slug)
	require.NoError(t, os.WriteFile(stray, []byte("not a folder"), 0o644))

	ex, err := b.Exists(doc.Slug)
	require.NoError(t, err)
	assert.True(t, ex.Exists)
	assert.True(t, ex.Partial)
	assert.Equal(t, stray, ex.Path)

	_, err = b.Commit(context.Background(), doc)
	assert.ErrorIs(t, err, ErrPartialBookmark)
	data, err := os.ReadFile(stray)
	require.NoError(t, err)
	assert.Equal(t, "not a folder", string(data))
	assertNoStaging(t, base)
}

// splitContent returns the front-matter and body of a rendered content.md.
func splitContent(t *testing.T, raw []byte) (*FrontMatter, string, error) {
	t.Helper()
	head, body, ok := strings.Cut(string(raw), "\n"+frontMatterDelimiter+"\n")
	if !ok || !strings.HasPrefix(head, frontMatterDelimiter+"\n") {
		return nil, "", goerr.New("malformed front-matter block")
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(strings.TrimPrefix(head, frontMatterDelimiter+"\n")), &fm); err != nil {
		return nil, "", err
	}
	return &fm, body, nil
}

func assertNoStaging(t *testing.T, base string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(base, stagingPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
