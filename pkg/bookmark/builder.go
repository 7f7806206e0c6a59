package bookmark

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ShaPlaceholder in a legacy meta.yaml payload is replaced by the digest of
// the content body.
const ShaPlaceholder = "SHA256_PLACEHOLDER"

const stagingPrefix = ".staging-"

// IndexRegistrar records a committed bookmark in the Index Document.
type IndexRegistrar interface {
	Register(ctx context.Context, rec kb.ExtractedRecord) error
}

// Result describes a committed bookmark.
type Result struct {
	Path         string `json:"path"`
	Slug         string `json:"slug"`
	SHA256       string `json:"sha256"`
	IndexUpdated bool   `json:"index_updated"`
	IndexError   string `json:"index_error,omitempty"`
}

// ExistsResult describes what occupies a slug.
type ExistsResult struct {
	Exists  bool   `json:"exists"`
	Partial bool   `json:"partial"`
	Path    string `json:"path"`
}

// Builder creates bookmark folders under one base directory.
type Builder struct {
	baseDir   string
	generator string
	registrar IndexRegistrar
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistrar enables the best-effort index update after Create.
func WithRegistrar(r IndexRegistrar) Option {
	return func(b *Builder) { b.registrar = r }
}

// WithGenerator sets canonical.generator in meta.yaml.
func WithGenerator(name string) Option {
	return func(b *Builder) { b.generator = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder returns a Builder writing into baseDir.
func NewBuilder(baseDir string, opts ...Option) *Builder {
	b := &Builder{
		baseDir:   filepath.Clean(baseDir),
		generator: DefaultGenerator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BaseDir returns the directory bookmarks are created in.
func (b *Builder) BaseDir() string { return b.baseDir }

// Build renders d with the builder's generator name.
func (b *Builder) Build(d Draft) (*Document, error) {
	return Build(d, b.generator)
}

// Create builds and commits d, then registers its record in the index when a
// registrar is configured. An index failure is logged and reported in the
// result; the bookmark stays.
func (b *Builder) Create(ctx context.Context, d Draft) (*Result, error) {
	doc, err := b.Build(d)
	if err != nil {
		return nil, err
	}
	res, err := b.Commit(ctx, doc)
	if err != nil {
		return nil, err
	}

	if b.registrar == nil || doc.Record == nil {
		return res, nil
	}
	if err := b.registrar.Register(ctx, *doc.Record); err != nil {
		b.logger.Warn("bookmark created but index update failed",
			"slug", res.Slug, "path", res.Path, "error", err)
		res.IndexError = err.Error()
		return res, nil
	}
	res.IndexUpdated = true
	return res, nil
}

// CreateRaw commits a pre-rendered legacy payload. ShaPlaceholder in
// metaYAML is replaced by the digest of contentMD.
func (b *Builder) CreateRaw(ctx context.Context, slug, metaYAML, contentMD string) (*Result, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	content := []byte(contentMD)
	sum := Digest(content)
	return b.Commit(ctx, &Document{
		Slug:     slug,
		MetaYAML: []byte(strings.ReplaceAll(metaYAML, ShaPlaceholder, sum)),
		Content:  content,
		SHA256:   sum,
	})
}

// Commit writes doc into a hidden staging folder and renames it onto its
// final path. Of several concurrent commits for one slug exactly one wins;
// the others get fileaccess.ErrAlreadyExists.
func (b *Builder) Commit(ctx context.Context, doc *Document) (*Result, error) {
	final, err := b.slugPath(doc.Slug)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "commit cancelled", goerr.V("slug", doc.Slug))
	}
	if err := b.checkFree(doc.Slug, final); err != nil {
		return nil, err
	}

	if err := fileaccess.MkdirAll(b.baseDir); err != nil {
		return nil, err
	}
	staging := filepath.Join(b.baseDir, stagingPrefix+uuid.NewString())
	if err := fileaccess.EnsureDir(staging); err != nil {
		return nil, err
	}

	if err := stage(staging, doc); err != nil {
		return nil, b.discard(staging, err)
	}
	if err := fileaccess.RenameNoReplace(staging, final); err != nil {
		if errors.Is(err, fileaccess.ErrAlreadyExists) {
			if cerr := b.checkFree(doc.Slug, final); cerr != nil {
				err = cerr
			}
		}
		return nil, b.discard(staging, err)
	}

	b.logger.Debug("bookmark committed", "slug", doc.Slug, "path", final)
	return &Result{Path: final, Slug: doc.Slug, SHA256: doc.SHA256}, nil
}

// Exists reports whether slug is taken and whether the folder is complete. A
// non-directory at the slug path counts as taken and partial.
func (b *Builder) Exists(slug string) (ExistsResult, error) {
	path, err := b.slugPath(slug)
	if err != nil {
		return ExistsResult{}, err
	}
	found, err := fileaccess.Exists(path)
	if err != nil {
		return ExistsResult{}, err
	}
	res := ExistsResult{Exists: found, Path: path}
	if !found {
		return res, nil
	}
	dir, err := fileaccess.IsDir(path)
	if err != nil {
		return ExistsResult{}, err
	}
	if !dir {
		// Something other than a bookmark folder holds the slug.
		res.Partial = true
		return res, nil
	}
	for _, name := range []string{metaFile, contentFile} {
		ok, err := fileaccess.Exists(filepath.Join(path, filepath.FromSlash(name)))
		if err != nil {
			return ExistsResult{}, err
		}
		if !ok {
			res.Partial = true
		}
	}
	return res, nil
}

func (b *Builder) slugPath(slug string) (string, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	path := filepath.Join(b.baseDir, slug)
	if !fileaccess.Within(b.baseDir, path) || path == b.baseDir {
		return "", goerr.Wrap(ErrInvalidSlug, "slug escapes base directory", goerr.V("slug", slug))
	}
	return path, nil
}

// checkFree maps an occupied slug onto ErrAlreadyExists or, for an
// incomplete folder, ErrPartialBookmark.
func (b *Builder) checkFree(slug, path string) error {
	ex, err := b.Exists(slug)
	if err != nil {
		return err
	}
	switch {
	case ex.Partial:
		return goerr.Wrap(ErrPartialBookmark, "bookmark folder exists but is incomplete", goerr.V("path", path))
	case ex.Exists:
		return goerr.Wrap(fileaccess.ErrAlreadyExists, "bookmark folder already exists",
			goerr.V("slug", slug), goerr.V("path", path))
	}
	return nil
}

// discard removes a staging folder after a failed commit. A staging folder
// that cannot be removed is reported as ErrPartialBookmark.
func (b *Builder) discard(staging string, cause error) error {
	if err := os.RemoveAll(staging); err != nil {
		b.logger.Error("failed to remove staging folder", "path", staging, "error", err)
		return goerr.Wrap(ErrPartialBookmark, "staging folder left behind",
			goerr.V("path", staging), goerr.V("cause", cause.Error()))
	}
	return cause
}

func stage(dir string, doc *Document) error {
	for _, sub := range []string{"assets", "canonicals"} {
		if err := fileaccess.EnsureDir(filepath.Join(dir, sub)); err != nil {
			return err
		}
	}
	content := filepath.Join(dir, filepath.FromSlash(contentFile))
	if err := fileaccess.CreateExclusive(content, doc.Content); err != nil {
		return err
	}
	if err := fileaccess.CreateExclusive(filepath.Join(dir, metaFile), doc.MetaYAML); err != nil {
		return err
	}
	return linkAlias(content, filepath.Join(dir, filepath.FromSlash(retrievalFile)), doc.Content)
}

// linkAlias points canonicals/retrieval.md at the content file: a relative
// symlink where allowed, else a hard link, else a copy.
func linkAlias(content, alias string, data []byte) error {
	if err := os.Symlink(filepath.FromSlash(aliasTarget), alias); err == nil {
		return nil
	}
	if err := os.Link(content, alias); err == nil {
		return nil
	}
	return fileaccess.CreateExclusive(alias, data)
}
