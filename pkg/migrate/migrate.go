package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/entrhq/kbhost/pkg/bookmark"
	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGenerator is recorded as canonical.generator of migrated bookmarks.
	DefaultGenerator = "kb-host-migrate"

	DefaultConcurrency = 4

	bookmarksDir = "08_bookmarked_content"
	kbRootDir    = "AI_KB"
)

// Outcome is what happened to one candidate.
type Outcome string

const (
	OutcomeFull    Outcome = "full"
	OutcomePartial Outcome = "partial"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Options configures Run.
type Options struct {
	IndexPath string
	// OutputDir defaults to DefaultOutputDir(IndexPath).
	OutputDir string

	// DryRun derives slugs and checks for existing folders without writing.
	DryRun bool
	// NoFetch skips page downloads; every bookmark is partial.
	NoFetch bool

	Concurrency int
	Fetcher     PageFetcher
	Generator   string
	LockTimeout time.Duration
}

// Item reports the result for one candidate.
type Item struct {
	Candidate Candidate
	Slug      string
	Path      string
	Outcome   Outcome
	Err       error
}

// Summary counts outcomes over all candidates.
type Summary struct {
	Total   int
	Full    int
	Partial int
	Skipped int
	Failed  int
	Items   []Item
}

// DefaultOutputDir places bookmarks in 08_bookmarked_content under the
// nearest AI_KB ancestor of the index, else next to the index.
func DefaultOutputDir(indexPath string) string {
	dir := filepath.Dir(indexPath)
	for d := dir; ; d = filepath.Dir(d) {
		if filepath.Base(d) == kbRootDir {
			return filepath.Join(d, bookmarksDir)
		}
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	return filepath.Join(dir, bookmarksDir)
}

// Run creates a bookmark for every saved item in the index that has none.
// Per-item failures are counted in the summary; the returned error is set
// only when the index cannot be read or ctx is cancelled.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	logger := logging.From(ctx)

	indexPath, err := fileaccess.ExpandPath(opts.IndexPath)
	if err != nil {
		return nil, err
	}
	found, err := fileaccess.Exists(indexPath)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, goerr.Wrap(fileaccess.ErrNotFound, "index file not found", goerr.V("path", indexPath))
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = DefaultOutputDir(indexPath)
	}
	if outDir, err = fileaccess.ExpandPath(outDir); err != nil {
		return nil, err
	}

	storeOpts := []kb.StoreOption{kb.WithLogger(logger)}
	if opts.LockTimeout > 0 {
		storeOpts = append(storeOpts, kb.WithLockTimeout(opts.LockTimeout))
	}
	doc, err := kb.NewStore(indexPath, storeOpts...).Load(ctx)
	if err != nil {
		return nil, err
	}

	generator := opts.Generator
	if generator == "" {
		generator = DefaultGenerator
	}
	builder := bookmark.NewBuilder(outDir, bookmark.WithGenerator(generator), bookmark.WithLogger(logger))

	fetcher := opts.Fetcher
	if fetcher == nil && !opts.NoFetch {
		fetcher = NewFetcher()
	}

	candidates := Collect(doc)
	logger.Info("starting migration",
		"index", indexPath, "output", outDir, "candidates", len(candidates),
		"dry_run", opts.DryRun, "no_fetch", opts.NoFetch)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	items := make([]Item, len(candidates))
	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				items[i] = Item{Candidate: c, Outcome: OutcomeFailed, Err: ctx.Err()}
				return nil
			}
			item := migrateOne(ctx, builder, fetcher, c, opts.DryRun)
			items[i] = item

			mu.Lock()
			done++
			n := done
			mu.Unlock()

			attrs := []any{"progress", n, "total", len(candidates), "url", c.URL,
				"slug", item.Slug, "outcome", item.Outcome}
			if item.Err != nil {
				logger.Warn("bookmark not migrated", append(attrs, logging.ErrAttr(item.Err))...)
			} else {
				logger.Info("bookmark migrated", attrs...)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := &Summary{Total: len(items), Items: items}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeFull:
			sum.Full++
		case OutcomePartial:
			sum.Partial++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeFailed:
			sum.Failed++
		}
	}
	logger.Info("migration finished",
		"full", sum.Full, "partial", sum.Partial, "skipped", sum.Skipped, "failed", sum.Failed)

	if err := ctx.Err(); err != nil {
		return sum, goerr.Wrap(err, "migration cancelled")
	}
	return sum, nil
}

func migrateOne(ctx context.Context, b *bookmark.Builder, fetcher PageFetcher, c Candidate, dryRun bool) Item {
	item := Item{Candidate: c}

	var page *Page
	if fetcher != nil {
		p, err := fetcher.Fetch(ctx, c.URL)
		if err != nil {
			logging.From(ctx).Debug("fetch failed, keeping metadata only", "url", c.URL, logging.ErrAttr(err))
		} else {
			page = p
		}
	}

	d := bookmark.Draft{
		Title:         c.Title,
		SourceURL:     c.URL,
		Platform:      c.Platform,
		AuthorName:    c.AuthorName,
		SourceName:    c.SourceName,
		DatePublished: c.DatePublished,
		Tags:          c.Topics,
		Status:        bookmark.StatusPartial,
	}
	if page != nil {
		if d.Title == "" {
			d.Title = page.Title
		}
		if page.Markdown != "" {
			d.Body = page.Markdown
			d.Status = bookmark.StatusFinal
		}
	}

	doc, err := b.Build(d)
	if err != nil {
		item.Outcome, item.Err = OutcomeFailed, err
		return item
	}
	item.Slug = doc.Slug

	outcome := OutcomePartial
	if d.Status == bookmark.StatusFinal {
		outcome = OutcomeFull
	}

	if dryRun {
		ex, err := b.Exists(doc.Slug)
		switch {
		case err != nil:
			item.Outcome, item.Err = OutcomeFailed, err
		case ex.Exists:
			item.Outcome, item.Path = OutcomeSkipped, ex.Path
		default:
			item.Outcome, item.Path = outcome, ex.Path
		}
		return item
	}

	res, err := b.Commit(ctx, doc)
	switch {
	case errors.Is(err, fileaccess.ErrAlreadyExists):
		item.Outcome = OutcomeSkipped
	case err != nil:
		item.Outcome, item.Err = OutcomeFailed, err
	default:
		item.Outcome, item.Path = outcome, res.Path
	}
	return item
}
