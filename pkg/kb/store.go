package kb

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/entrhq/kbhost/pkg/fileaccess"
)

// Store reads and writes one Index Document file. Every call takes the file
// lock for its whole duration, so a Store is safe across processes.
type Store struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout bounds how long a call waits for the file lock.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger used for write and lock release events.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store for the document at path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:        path,
		lockTimeout: fileaccess.DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the document under a shared lock. A missing file or directory
// yields a fresh document.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	h, err := fileaccess.Acquire(ctx, s.path, fileaccess.Shared, s.lockTimeout)
	if errors.Is(err, fileaccess.ErrNotFound) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	return s.read(h)
}

// Save validates doc, stamps last_updated and atomically replaces the file
// under an exclusive lock.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	h, err := fileaccess.Acquire(ctx, s.path, fileaccess.Exclusive, s.lockTimeout)
	if err != nil {
		return err
	}
	defer s.release(h)

	return s.commit(doc)
}

// Update runs fn on the current document while holding the exclusive lock and
// writes the result. When the result encodes the same as the current document,
// ignoring last_updated, nothing is written.
// An error from fn or from the write leaves the file untouched.
func (s *Store) Update(ctx context.Context, fn func(*Document) (*Document, error)) (*Document, error) {
	h, err := fileaccess.Acquire(ctx, s.path, fileaccess.Exclusive, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	cur, err := s.read(h)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == cur || sameContent(cur, next) {
		return cur, nil
	}
	if err := s.commit(next); err != nil {
		return nil, err
	}
	s.logger.Debug("index written", "path", h.Path(), "lock", h.Mode().String())
	return next, nil
}

// ApplyRecord saves an extracted record in one locked read-mutate-write.
func (s *Store) ApplyRecord(ctx context.Context, rec ExtractedRecord) (ApplyResult, error) {
	var result ApplyResult
	_, err := s.Update(ctx, func(doc *Document) (*Document, error) {
		next, r, err := Apply(doc, rec)
		if err != nil {
			return nil, err
		}
		result = r
		return next, nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// Register records a bookmarked item in the index. It satisfies the
// bookmark builder's registrar hook.
func (s *Store) Register(ctx context.Context, rec ExtractedRecord) error {
	_, err := s.ApplyRecord(ctx, rec)
	return err
}

func (s *Store) read(h *fileaccess.Handle) (*Document, error) {
	data, err := h.ReadAll()
	if errors.Is(err, fileaccess.ErrNotFound) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func (s *Store) commit(doc *Document) error {
	data, err := encodeStamped(doc, Today())
	if err != nil {
		return err
	}
	return fileaccess.AtomicReplace(s.path, data)
}

// sameContent reports whether a and b would be written as the same bytes
// apart from the last_updated stamp.
func sameContent(a, b *Document) bool {
	ea, err := encodeStamped(a, "")
	if err != nil {
		return false
	}
	eb, err := encodeStamped(b, "")
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func encodeStamped(doc *Document, stamp string) ([]byte, error) {
	out := doc.Clone()
	out.LastUpdated = stamp
	out.sortTopicIndex()
	return Encode(out)
}

func (s *Store) release(h *fileaccess.Handle) {
	if err := h.Release(); err != nil {
		s.logger.Warn("failed to release index lock", "path", h.Path(), "lock", h.Mode().String(), "error", err)
	}
}
