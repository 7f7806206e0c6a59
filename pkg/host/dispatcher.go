package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/entrhq/kbhost/pkg/bookmark"
	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Options configures a Dispatcher.
type Options struct {
	// IndexPath and BaseDir are used when a request omits filePath or baseDir.
	IndexPath string
	BaseDir   string

	LockTimeout     time.Duration
	MaxRequestSize  uint32
	MaxResponseSize uint32

	// Generator is recorded in meta.yaml of created bookmarks.
	Generator string
}

// Dispatcher routes a decoded request to its handler.
type Dispatcher struct {
	opts Options
}

// New returns a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = fileaccess.DefaultLockTimeout
	}
	return &Dispatcher{opts: opts}
}

// Handle runs req and always returns a response; failures are reported in
// it rather than returned.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	logger := logging.From(ctx).With("action", string(req.Action))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := goerr.New("panic while handling request", goerr.V("panic", fmt.Sprint(r)))
			logger.Error("request panicked", logging.ErrAttr(err))
			resp = &Response{Error: err.Error(), Code: CodeInternal}
		}
	}()

	logger.Debug("request received", slog.Any("request", *req))
	resp, err := d.dispatch(ctx, req, logger)
	if err != nil {
		logger.Warn("request failed", logging.ErrAttr(err), "duration", time.Since(start))
		return failure(err)
	}
	logger.Info("request handled", "success", resp.Success, "duration", time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	switch req.Action {
	case "":
		return nil, badRequest("No action specified")
	case ActionPing:
		return &Response{Success: true, Payload: pingPayload{Message: "pong"}}, nil
	case ActionTest:
		return d.test(ctx, req, logger)
	case ActionRead:
		return d.read(ctx, req, logger)
	case ActionWrite:
		return d.write(ctx, req, logger)
	case ActionSaveRecord:
		return d.saveRecord(ctx, req, logger)
	case ActionCreateBookmark:
		return d.createBookmark(ctx, req, logger)
	case ActionCheckExists:
		return d.checkExists(req, logger)
	}
	return nil, badRequest(fmt.Sprintf("Unknown action: %s", req.Action))
}

func (d *Dispatcher) test(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	path, err := d.indexPath(req)
	if err != nil {
		return nil, err
	}
	r := fileaccess.Probe(path)
	var code Code
	switch {
	case !r.DirectoryExists:
		code = CodeNotFound
	case r.FileExists && !r.Readable:
		code = CodeNotReadable
	case !r.OK():
		code = CodeNotWritable
	}

	// A readable index must also parse.
	if r.FileExists && r.Readable {
		store := kb.NewStore(path, kb.WithLockTimeout(d.opts.LockTimeout), kb.WithLogger(logger))
		if _, err := store.Load(ctx); err != nil {
			if errors.Is(err, kb.ErrInvalidDocument) {
				r.Errors = append(r.Errors, "Invalid YAML format: "+err.Error())
			} else {
				r.Errors = append(r.Errors, err.Error())
			}
			if code == "" {
				code = CodeOf(err)
			}
		}
	}

	resp := &Response{
		Success: len(r.Errors) == 0,
		Payload: testPayload{
			FileExists:      r.FileExists,
			Readable:        r.Readable,
			Writable:        r.Writable,
			DirectoryExists: r.DirectoryExists,
			Errors:          append([]string{}, r.Errors...),
		},
	}
	if !resp.Success {
		resp.Error = strings.Join(r.Errors, "; ")
		resp.Code = code
	}
	return resp, nil
}

func (d *Dispatcher) read(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	store, err := d.store(req, logger)
	if err != nil {
		return nil, err
	}
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := doc.Wire()
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Payload: readPayload{Data: tree}}, nil
}

func (d *Dispatcher) write(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	store, err := d.store(req, logger)
	if err != nil {
		return nil, err
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return nil, badRequest("No data to write")
	}
	doc, err := kb.DecodeWire(req.Data)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, doc); err != nil {
		return nil, err
	}
	return &Response{Success: true}, nil
}

func (d *Dispatcher) saveRecord(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	store, err := d.store(req, logger)
	if err != nil {
		return nil, err
	}
	if req.Record == nil {
		return nil, badRequest("No record to save")
	}
	result, err := store.ApplyRecord(ctx, *req.Record)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Payload: result}, nil
}

func (d *Dispatcher) createBookmark(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	if req.MetaYAML != "" || req.ContentMD != "" {
		if req.Slug == "" || req.MetaYAML == "" || req.ContentMD == "" {
			return nil, badRequest("Missing required fields: baseDir, slug, metaYaml, contentMd")
		}
		b, err := d.builder(req, nil, logger)
		if err != nil {
			return nil, err
		}
		res, err := b.CreateRaw(ctx, req.Slug, req.MetaYAML, req.ContentMD)
		if err != nil {
			return nil, err
		}
		return &Response{Success: true, Payload: res}, nil
	}

	if req.Record == nil {
		return nil, badRequest("Missing required fields: baseDir and record, or slug, metaYaml, contentMd")
	}
	draft, err := bookmark.DraftFromRecord(*req.Record, req.Body)
	if err != nil {
		return nil, err
	}
	draft.Slug = req.Slug

	var registrar bookmark.IndexRegistrar
	if indexPath, err := d.indexPath(req); err == nil {
		registrar = kb.NewStore(indexPath, kb.WithLockTimeout(d.opts.LockTimeout), kb.WithLogger(logger))
	}
	b, err := d.builder(req, registrar, logger)
	if err != nil {
		return nil, err
	}
	res, err := b.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Payload: res}, nil
}

func (d *Dispatcher) checkExists(req *Request, logger *slog.Logger) (*Response, error) {
	if req.Slug == "" {
		return nil, badRequest("Missing required fields: baseDir, slug")
	}
	b, err := d.builder(req, nil, logger)
	if err != nil {
		return nil, err
	}
	res, err := b.Exists(req.Slug)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Payload: res}, nil
}

func (d *Dispatcher) indexPath(req *Request) (string, error) {
	path := req.FilePath
	if path == "" {
		path = d.opts.IndexPath
	}
	if path == "" {
		return "", badRequest("No file path specified")
	}
	return fileaccess.ExpandPath(path)
}

func (d *Dispatcher) store(req *Request, logger *slog.Logger) (*kb.Store, error) {
	path, err := d.indexPath(req)
	if err != nil {
		return nil, err
	}
	return kb.NewStore(path, kb.WithLockTimeout(d.opts.LockTimeout), kb.WithLogger(logger)), nil
}

func (d *Dispatcher) builder(req *Request, registrar bookmark.IndexRegistrar, logger *slog.Logger) (*bookmark.Builder, error) {
	dir := req.BaseDir
	if dir == "" {
		dir = d.opts.BaseDir
	}
	if dir == "" {
		return nil, badRequest("No base directory specified")
	}
	base, err := fileaccess.ExpandPath(dir)
	if err != nil {
		return nil, err
	}
	opts := []bookmark.Option{bookmark.WithLogger(logger)}
	if registrar != nil {
		opts = append(opts, bookmark.WithRegistrar(registrar))
	}
	if d.opts.Generator != "" {
		opts = append(opts, bookmark.WithGenerator(d.opts.Generator))
	}
	return bookmark.NewBuilder(base, opts...), nil
}
