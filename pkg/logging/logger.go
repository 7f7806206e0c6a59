// Package logging configures the process-wide slog logger. Every record
// carries the session ID of the current invocation. Because stdout carries
// native-messaging frames, nothing here ever writes to stdout.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

const (
	OutputFile   = "file"
	OutputStderr = "stderr"

	// LogFileName is the file appended to inside the log directory.
	LogFileName = "kb-host.log"
)

var (
	sessionID     string
	sessionIDOnce sync.Once

	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	defaultMu     sync.RWMutex
)

// Options selects the handler built by New.
type Options struct {
	Level  string
	Output string
	Dir    string

	// Writer replaces os.Stderr for stderr output and fallback.
	Writer io.Writer
}

// SessionID returns the ID shared by every record of this invocation.
func SessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// New builds a logger for opts and returns a closer for its file.
//
// If file output is requested but the log directory or file cannot be
// opened, it returns a logger writing to stderr together with the error, so
// callers can warn about the fallback and keep going.
func New(opts Options) (*slog.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	stderr := opts.Writer
	if stderr == nil {
		stderr = os.Stderr
	}
	filter := masq.New(masq.WithTag("secret"))

	if opts.Output == OutputStderr {
		h := clog.New(
			clog.WithWriter(stderr),
			clog.WithLevel(level),
			clog.WithReplaceAttr(filter),
		)
		return slog.New(h).With("session_id", SessionID()), func() {}, nil
	}
	if opts.Output != "" && opts.Output != OutputFile {
		return nil, nil, goerr.New("unknown log output", goerr.V("output", opts.Output))
	}

	f, path, err := openLogFile(opts.Dir)
	if err != nil {
		fallback := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level, ReplaceAttr: filter})).
			With("session_id", SessionID())
		fallback.Warn("failed to initialize file logging, falling back to stderr", ErrAttr(err))
		return fallback, func() {}, err
	}

	h := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level, ReplaceAttr: filter})
	logger := slog.New(h).With("session_id", SessionID())
	var once sync.Once
	closer := func() {
		once.Do(func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(stderr, "failed to close log file %s: %v\n", path, err)
			}
		})
	}
	return logger, closer, nil
}

func openLogFile(dir string) (*os.File, string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, "", goerr.Wrap(err, "failed to get home directory")
		}
		dir = filepath.Join(home, ".kb-host", "logs")
	} else if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, "", goerr.Wrap(err, "failed to get home directory")
		}
		dir = filepath.Join(home, dir[1:])
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", goerr.Wrap(err, "failed to create log directory", goerr.V("dir", dir))
	}
	path := filepath.Join(dir, LogFileName)
	// #nosec G304 - log path is derived from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to open log file", goerr.V("path", path))
	}
	return f, path, nil
}

// ParseLevel maps debug, info, warn and error onto slog levels. An empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, goerr.New("unknown log level", goerr.V("level", s))
}

// Default returns the process-wide logger.
func Default() *slog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *slog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

type ctxKey struct{}

// With returns a context carrying l.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or Default.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Default()
}

// ErrAttr renders err with the values and stack recorded by goerr.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	attrs := []any{slog.String("message", err.Error())}

	var ge *goerr.Error
	if errors.As(err, &ge) {
		if values := ge.Values(); len(values) > 0 {
			var kv []any
			for k, v := range values {
				kv = append(kv, slog.Any(k, v))
			}
			attrs = append(attrs, slog.Group("values", kv...))
		}
		var frames []string
		for _, st := range ge.Stacks() {
			frames = append(frames, fmt.Sprintf("%s:%d %s", st.File, st.Line, st.Func))
		}
		if len(frames) > 0 {
			attrs = append(attrs, slog.Any("stack", frames))
		}
	}
	return slog.Group("error", attrs...)
}
