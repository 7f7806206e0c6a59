// Package cli wires configuration, logging and the kb-host commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/entrhq/kbhost/pkg/config"
	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Streams are the process standard streams. Stdout carries native-messaging
// frames only.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// app holds state shared by the root command and its subcommands.
type app struct {
	version string
	streams Streams

	configPath   string
	logLevel     string
	logOutput    string
	lockTimeout  time.Duration
	parentWindow int64

	cfg *config.Config
	// cfgErr is set when the config file or flags were rejected. cfg then
	// holds defaults that log to stderr.
	cfgErr error
	closer func()
}

// Run executes kb-host with args on the process streams.
func Run(ctx context.Context, args []string, version string) error {
	return run(ctx, args, version, Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

func run(ctx context.Context, args []string, version string, streams Streams) error {
	// .env must be in the environment before flag sources are read.
	if err := config.LoadEnv(configPathFromArgs(args)); err != nil {
		logging.Default().Warn("failed to load .env", logging.ErrAttr(err))
	}

	a := &app{version: version, streams: streams}
	cmd := a.command()
	if err := cmd.Run(ctx, args); err != nil {
		logging.Default().Error("kb-host failed", logging.ErrAttr(err))
		return err
	}
	return nil
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "kb-host",
		Usage:     "Native-messaging host that saves captured content into a file-based knowledge base",
		Version:   a.version,
		ArgsUsage: "[origin]",
		Writer:    a.streams.Err,
		ErrWriter: a.streams.Err,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to the YAML configuration file",
				Value:       config.DefaultPath(),
				Sources:     cli.EnvVars(config.EnvPrefix + "CONFIG"),
				Destination: &a.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Sources:     cli.EnvVars(config.EnvPrefix + "LOG_LEVEL"),
				Destination: &a.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-output",
				Usage:       "Log output (file, stderr)",
				Sources:     cli.EnvVars(config.EnvPrefix + "LOG_OUTPUT"),
				Destination: &a.logOutput,
			},
			&cli.DurationFlag{
				Name:        "lock-timeout",
				Usage:       "How long to wait for a file lock",
				Sources:     cli.EnvVars(config.EnvPrefix + "LOCK_TIMEOUT"),
				Destination: &a.lockTimeout,
			},
			&cli.Int64Flag{
				Name:        "parent-window",
				Usage:       "Native window handle of the calling browser (Windows)",
				Hidden:      true,
				Destination: &a.parentWindow,
			},
		},
		Before: a.before,
		After: func(ctx context.Context, c *cli.Command) error {
			if a.closer != nil {
				a.closer()
			}
			return nil
		},
		Action: a.serve,
		Commands: []*cli.Command{
			a.cmdMigrate(),
			a.cmdConfig(),
		},
	}
}

// before loads the config file and applies global flag overrides. A rejected
// configuration does not stop the command here; each action decides how to
// report it.
func (a *app) before(ctx context.Context, c *cli.Command) (context.Context, error) {
	cfg, err := a.load(c)
	if err != nil {
		a.cfgErr = err
		cfg = config.Default()
		cfg.Log.Output = config.OutputStderr
	}
	a.cfg = cfg
	return ctx, nil
}

func (a *app) load(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = strings.ToLower(a.logLevel)
	}
	if a.logOutput != "" {
		cfg.Log.Output = strings.ToLower(a.logOutput)
	}
	if c.IsSet("lock-timeout") {
		cfg.LockTimeout = config.Duration(a.lockTimeout)
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid flags")
	}
	return cfg, nil
}

// logger builds the invocation logger. fallbackOutput applies when neither
// the flag nor the environment chose an output.
func (a *app) logger(ctx context.Context, fallbackOutput string) (context.Context, *slog.Logger) {
	output := a.cfg.Log.Output
	if a.logOutput == "" && fallbackOutput != "" {
		output = fallbackOutput
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  a.cfg.Log.Level,
		Output: output,
		Dir:    a.cfg.Log.Dir,
		Writer: a.streams.Err,
	})
	if err != nil && logger == nil {
		logger = logging.Default()
		logger.Warn("failed to configure logging", logging.ErrAttr(err))
	}
	if closer != nil {
		a.closer = closer
	}
	logging.SetDefault(logger)
	return logging.With(ctx, logger), logger
}

// configPathFromArgs finds --config in args ahead of flag parsing.
func configPathFromArgs(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return os.Getenv(config.EnvPrefix + "CONFIG")
		case arg == "--config" || arg == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-config="):
			return strings.TrimPrefix(arg, "-config=")
		}
	}
	return os.Getenv(config.EnvPrefix + "CONFIG")
}
