package cli

import (
	"context"

	"github.com/entrhq/kbhost/pkg/config"
	"github.com/entrhq/kbhost/pkg/host"
	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// serve answers one native message from stdin on stdout.
func (a *app) serve(ctx context.Context, c *cli.Command) error {
	fallback := config.OutputFile
	if a.cfgErr != nil {
		fallback = config.OutputStderr
	}
	ctx, logger := a.logger(ctx, fallback)
	logger.Info("kb-host started",
		"version", a.version,
		"origin", c.Args().First(),
		"parent_window", a.parentWindow,
		"index_path", a.cfg.IndexPath,
		"base_dir", a.cfg.BaseDir)

	d := host.New(host.Options{
		IndexPath:       a.cfg.IndexPath,
		BaseDir:         a.cfg.BaseDir,
		LockTimeout:     a.cfg.LockTimeout.D(),
		MaxRequestSize:  a.cfg.MaxRequestSize,
		MaxResponseSize: a.cfg.MaxResponseSize,
	})
	if a.cfgErr != nil {
		logger.Error("configuration rejected", logging.ErrAttr(a.cfgErr), "config", a.configPath)
		cause := goerr.Wrap(a.cfgErr, "Invalid configuration")
		if err := d.ServeFailure(ctx, a.streams.In, a.streams.Out, host.CodeInvalidConfig, cause); err != nil {
			return err
		}
		return a.cfgErr
	}
	return d.ServeOne(ctx, a.streams.In, a.streams.Out)
}
