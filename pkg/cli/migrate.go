package cli

import (
	"context"
	"fmt"

	"github.com/entrhq/kbhost/pkg/config"
	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/entrhq/kbhost/pkg/migrate"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func (a *app) cmdMigrate() *cli.Command {
	var (
		indexPath   string
		outputDir   string
		dryRun      bool
		noFetch     bool
		concurrency int
		rate        float64
		useBrowser  bool
		install     bool
	)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Create bookmark folders for items already saved in the index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "index",
				Aliases:     []string{"i"},
				Usage:       "Path to the index document (default: index_path from config)",
				Sources:     cli.EnvVars(config.EnvPrefix + "INDEX_PATH"),
				Destination: &indexPath,
			},
			&cli.StringFlag{
				Name:        "output-dir",
				Aliases:     []string{"o"},
				Usage:       "Bookmark directory (default: base_dir from config, or 08_bookmarked_content next to --index)",
				Destination: &outputDir,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Preview changes without writing",
				Destination: &dryRun,
			},
			&cli.BoolFlag{
				Name:        "no-fetch",
				Usage:       "Do not download pages; create metadata-only bookmarks",
				Destination: &noFetch,
			},
			&cli.IntFlag{
				Name:        "concurrency",
				Usage:       "Number of bookmarks processed at once (default: migrate.concurrency from config)",
				Destination: &concurrency,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "Page fetches per second (default: migrate.rate from config)",
				Destination: &rate,
			},
			&cli.BoolFlag{
				Name:        "browser",
				Usage:       "Render pages in headless Chromium before extracting them",
				Destination: &useBrowser,
			},
			&cli.BoolFlag{
				Name:        "install-browser",
				Usage:       "Download the Chromium build used by --browser",
				Destination: &install,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if a.cfgErr != nil {
				return a.cfgErr
			}
			ctx, logger := a.logger(ctx, config.OutputStderr)
			mc := a.cfg.Migrate
			if indexPath == "" {
				indexPath = a.cfg.IndexPath
				if outputDir == "" {
					outputDir = a.cfg.BaseDir
				}
			}
			if concurrency <= 0 {
				concurrency = mc.Concurrency
			}
			if rate <= 0 {
				rate = mc.Rate
			}

			opts := migrate.Options{
				IndexPath:   indexPath,
				OutputDir:   outputDir,
				DryRun:      dryRun,
				NoFetch:     noFetch,
				Concurrency: concurrency,
				LockTimeout: a.cfg.LockTimeout.D(),
			}
			switch {
			case noFetch:
			case useBrowser:
				bf, err := migrate.NewBrowserFetcher(migrate.BrowserOptions{
					Install:   install,
					Timeout:   mc.FetchTimeout.D(),
					Rate:      rate,
					UserAgent: mc.UserAgent,
				})
				if err != nil {
					return err
				}
				defer func() {
					if err := bf.Close(); err != nil {
						logger.Warn("failed to stop browser", logging.ErrAttr(err))
					}
				}()
				opts.Fetcher = bf
			default:
				opts.Fetcher = migrate.NewFetcher(
					migrate.WithRate(rate),
					migrate.WithTimeout(mc.FetchTimeout.D()),
					migrate.WithUserAgent(mc.UserAgent),
				)
			}

			logger.Info("migrate configuration",
				"index", indexPath, "output_dir", outputDir, "dry_run", dryRun,
				"no_fetch", noFetch, "browser", useBrowser, "concurrency", concurrency, "rate", rate)

			sum, err := migrate.Run(ctx, opts)
			if err != nil {
				return goerr.Wrap(err, "migration failed")
			}

			verb := "Created"
			if dryRun {
				verb = "Would create"
			}
			fmt.Fprintf(c.Root().ErrWriter, "%s: %d full, %d partial, %d skipped, %d failed\n",
				verb, sum.Full, sum.Partial, sum.Skipped, sum.Failed)
			if sum.Failed > 0 {
				return goerr.New("some bookmarks could not be migrated", goerr.V("failed", sum.Failed))
			}
			return nil
		},
	}
}
