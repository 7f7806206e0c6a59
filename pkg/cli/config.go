package cli

import (
	"context"
	"fmt"

	"github.com/entrhq/kbhost/pkg/config"
	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func (a *app) cmdConfig() *cli.Command {
	var force bool

	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create the configuration file",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a configuration file with default values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "Overwrite an existing file",
						Destination: &force,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					path, err := fileaccess.ExpandPath(a.configPath)
					if err != nil {
						return err
					}
					exists, err := fileaccess.Exists(path)
					if err != nil {
						return err
					}
					if exists && !force {
						return goerr.Wrap(fileaccess.ErrAlreadyExists, "config file already exists, use --force to overwrite",
							goerr.V("path", path))
					}
					if err := config.Save(path, config.Default()); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().ErrWriter, "Wrote %s\n", path)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(ctx context.Context, c *cli.Command) error {
					if a.cfgErr != nil {
						return a.cfgErr
					}
					out, err := yaml.Marshal(a.cfg)
					if err != nil {
						return goerr.Wrap(err, "failed to encode config")
					}
					_, err = c.Root().ErrWriter.Write(out)
					return err
				},
			},
		},
	}
}
