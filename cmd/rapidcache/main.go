package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/run"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

const version = "0.3.0"

func main() {
	app := cli.NewApp()
	app.Name = "rapidcache"
	app.Usage = "page cache and asset optimization pipeline"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: config.DefaultPath, Usage: "path to the YAML config file"},
		cli.StringFlag{Name: "log-level", Usage: "override log.level (debug|info|warn|error)"},
		cli.StringFlag{Name: "log-format", Usage: "override log.format (text|json)"},
	}
	app.Commands = []cli.Command{
		initCommand(),
		newCommand(),
		serveCommand(),
		cacheCommand(),
		imagesCommand(),
		preloadCommand(),
		assetsCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the global --config file and applies log overrides.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if f := c.GlobalString("log-format"); f != "" {
		cfg.Log.Format = f
	}
	return cfg, utils.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format), nil
}

// withSite runs fn against a fully wired site on the OS filesystem.
func withSite(c *cli.Context, fn func(ctx context.Context, site *run.Site) error) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	site, err := run.Open(afero.NewOsFs(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := site.Close(); err != nil {
			logger.Warn("Failed to close site", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, site)
}
