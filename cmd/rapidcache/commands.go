package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/Kush-Singh-26/rapidcache/internal/clean"
	newpage "github.com/Kush-Singh-26/rapidcache/internal/new"
	"github.com/Kush-Singh-26/rapidcache/internal/scaffold"
	"github.com/Kush-Singh-26/rapidcache/internal/server"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/run"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

func initCommand() cli.Command {
	return cli.Command{
		Name:  "init",
		Usage: "create a new project in the current directory",
		Action: func(c *cli.Context) error {
			fmt.Println("🌱 Initializing new rapidcache project...")
			created, err := scaffold.Run(afero.NewOsFs(), ".", time.Now())
			for _, p := range created {
				fmt.Printf("   📄 Created '%s'\n", p)
			}
			if err != nil {
				return err
			}
			fmt.Println("\n✅ Project initialized. Run 'rapidcache serve' to start.")
			return nil
		},
	}
}

func newCommand() cli.Command {
	return cli.Command{
		Name:      "new",
		Usage:     "create a markdown page",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "section, s", Usage: "subdirectory below the content dir"},
			cli.BoolFlag{Name: "draft", Usage: "mark the page as a draft"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.NewExitError(`usage: rapidcache new "My New Page Title"`, 1)
			}
			cfg, _, err := loadConfig(c)
			if err != nil {
				return err
			}
			path, err := newpage.Run(afero.NewOsFs(), cfg.ContentDir, newpage.Options{
				Title:   c.Args().First(),
				Section: c.String("section"),
				Draft:   c.Bool("draft"),
			}, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created: %s\n", path)
			return nil
		},
	}
}

func serveCommand() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "serve the site through the page cache",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "listen, l", Usage: "override the listen address"},
		},
		Action: func(c *cli.Context) error {
			return withSite(c, func(ctx context.Context, site *run.Site) error {
				if addr := c.String("listen"); addr != "" {
					site.Config.Listen = addr
				}
				return server.Run(ctx, site, site.Logger())
			})
		},
	}
}

func cacheCommand() cli.Command {
	return cli.Command{
		Name:  "cache",
		Usage: "inspect or clear the page cache",
		Subcommands: []cli.Command{
			{
				Name:  "clear",
				Usage: "delete cached pages and artifacts (all, or one page with --path)",
				Flags: []cli.Flag{
					cli.StringFlag{Name: "path, p", Usage: "clear a single URL path"},
					cli.BoolFlag{Name: "keep-assets", Usage: "leave minified artifacts in place"},
					cli.BoolFlag{Name: "state", Usage: "also delete the job database"},
				},
				Action: cacheClear,
			},
			{
				Name:  "stats",
				Usage: "show cache, asset and image queue statistics",
				Action: func(c *cli.Context) error {
					return withSite(c, func(_ context.Context, site *run.Site) error {
						st, err := site.Stats()
						if err != nil {
							return err
						}
						printStats(st)
						return nil
					})
				},
			},
		},
	}
}

func cacheClear(c *cli.Context) error {
	if p := c.String("path"); p != "" {
		return withSite(c, func(_ context.Context, site *run.Site) error {
			urlPath := utils.NormalizeURLPath(p)
			if err := site.Pages.ClearPath(urlPath); err != nil {
				return err
			}
			fmt.Printf("🧹 Cleared %s\n", urlPath)
			return nil
		})
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	res, err := clean.Run(afero.NewOsFs(), cfg, clean.Options{
		KeepAssets: c.Bool("keep-assets"),
		State:      c.Bool("state"),
	}, logger)
	if err != nil {
		return err
	}
	fmt.Printf("🧹 Removed %d entries (%d preserved)\n", res.Removed, res.Preserved)
	return nil
}

func printStats(st *run.Stats) {
	fmt.Println("📊 Cache Statistics")
	fmt.Println("==================")
	fmt.Printf("Cached pages:    %d\n", st.Pages)
	fmt.Printf("Asset artifacts: %d (%s)\n", st.AssetFiles, formatBytes(st.AssetBytes))
	for _, img := range st.Images {
		fmt.Printf("Images [%s]:   pending=%d completed=%d failed=%d skipped=%d converted=%d\n",
			img.Format,
			img.Counts[images.StatusPending], img.Counts[images.StatusCompleted],
			img.Counts[images.StatusFailed], img.Counts[images.StatusSkipped],
			img.Converted)
	}
	for kind, r := range st.Sweeps {
		fmt.Printf("Last %s sweep: %s (scheduled=%d ok=%d failed=%d skipped=%d, %v)\n",
			kind, time.Unix(r.StartedAt, 0).Format(time.RFC3339),
			r.Scheduled, r.Succeeded, r.Failed, r.Skipped, time.Duration(r.Duration).Round(time.Millisecond))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func imagesCommand() cli.Command {
	return cli.Command{
		Name:  "images",
		Usage: "manage next-generation image conversion",
		Subcommands: []cli.Command{
			{
				Name:      "convert",
				Usage:     "convert the given docroot paths now",
				ArgsUsage: "<path> [path...]",
				Action: func(c *cli.Context) error {
					if len(c.Args()) == 0 {
						return cli.NewExitError("images convert needs at least one path", 1)
					}
					return withSite(c, func(ctx context.Context, site *run.Site) error {
						results := site.Images.ConvertPaths(ctx, c.Args())
						for _, p := range c.Args() {
							for f, status := range results[p] {
								fmt.Printf("%-10s %-5s %s\n", status, f, p)
							}
						}
						return nil
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "run one conversion batch from the queue",
				Action: func(c *cli.Context) error {
					return withSite(c, func(ctx context.Context, site *run.Site) error {
						r, err := site.Scheduler.SweepImages(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("🖼️  Converted %d, failed %d, skipped %d\n", r.Succeeded, r.Failed, r.Skipped)
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "show queue counts per format",
				Action: func(c *cli.Context) error {
					return withSite(c, func(_ context.Context, site *run.Site) error {
						for _, f := range site.Images.Formats() {
							counts, err := site.Images.Queue().Counts(f)
							if err != nil {
								return err
							}
							fmt.Printf("%s: pending=%d completed=%d failed=%d skipped=%d\n", f,
								counts[images.StatusPending], counts[images.StatusCompleted],
								counts[images.StatusFailed], counts[images.StatusSkipped])
						}
						return nil
					})
				},
			},
			{
				Name:  "retry-failed",
				Usage: "move failed jobs back to pending",
				Action: func(c *cli.Context) error {
					return withSite(c, func(_ context.Context, site *run.Site) error {
						for _, f := range site.Images.Formats() {
							n, err := site.Images.Queue().RetryFailed(f)
							if err != nil {
								return err
							}
							fmt.Printf("🔁 %s: %d jobs re-queued\n", f, n)
						}
						return nil
					})
				},
			},
			{
				Name:  "delete-converted",
				Usage: "delete every converted image and reset the queue",
				Action: func(c *cli.Context) error {
					return withSite(c, func(_ context.Context, site *run.Site) error {
						n, err := site.Images.DeleteConverted()
						if err != nil {
							return err
						}
						fmt.Printf("🗑️  Deleted %d converted images\n", n)
						return nil
					})
				},
			},
		},
	}
}

func preloadCommand() cli.Command {
	return cli.Command{
		Name:  "preload",
		Usage: "warm the page cache",
		Subcommands: []cli.Command{
			{
				Name:  "run",
				Usage: "fetch every public page now",
				Action: func(c *cli.Context) error {
					return withSite(c, func(ctx context.Context, site *run.Site) error {
						r, err := site.Scheduler.PreloadNow(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("🔥 Preloaded %d pages (%d failed, %d excluded)\n", r.Succeeded, r.Failed, r.Skipped)
						return nil
					})
				},
			},
		},
	}
}

func assetsCommand() cli.Command {
	return cli.Command{
		Name:  "assets",
		Usage: "manage minified artifacts",
		Subcommands: []cli.Command{
			{
				Name:  "prune",
				Usage: "delete artifacts older than a threshold",
				Flags: []cli.Flag{
					cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "minimum artifact age"},
				},
				Action: func(c *cli.Context) error {
					return withSite(c, func(_ context.Context, site *run.Site) error {
						n, err := site.Assets.Prune(c.Duration("older-than"))
						if err != nil {
							return err
						}
						fmt.Printf("🧹 Pruned %d artifacts\n", n)
						return nil
					})
				},
			},
		},
	}
}
