package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"vendorgrid/internal/platform/config"
	"vendorgrid/internal/platform/httpserver"
	"vendorgrid/internal/platform/logger"
	"vendorgrid/internal/platform/secrets"
)

// main wires high-level dependencies and dispatches to a command. Business
// logic lives in internal/ingestion.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "vendorgrid",
		Usage: "vendor registry ingestion and identity resolution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "sources",
				Usage: "source catalog path (overrides VENDORGRID_SOURCES_FILE)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler, outbox relay and admin API",
				Action: serve,
			},
			{
				Name:      "trigger",
				Usage:     "run one ingestion cycle for a source and print the run",
				ArgsUsage: "<source-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "actor", Value: "cli"},
				},
				Action: trigger,
			},
			{
				Name:  "import",
				Usage: "import a vendor CSV file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
					&cli.StringFlag{Name: "actor", Value: "cli"},
				},
				Action: importFile,
			},
			{
				Name:  "export",
				Usage: "export vendors as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, stdout when empty"},
				},
				Action: exportFile,
			},
			{
				Name:   "keygen",
				Usage:  "generate an operator token and its bcrypt hash",
				Action: keygen,
			},
		},
		DefaultCommand: "serve",
	}
}

// withApp loads config, builds the app and closes it after fn returns.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if path := c.String("sources"); path != "" {
		cfg.SourcesFile = path
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx := c.Context
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadScheduler(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func serve(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		router, err := a.router()
		if err != nil {
			return err
		}
		srv := httpserver.New(a.cfg.Server.Addr, router)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return ignoreCanceled(a.scheduler.Start(gctx))
		})
		if a.relay != nil {
			g.Go(func() error {
				return ignoreCanceled(a.relay.Start(gctx))
			})
		}
		g.Go(func() error {
			a.logger.InfoContext(gctx, "starting vendorgrid", "addr", a.cfg.Server.Addr)
			return httpserver.Run(gctx, srv, a.cfg.Server.ShutdownTimeout)
		})

		err = g.Wait()
		a.logger.InfoContext(context.WithoutCancel(ctx), "vendorgrid stopped")
		return err
	})
}

func trigger(c *cli.Context) error {
	sourceID := c.Args().First()
	if sourceID == "" {
		return errors.New("source id is required")
	}
	return withApp(c, func(ctx context.Context, a *app) error {
		run, err := a.scheduler.TriggerCycle(ctx, sourceID, c.String("actor"))
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printJSON(c.App.Writer, run)
	})
}

func importFile(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		f, err := os.Open(c.String("file"))
		if err != nil {
			return err
		}
		defer f.Close()

		report, err := a.service.ImportCSV(ctx, c.String("actor"), f)
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printJSON(c.App.Writer, report)
	})
}

func exportFile(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		var w io.Writer = c.App.Writer
		if path := c.String("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := a.service.ExportCSV(ctx, w)
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "export finished", "vendors", n)
		return nil
	})
}

func keygen(c *cli.Context) error {
	token, err := secrets.Generate()
	if err != nil {
		return err
	}
	hash, err := secrets.Hash(token)
	if err != nil {
		return err
	}
	fieldKey, err := secrets.Generate()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "operator token:                 %s\n", token)
	// single quotes keep godotenv from expanding the $ in bcrypt hashes
	fmt.Fprintf(c.App.Writer, "VENDORGRID_OPERATOR_TOKEN_HASH='%s'\n", hash)
	fmt.Fprintf(c.App.Writer, "VENDORGRID_FIELD_KEY=%s\n", fieldKey)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
