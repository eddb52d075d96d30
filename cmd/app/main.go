package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/app"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/usecase"
)

// errFeedInvalid exits with status 1 without printing anything after the
// report.
var errFeedInvalid = cli.Exit("", 1)

func main() {
	cmd := &cli.Command{
		Name:  "gbfsvalidator",
		Usage: "Validate GBFS feeds against the official JSON schemas",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("GBFSVALIDATOR_CONFIG"),
				Usage:   "Optional JSON config file",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: json or console (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error (overrides config)",
			},
			&cli.StringFlag{
				Name:  "default-version",
				Usage: "Version assumed when the feed does not declare one (overrides config)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			validateCommand(),
			validateDirCommand(),
			versionsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(c *cli.Command) (app.Config, *zap.Logger, error) {
	cfg, err := app.LoadConfig(c.String("config"))
	if err != nil {
		return app.Config{}, nil, err
	}
	if v := c.String("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("default-version"); v != "" {
		cfg.DefaultVersion = v
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("db-path") {
		cfg.DBPath = c.String("db-path")
	}
	if c.IsSet("no-store") && c.Bool("no-store") {
		cfg.PersistReports = false
	}
	if c.IsSet("webhook-url") {
		cfg.WebhookURL = c.String("webhook-url")
	}
	if c.IsSet("webhook-secret") {
		cfg.WebhookSecret = c.String("webhook-secret")
	}
	if c.IsSet("timeout") {
		cfg.LoaderTimeoutSeconds = int(c.Int("timeout"))
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, nil, err
	}

	logger, err := app.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, logger, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP validation API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "SQLite file path for stored reports",
			},
			&cli.BoolFlag{
				Name:  "no-store",
				Usage: "Do not persist reports",
			},
			&cli.StringFlag{
				Name:  "webhook-url",
				Usage: "Report notification webhook target URL",
			},
			&cli.StringFlag{
				Name:  "webhook-secret",
				Usage: "HMAC-SHA256 signing secret for outbound webhook requests",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Sugar()

			server, closer, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Errorw("close resources", "error", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Infow("listening", "addr", cfg.Addr, "persist_reports", cfg.PersistReports)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.Infow("received signal", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Value: "json",
			Usage: "Output format: json or yaml",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Write the report to this file instead of stdout",
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Load a feed from its discovery URL or path and validate it",
		ArgsUsage: "[gbfs.json url or path]",
		Flags: append(outputFlags(),
			&cli.StringFlag{
				Name:  "url",
				Usage: "Discovery file URL or path",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Per-file fetch timeout in seconds",
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			target := c.String("url")
			if target == "" {
				target = c.Args().First()
			}
			if target == "" || c.Args().Len() > 1 {
				return cli.Exit("expected one discovery url or path", 2)
			}
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			engine := app.NewEngine(cfg, logger, nil)
			res, err := engine.Reports.ValidateURL(ctx, target)
			if err != nil {
				return err
			}
			for _, f := range res.LoaderErrors {
				for _, diag := range f.Errors {
					logger.Sugar().Warnw("feed not loaded", "feed", f.Name, "url", f.URL, "kind", diag.Kind, "error", diag.Message)
				}
			}
			return writeReport(c, res, res.Report.Summary.ErrorsCount)
		},
	}
}

func validateDirCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-dir",
		Usage:     "Validate the feed files in a directory, named after their feed",
		ArgsUsage: "<dir>",
		Flags:     outputFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return cli.Exit("expected exactly one directory", 2)
			}
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			feeds, err := app.ReadFeedDir(c.Args().First())
			if err != nil {
				return err
			}
			engine := app.NewEngine(cfg, logger, nil)
			report, err := engine.Validator.ValidateBytes(ctx, feeds)
			if err != nil {
				return err
			}
			return writeReport(c, report, report.Summary.ErrorsCount)
		},
	}
}

func writeReport(c *cli.Command, v any, errorsCount int) error {
	var w io.Writer = os.Stdout
	if p := c.String("output"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := app.WriteResult(w, c.String("format"), v); err != nil {
		return err
	}
	if errorsCount > 0 {
		return errFeedInvalid
	}
	return nil
}

func versionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "versions",
		Usage: "List supported versions and their feeds",
		Flags: outputFlags()[:1],
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			engine := app.NewEngine(cfg, logger, nil)

			type feedInfo struct {
				Name     string `json:"name"`
				Required bool   `json:"required"`
			}
			type versionInfo struct {
				Version string     `json:"version"`
				Default bool       `json:"default"`
				Feeds   []feedInfo `json:"feeds"`
			}

			var out []versionInfo
			for _, v := range usecase.SupportedVersions() {
				version, err := engine.Catalog.Version(v)
				if err != nil {
					return err
				}
				info := versionInfo{Version: v, Default: v == cfg.DefaultVersion}
				for _, feed := range version.FeedNames() {
					info.Feeds = append(info.Feeds, feedInfo{Name: feed, Required: version.IsRequired(feed)})
				}
				out = append(out, info)
			}
			return app.WriteResult(os.Stdout, c.String("format"), out)
		},
	}
}
