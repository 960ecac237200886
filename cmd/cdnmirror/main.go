package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ligustah/cdnmirror/internal/config"
	"github.com/ligustah/cdnmirror/internal/progress"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitResolveFailed  = 3
	ExitStorageError   = 5
	ExitDownloadFailed = 8
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[cdnmirror] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runApp(ctx, args, os.Stdout, os.Stderr)
}

// runApp parses args and runs the mirror, returning the process exit code.
func runApp(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := ExitSuccess

	app := &cli.App{
		Name:      "cdnmirror",
		Usage:     "Mirror the resources listed in a CDN manifest",
		UsageText: "cdnmirror -i INDEX_URL -o OUTPUT [-f FILELIST] [options]",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "index-url",
				Aliases: []string{"i"},
				Usage:   "`url` of the index document",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output `directory` or bucket URL (s3://, gs://, file://, mem://)",
			},
			&cli.StringFlag{
				Name:    "filelist",
				Aliases: []string{"f"},
				Usage:   "`file` of newline-separated glob patterns; all resources if omitted",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML configuration `file`",
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"n"},
				Usage:   "maximum concurrent downloads (default 15)",
			},
			&cli.StringFlag{
				Name:  "buffer-size",
				Usage: "read buffer `size`, e.g. 32KiB (default 32KiB)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "connect and response header timeout (default 30s)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log `level`: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log `format`: console or json",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "disable progress output",
			},
			&cli.BoolFlag{
				Name:  "allow-failures",
				Usage: "exit 0 even if some downloads failed",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print the planned downloads without fetching them",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				fmt.Fprintf(stderr, "Error: unexpected arguments: %v\n", c.Args().Slice())
				code = ExitInvalidArgs
				return nil
			}

			cfg, err := loadConfig(c)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				code = ExitInvalidArgs
				return nil
			}

			code = mirror(c.Context, cfg, c.Bool("dry-run"), stdout, stderr)
			return nil
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}

	if err := app.RunContext(ctx, append([]string{"cdnmirror"}, args...)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	return code
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		IndexURL:      c.String("index-url"),
		Output:        c.String("output"),
		FileList:      c.String("filelist"),
		Concurrency:   c.Int("concurrency"),
		Timeout:       c.Duration("timeout"),
		LogLevel:      c.String("log-level"),
		LogFormat:     c.String("log-format"),
		AllowFailures: c.Bool("allow-failures"),
	}
	if v := c.String("buffer-size"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse buffer-size: %w", err)
		}
		override.BufferSize = size
	}
	if c.IsSet("timeout") && override.Timeout == 0 {
		// An explicit zero disables the timeout.
		cfg.Timeout = 0
	}

	cfg = cfg.Merge(override)
	if c.Bool("no-progress") {
		cfg.Progress = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
