package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

// downloadAction loads the config, downloads the candles and writes the output file.
// Every failure is reported as a single line and the command still exits with 0.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	log, err := logger.NewConsoleLogger(cmd.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := marketdata.LoadDownloadConfig(cmd.String("config"))
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeConfigMissing) {
			fmt.Fprintln(out, "Can't find a config.")
		} else {
			fmt.Fprintf(out, "Invalid config: %v\n", err)
		}

		return nil
	}

	req, err := cfg.ToDownloadRequest()
	if err != nil {
		fmt.Fprintf(out, "Invalid config: %v\n", err)

		return nil
	}

	bar := newProgressBar(out, log)

	client, err := marketdata.NewClient(cfg.ToClientConfig(), bar.Update, log)
	if err != nil {
		fmt.Fprintf(out, "Invalid config: %v\n", err)

		return nil
	}

	log.Debug("Starting download",
		zap.String("instrument", req.Instrument),
		zap.String("granularity", string(req.Granularity)),
		zap.Int64("from", req.From),
	)

	fmt.Fprintln(out, "Downloading candles...")

	candles, err := client.Fetch(ctx, req)

	bar.Close()

	if err != nil {
		report(out, cfg, err)

		return nil
	}

	fmt.Fprintf(out, "Writing to %s file...\n", cfg.OutputFormat)

	if _, err := client.Write(candles, req.Price); err != nil {
		report(out, cfg, err)

		return nil
	}

	fmt.Fprintln(out, "Done.")

	return nil
}

// report prints the single line message for a failed download.
func report(out io.Writer, cfg *marketdata.DownloadConfig, err error) {
	switch errors.GetCode(err) {
	case errors.ErrCodeInterrupted:
		fmt.Fprintln(out, "Keyboard interrupt. Exiting without saving.")
	case errors.ErrCodeConnectionFailure:
		fmt.Fprintf(out, "Could not connect to %s.\n", cfg.Hostname)
	case errors.ErrCodeAPIFailure, errors.ErrCodeBatchTooLarge:
		fmt.Fprintf(out, "API error occurred: %s\n", errors.GetMessage(err))
	case errors.ErrCodeNoResults:
		fmt.Fprintln(out, "No results.")
	case errors.ErrCodeWriteFailed:
		fmt.Fprintf(out, "Can't write to an output file: %v\n", err)
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

func initAction(_ context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	path := cmd.Args().First()
	if path == "" {
		path = cmd.String("config")
	}

	if err := marketdata.WriteDownloadConfigTemplate(path); err != nil {
		fmt.Fprintf(out, "Can't write a config: %v\n", err)

		return nil
	}

	fmt.Fprintf(out, "Config written to %s. Set your token before downloading.\n", path)

	return nil
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	schema, err := marketdata.DownloadConfigSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Fprintln(cmd.Root().Writer, schema)

	return nil
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "oanda-candles",
		Usage:     "Download historical candles from OANDA into a flat file",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config `FILE` (yaml, toml or json)",
				Value:   defaultConfigPath,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every request",
			},
		},
		Action: downloadAction,
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "Download the candles described by the config (default)",
				Action: downloadAction,
			},
			{
				Name:      "init",
				Usage:     "Write a config template",
				ArgsUsage: "[path]",
				Action:    initAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the config",
				Action: schemaAction,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
