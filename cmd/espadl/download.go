package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/espadl/internal/checksum"
	"github.com/ligustah/espadl/internal/downloader"
	"github.com/ligustah/espadl/internal/layout"
	"github.com/ligustah/espadl/internal/mirror"
	"github.com/ligustah/espadl/internal/order"
	"github.com/ligustah/espadl/internal/progress"
)

func (a *app) downloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every completed scene of an order",
		Long: `Download every completed scene of an order, or of all orders.

Scenes already present in the target directory are skipped. Interrupted
transfers keep their .part file and continue from its size on the next run.`,
		Example: `  espadl download -e your_email@server.com -o ALL -d /some/directory/with/free/space -u user
  espadl download -e your_email@server.com -o espa-order-0101 -d ./scenes -u user --checksum`,
		Args: cobra.NoArgs,
		RunE: a.runDownload,
	}

	a.addServiceFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&a.flags.Checksum, "checksum", false, "download checksum files and verify every scene")
	f.StringVar(&a.chunkSize, "chunk-size", "", "read buffer size (e.g. 1MiB)")
	f.DurationVar(&a.flags.Pacing.Min, "pacing-min", 0, "minimum delay between requests (0 disables pacing)")
	f.DurationVar(&a.flags.Pacing.Max, "pacing-max", 0, "maximum delay between requests")
	f.StringVar(&a.flags.Mirror.Bucket, "mirror-bucket", "", "bucket URL receiving completed scenes (file://, s3://, gs://)")
	f.StringVar(&a.flags.Mirror.Prefix, "mirror-prefix", "", "key prefix inside the mirror bucket")
	return cmd
}

func (a *app) runDownload(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if err := a.authenticate(&cfg); err != nil {
		return err
	}
	client, err := a.httpClient(cfg)
	if err != nil {
		return err
	}

	var reporter *progress.Reporter
	if isTerminal(a.stderr) {
		reporter = progress.NewReporter(progress.Options{Output: a.stderr})
	}

	fetcher := downloader.NewFetcher(client, int(cfg.ChunkSize), reporter, a.logger)
	d := downloader.New(fetcher, layout.NewResolver(cfg.Directory), a.logger,
		downloader.WithPacer(downloader.RandomPacer{Min: cfg.Pacing.Min, Max: cfg.Pacing.Max}),
		downloader.WithReporter(reporter),
	)

	var opts []downloader.BatchOption
	if cfg.Checksum {
		opts = append(opts, downloader.WithChecksums(checksum.Compare))
	}
	if cfg.Mirror.Bucket != "" {
		pub, err := mirror.Open(ctx, cfg.Mirror.Bucket, cfg.Mirror.Prefix, a.logger)
		if err != nil {
			return exitWith(ExitGeneralError, err)
		}
		defer pub.Close()
		opts = append(opts, downloader.WithPublisher(pub))
	}

	a.logger.Info("retrieving assets",
		"order", cfg.Order,
		"source", cfg.Source,
		"directory", cfg.Directory,
	)

	items := a.enumerator(cfg, client).Assets(ctx, cfg.Order)
	summary := downloader.NewBatch(d, a.logger, opts...).Run(ctx, items)

	a.printSummary(summary)
	return summaryExit(summary)
}

func (a *app) printSummary(s *downloader.Summary) {
	line := fmt.Sprintf("%d downloaded, %d already present", s.Downloaded, s.Skipped)
	if s.Mirrored > 0 {
		line += fmt.Sprintf(", %d mirrored", s.Mirrored)
	}

	switch {
	case s.Fatal != nil:
		fmt.Fprintf(a.stdout, "%s %s\n", styleError.Render("Stopped:"), line)
	case len(s.Failed) > 0:
		fmt.Fprintf(a.stdout, "%s %s, %d failed\n", styleWarn.Render("Finished:"), line, len(s.Failed))
	default:
		fmt.Fprintf(a.stdout, "%s %s\n", styleOK.Render("Done:"), line)
	}

	for _, w := range s.Warnings {
		fmt.Fprintf(a.stdout, "  %s %v\n", styleWarn.Render("warning"), w)
	}
	for _, f := range s.Failed {
		fmt.Fprintf(a.stdout, "  %s %v\n", styleError.Render("failed"), f)
	}
}

func summaryExit(s *downloader.Summary) error {
	switch {
	case s.Fatal != nil && (errors.Is(s.Fatal, order.ErrAuthentication) || downloader.IsAuth(s.Fatal)):
		return exitWith(ExitAuthFailed, s.Fatal)
	case s.Fatal != nil:
		return exitWith(ExitGeneralError, s.Fatal)
	case len(s.Failed) > 0:
		for _, f := range s.Failed {
			if !errors.Is(f, order.ErrOrderNotFound) {
				return exitWith(ExitAssetsFailed, nil)
			}
		}
		return exitWith(ExitOrderNotFound, nil)
	}

	for _, w := range s.Warnings {
		if errors.Is(w, checksum.ErrMismatch) {
			return exitWith(ExitChecksumMismatch, nil)
		}
	}
	return nil
}
