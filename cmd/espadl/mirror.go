package main

import (
	"errors"
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/ligustah/espadl/internal/layout"
	"github.com/ligustah/espadl/internal/mirror"
)

func (a *app) mirrorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Publish stored scenes to a bucket",
		Long: `Copy every complete file of the target directory to a bucket, keyed
as <prefix>/<order>/<file>. Objects of the same size are left alone.`,
		Example: `  espadl mirror -d ./scenes --mirror-bucket s3://my-bucket --mirror-prefix landsat`,
		Args:    cobra.NoArgs,
		RunE:    a.runMirror,
	}
	f := cmd.Flags()
	f.StringVarP(&a.flags.Order, "order", "o", "", "only mirror this order (ALL for every order)")
	f.StringVar(&a.flags.Mirror.Bucket, "mirror-bucket", "", "bucket URL (file://, s3://, gs://)")
	f.StringVar(&a.flags.Mirror.Prefix, "mirror-prefix", "", "key prefix inside the bucket")
	return cmd
}

func (a *app) runMirror(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if cfg.Mirror.Bucket == "" {
		return exitWith(ExitInvalidArgs, errors.New("--mirror-bucket is required"))
	}

	entries, err := layout.NewResolver(cfg.Directory).Scan()
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}

	pub, err := mirror.Open(ctx, cfg.Mirror.Bucket, cfg.Mirror.Prefix, a.logger)
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}
	defer pub.Close()

	var uploaded, unchanged, failed int
	for _, e := range entries {
		if e.Partial || !matchOrder(cfg.Order, e.OrderID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return exitWith(ExitGeneralError, err)
		}

		ok, err := pub.PublishStored(ctx, e)
		name := path.Join(e.OrderID, e.Filename)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(a.stdout, "%s %s: %v\n", styleState.Render(styleError.Render("failed")), name, err)
		case ok:
			uploaded++
			fmt.Fprintf(a.stdout, "%s %s\n", styleState.Render(styleOK.Render("uploaded")), name)
		default:
			unchanged++
		}
	}

	fmt.Fprintf(a.stdout, "%s %d uploaded, %d unchanged, %d failed\n",
		styleTitle.Render("Total:"), uploaded, unchanged, failed)

	if failed > 0 {
		return exitWith(ExitGeneralError, nil)
	}
	return nil
}
