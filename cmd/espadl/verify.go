package main

import (
	"errors"
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/ligustah/espadl/internal/asset"
	"github.com/ligustah/espadl/internal/checksum"
	"github.com/ligustah/espadl/internal/layout"
)

func (a *app) verifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stored scenes against their checksum files",
		Long: `Compare every stored scene with the checksum file next to it. Works
offline on the target directory; scenes without a checksum file are
reported as unchecked.`,
		Args: cobra.NoArgs,
		RunE: a.runVerify,
	}
	cmd.Flags().StringVarP(&a.flags.Order, "order", "o", "", "only verify this order (ALL for every order)")
	return cmd
}

func (a *app) runVerify(_ *cobra.Command, _ []string) error {
	entries, err := layout.NewResolver(a.cfg.Directory).Scan()
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}

	complete := make(map[string]layout.Entry)
	for _, e := range entries {
		if !e.Partial {
			complete[path.Join(e.OrderID, e.Filename)] = e
		}
	}

	var verified, mismatched, unchecked, failed int
	for _, e := range entries {
		if e.Partial || checksum.IsChecksumFile(e.Filename) || !matchOrder(a.cfg.Order, e.OrderID) {
			continue
		}

		sum, ok := companion(complete, e)
		if !ok {
			unchecked++
			a.logger.Debug("no checksum file", "order_id", e.OrderID, "asset", e.Filename)
			continue
		}

		err := checksum.Compare(e.Path, sum.Path)
		name := path.Join(e.OrderID, e.Filename)
		switch {
		case err == nil:
			verified++
			fmt.Fprintf(a.stdout, "%s %s\n", styleState.Render(styleOK.Render("ok")), name)
		case errors.Is(err, checksum.ErrMismatch):
			mismatched++
			fmt.Fprintf(a.stdout, "%s %s: %v\n", styleState.Render(styleError.Render("mismatch")), name, err)
		default:
			failed++
			fmt.Fprintf(a.stdout, "%s %s: %v\n", styleState.Render(styleWarn.Render("error")), name, err)
		}
	}

	fmt.Fprintf(a.stdout, "%s %d verified, %d mismatched, %d unchecked\n",
		styleTitle.Render("Total:"), verified, mismatched, unchecked)

	switch {
	case mismatched > 0:
		return exitWith(ExitChecksumMismatch, nil)
	case failed > 0:
		return exitWith(ExitGeneralError, nil)
	}
	return nil
}

func companion(complete map[string]layout.Entry, payload layout.Entry) (layout.Entry, bool) {
	for _, name := range checksum.Companions(payload.Filename, asset.ArchiveSuffix) {
		if e, ok := complete[path.Join(payload.OrderID, name)]; ok {
			return e, true
		}
	}
	return layout.Entry{}, false
}
