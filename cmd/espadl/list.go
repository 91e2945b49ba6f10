package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ligustah/espadl/internal/layout"
	"github.com/ligustah/espadl/internal/progress"
)

func (a *app) listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show completed scenes and their local state",
		Long: `List the completed scenes of an order and whether each one is stored,
partially downloaded or missing in the target directory. Nothing is
downloaded.`,
		Args: cobra.NoArgs,
		RunE: a.runList,
	}
	a.addServiceFlags(cmd)
	return cmd
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if err := a.authenticate(&cfg); err != nil {
		return err
	}
	client, err := a.httpClient(cfg)
	if err != nil {
		return err
	}

	resolver := layout.NewResolver(cfg.Directory)
	var stored, partial, missing, failed int

	for as, err := range a.enumerator(cfg, client).Assets(ctx, cfg.Order) {
		if err != nil {
			if exit := enumerationExit(err); exit != nil {
				return exit
			}
			failed++
			fmt.Fprintf(a.stdout, "%s %v\n", styleState.Render(styleError.Render("error")), err)
			continue
		}

		paths, err := resolver.Resolve(as)
		if err != nil {
			failed++
			fmt.Fprintf(a.stdout, "%s %s: %v\n", styleState.Render(styleError.Render("error")), as.Filename, err)
			continue
		}

		state, size := "missing", ""
		if info, err := os.Stat(paths.Final); err == nil {
			state, size = "stored", progress.FormatBytes(info.Size())
			stored++
		} else if n, err := layout.StartingOffset(paths.Partial); err == nil && n > 0 {
			state, size = "partial", progress.FormatBytes(n)
			partial++
		} else {
			missing++
		}

		fmt.Fprintf(a.stdout, "%s %10s  %s/%s\n", styleState.Render(state), size, as.OrderID, as.Filename)
	}

	fmt.Fprintf(a.stdout, "%s %d stored, %d partial, %d missing\n",
		styleTitle.Render("Total:"), stored, partial, missing)

	if failed > 0 {
		return exitWith(ExitGeneralError, nil)
	}
	return nil
}
