package app

import (
	"context"
	"fmt"
	"text/tabwriter"
)

// ThresholdsOptions configure the thresholds command.
type ThresholdsOptions struct {
	Filter FilterOptions
}

// Thresholds prints the loaded threshold table.
func (a *App) Thresholds(ctx context.Context, opts ThresholdsOptions) error {
	svc, closeSvc, err := a.openService(ctx, opts.Filter, "")
	if err != nil {
		return err
	}
	defer closeSvc()

	table, err := svc.Thresholds()
	if err != nil {
		return err
	}
	entries := table.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no thresholds configured")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Legal entity\tScope\tOriginal\tProposed\tAdjusted")
	for _, e := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%.2f\t%.2f\t%.2f\n", e.LegalEntity, e.Scope, e.Original, e.Proposed, e.Adjusted)
	}
	writer.Flush()
	return nil
}
