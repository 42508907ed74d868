package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"fx-deviation-monitor/internal/service"
	"fx-deviation-monitor/internal/simulate"
)

// SimulateOptions configure a what-if run.
type SimulateOptions struct {
	Filter FilterOptions
	Column string
	// Overrides are ENTITY/SCOPE=VALUE edits to the adjusted column.
	Overrides []string
	// Compare names a baseline column to diff the run against.
	Compare string
	Notify  bool
}

// Simulate applies the overrides, runs the column and prints the impact.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	column, err := parseColumn(opts.Column)
	if err != nil {
		return err
	}
	overrides := make([]service.Override, 0, len(opts.Overrides))
	for _, raw := range opts.Overrides {
		o, err := service.ParseOverride(raw)
		if err != nil {
			return err
		}
		overrides = append(overrides, o)
	}
	if opts.Notify && a.newNotifier() == nil {
		return errors.New("notify requested but no channel is enabled")
	}

	svc, closeSvc, err := a.openService(ctx, opts.Filter, "")
	if err != nil {
		return err
	}
	defer closeSvc()

	if err := svc.ApplyOverrides(overrides); err != nil {
		return err
	}

	res, err := svc.Simulate(ctx, column)
	if err != nil {
		return err
	}
	a.printResult(res)

	var cmp *simulate.Comparison
	if opts.Compare != "" {
		base, err := parseColumn(opts.Compare)
		if err != nil {
			return err
		}
		c, err := svc.Compare(ctx, base, column)
		if err != nil {
			return err
		}
		cmp = &c
		a.printComparison(c)
	}

	if opts.Notify {
		if err := svc.Notify(ctx, res, cmp, overrides); err != nil {
			return fmt.Errorf("send digest: %w", err)
		}
		a.Logger.Info().Msg("simulation digest sent")
	}
	return nil
}

func (a *App) printResult(res simulate.Result) {
	fmt.Fprintf(a.Out, "column: %s  table version: %d  evaluated: %d  alerts: %d  excluded: %d\n",
		res.Column, res.TableVersion, res.Evaluated, len(res.Alerts), len(res.Exclusions))

	if len(res.LegalEntitySummary) > 0 {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Legal entity\tAlerts\tImpact%\tNotional")
		for _, e := range res.LegalEntitySummary {
			fmt.Fprintf(writer, "%s\t%d\t%.1f\t%s\n", e.LegalEntity, e.AlertCount, e.ImpactPercentage, e.AlertNotional.StringFixed(2))
		}
		writer.Flush()
	}
	for _, ex := range res.Exclusions {
		fmt.Fprintf(a.Out, "excluded %s: %s\n", ex.ID, sanitizeInline(ex.Err.Error()))
	}
}

func (a *App) printComparison(c simulate.Comparison) {
	fmt.Fprintf(a.Out, "\n%s -> %s: %d -> %d alerts\n", c.From, c.To, c.Before, c.After)
	if len(c.Entities) == 0 {
		return
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Legal entity\tBefore\tAfter\tAdded\tRemoved")
	for _, e := range c.Entities {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\n", e.LegalEntity, e.Before, e.After, len(e.Added), len(e.Removed))
	}
	writer.Flush()
}
