package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"fx-deviation-monitor/internal/projection"
)

// ReportOptions configure the report command.
type ReportOptions struct {
	Filter FilterOptions
	Column string
	Mode   string
	// Sets limits the printed tables; empty prints all of the mode's sets.
	Sets []string
}

// Report prints the dashboard for one threshold column.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	column, err := parseColumn(opts.Column)
	if err != nil {
		return err
	}

	svc, closeSvc, err := a.openService(ctx, opts.Filter, opts.Mode)
	if err != nil {
		return err
	}
	defer closeSvc()

	d, err := svc.Dashboard(ctx, column)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "column: %s  mode: %s  table version: %d\n", d.Column, d.Mode, d.TableVersion)
	fmt.Fprintf(a.Out, "trades: %d  evaluated: %d  alerts: %d  excluded: %d  exceptions: %d (unmapped %d)\n",
		d.Totals.Trades, d.Totals.Evaluated, d.Totals.Alerts, d.Totals.Excluded, d.Totals.Exceptions, d.Totals.UnmappedExceptions)

	if sess, err := svc.Session(); err == nil {
		for _, r := range sess.Snapshot.Rejected() {
			fmt.Fprintf(a.Out, "rejected %s: %s\n", r.TradeID, sanitizeInline(r.Err.Error()))
		}
	}

	names := opts.Sets
	if len(names) == 0 {
		names = projection.ResultSetNames(d.Mode)
	}
	for _, name := range names {
		rs, err := d.ResultSet(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out)
		printResultSet(a.Out, rs)
	}
	return nil
}

func printResultSet(out io.Writer, rs projection.ResultSet) {
	fmt.Fprintf(out, "== %s ==\n", rs.Name)
	if len(rs.Rows) == 0 {
		fmt.Fprintln(out, "(empty)")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(rs.Columns, "\t"))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = sanitizeInline(c)
		}
		fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}
	writer.Flush()
}
