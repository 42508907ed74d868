package app

import (
	"context"
	"errors"
	"fmt"

	"fx-deviation-monitor/internal/export"
	"fx-deviation-monitor/internal/projection"
)

// ExportOptions configure the export command.
type ExportOptions struct {
	Filter FilterOptions
	Column string
	Mode   string
	// Sets limits the exported tables; empty exports all of the mode's sets.
	Sets []string
	// Format defaults to export.default_format.
	Format string
	// Dir defaults to export.directory.
	Dir string
	// PNG also renders a bar chart for every chartable set.
	PNG bool
}

// Export writes dashboard result sets to files and prints their paths.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	column, err := parseColumn(opts.Column)
	if err != nil {
		return err
	}
	rawFormat := opts.Format
	if rawFormat == "" {
		rawFormat = a.Config.Export.DefaultFormat
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return err
	}
	dir := opts.Dir
	if dir == "" {
		dir = a.Config.Export.Directory
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

	names := opts.Sets
	if len(names) == 0 {
		names = projection.ResultSetNames(d.Mode)
	}
	exporter := export.New(a.Logger)
	written := 0
	for _, name := range names {
		rs, err := d.ResultSet(name)
		if err != nil {
			return err
		}
		path, err := exporter.WriteFile(dir, rs, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, path)
		written++

		if !opts.PNG || format == export.PNG || rs.Chart == "" {
			continue
		}
		path, err = exporter.WriteFile(dir, rs, export.PNG)
		if errors.Is(err, export.ErrNotChartable) {
			a.Logger.Debug().Str("set", name).Msg("nothing to chart")
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, path)
		written++
	}

	a.Logger.Info().Str("column", string(column)).Int("files", written).Str("dir", dir).Msg("export finished")
	return nil
}
