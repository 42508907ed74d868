// Package export renders dashboard result sets as CSV, JSON, MessagePack or a
// PNG bar chart.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	chart "github.com/wcharczuk/go-chart/v2"

	"fx-deviation-monitor/internal/projection"
)

var (
	// ErrUnsupportedFormat is returned for an unknown export format.
	ErrUnsupportedFormat = errors.New("export: unsupported format")
	// ErrNotChartable is returned when a PNG is requested for a set without a
	// numeric chart column, or with nothing to plot.
	ErrNotChartable = errors.New("export: result set cannot be charted")
)

// Format is an output encoding.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	MsgPack Format = "msgpack"
	PNG     Format = "png"
)

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, MsgPack, PNG:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	if f == MsgPack {
		return ".msgpack"
	}
	return "." + string(f)
}

// ContentType returns the HTTP media type for the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case JSON:
		return "application/json"
	case MsgPack:
		return "application/vnd.msgpack"
	case PNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// Exporter encodes result sets.
type Exporter struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New returns an exporter.
func New(logger zerolog.Logger) *Exporter {
	return &Exporter{
		logger: logger.With().Str("component", "export").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Export encodes one result set.
func (e *Exporter) Export(set projection.ResultSet, format Format) ([]byte, error) {
	switch format {
	case CSV:
		return encodeCSV(set)
	case JSON:
		return json.MarshalIndent(set, "", "  ")
	case MsgPack:
		return msgpack.Marshal(set)
	case PNG:
		return renderPNG(set)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// WriteFile exports a set into dir and returns the written path. The file name
// carries the set name and a UTC timestamp.
func (e *Exporter) WriteFile(dir string, set projection.ResultSet, format Format) (string, error) {
	data, err := e.Export(set, format)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s%s", set.Name, e.now().Format("20060102T150405Z"), format.Extension())
	path := filepath.Join(dir, name)
	if err := ensureDir(path); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	e.logger.Info().Str("set", set.Name).Str("format", string(format)).Str("path", path).Int("rows", len(set.Rows)).Msg("result set exported")
	return path, nil
}

func encodeCSV(set projection.ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(set.Columns); err != nil {
		return nil, err
	}
	for _, row := range set.Rows {
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPNG(set projection.ResultSet) ([]byte, error) {
	col := set.ColumnIndex(set.Chart)
	if set.Chart == "" || col < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotChartable, set.Name)
	}

	bars := make([]chart.Value, 0, len(set.Rows))
	nonZero := false
	for _, row := range set.Rows {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %q: %v", ErrNotChartable, set.Name, row[0], err)
		}
		if v != 0 {
			nonZero = true
		}
		bars = append(bars, chart.Value{Label: row[0], Value: v})
	}
	if !nonZero {
		return nil, fmt.Errorf("%w: %s has nothing to plot", ErrNotChartable, set.Name)
	}

	graph := chart.BarChart{
		Title:    strings.ReplaceAll(set.Name, "_", " "),
		Width:    1280,
		Height:   720,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			Name: set.Chart,
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %s chart: %w", set.Name, err)
	}
	return buf.Bytes(), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
