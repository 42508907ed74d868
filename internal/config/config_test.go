package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
)

const sampleConfig = `
source:
  kind: files
  directory: testdata
session:
  refresh_interval: 5m
  filter:
    from: "2024-03-01"
    product_types: [SPOT, FORWARD]
    legal_entities: [E1]
projection:
  mode: advanced
  currencies: [EUR, USD]
buckets:
  coarse:
    bounds:
      - {upper: 1, label: "0-1%"}
      - {upper: 5, label: "1-5%"}
      - {label: "5%+"}
thresholds:
  groups:
    EUR: G10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("FXMON_SERVER_ADDR", ":9999")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "files", cfg.Source.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Session.RefreshInterval)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Session.Filter.From)
	assert.Equal(t, []records.ProductType{records.ProductSpot, records.ProductForward}, cfg.Session.Filter.ProductTypes)
	// viper lower-cases map keys; the threshold engine upper-cases them again.
	assert.Equal(t, map[string]string{"eur": "G10"}, cfg.Thresholds.Groups)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, "csv", cfg.Export.DefaultFormat)

	opts, err := cfg.ProjectionOptions()
	require.NoError(t, err)
	assert.Equal(t, projection.Advanced, opts.Mode)
	assert.Equal(t, []string{"EUR", "USD"}, opts.Currencies)
	require.Len(t, opts.Histogram.Bounds(), 3)
	assert.Equal(t, "5%+", opts.Histogram.Bounds()[2].Label)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:     SourceConfig{Kind: "files", Directory: "data"},
			Projection: ProjectionConfig{Mode: "simplified", TopN: 10, AttentionThreshold: 1.5},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source.Kind = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Source.Kind = "postgres" }},
		{"files without directory", func(c *Config) { c.Source.Directory = "" }},
		{"negative refresh", func(c *Config) { c.Session.RefreshInterval = -time.Second }},
		{"unknown mode", func(c *Config) { c.Projection.Mode = "full" }},
		{"zero top n", func(c *Config) { c.Projection.TopN = 0 }},
		{"negative attention", func(c *Config) { c.Projection.AttentionThreshold = -1 }},
		{"bad bucket table", func(c *Config) {
			c.Buckets.Coarse.Bounds = []bucket.Bound{{Upper: 2, Label: "a"}, {Upper: 1, Label: "b"}}
		}},
		{"telegram without token", func(c *Config) {
			c.Notify.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
