package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/config"
	"fx-deviation-monitor/internal/export"
	"fx-deviation-monitor/internal/ingest"
	"fx-deviation-monitor/internal/notify"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/service"
	"fx-deviation-monitor/internal/session"
	"fx-deviation-monitor/internal/storage"
	"fx-deviation-monitor/internal/threshold"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables printed by the commands.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// FilterOptions narrow the configured session filter from the command line.
// Empty fields keep the configured value.
type FilterOptions struct {
	From          string
	To            string
	ProductTypes  []string
	LegalEntities []string
	SourceSystems []string
}

func (o FilterOptions) apply(base records.Filter) (records.Filter, error) {
	out := base
	if o.From != "" {
		from, err := time.Parse("2006-01-02", o.From)
		if err != nil {
			return out, fmt.Errorf("invalid --from value: %w", err)
		}
		out.From = from
	}
	if o.To != "" {
		to, err := time.Parse("2006-01-02", o.To)
		if err != nil {
			return out, fmt.Errorf("invalid --to value: %w", err)
		}
		out.To = to
	}
	if len(o.ProductTypes) > 0 {
		out.ProductTypes = nil
		for _, p := range o.ProductTypes {
			pt := records.ProductType(strings.ToUpper(strings.TrimSpace(p)))
			if !pt.Valid() {
				return out, fmt.Errorf("invalid --product value %q", p)
			}
			out.ProductTypes = append(out.ProductTypes, pt)
		}
	}
	if len(o.LegalEntities) > 0 {
		out.LegalEntities = o.LegalEntities
	}
	if len(o.SourceSystems) > 0 {
		out.SourceSystems = o.SourceSystems
	}
	return out, nil
}

func (a *App) newLoader(ctx context.Context) (session.Loader, func(), error) {
	switch a.Config.Source.Kind {
	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool, a.Config.Database.QueryTimeout, a.Logger)
		return store, store.Close, nil
	case "files":
		return ingest.NewDirectory(a.Config.Source.Directory, a.Logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported source.kind %q", a.Config.Source.Kind)
}

// newNotifier returns nil when no channel is enabled.
func (a *App) newNotifier() notify.Notifier {
	if !a.Config.Notify.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Notify.Telegram
	return notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

// openService loads a session for the filter and returns the service bound to
// it. mode overrides projection.mode when set.
func (a *App) openService(ctx context.Context, filter FilterOptions, mode string) (*service.Service, func(), error) {
	f, err := filter.apply(a.Config.Session.Filter)
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.Config.ProjectionOptions()
	if err != nil {
		return nil, nil, err
	}
	if mode != "" {
		if opts.Mode, err = projection.ParseMode(mode); err != nil {
			return nil, nil, err
		}
	}

	loader, closeLoader, err := a.newLoader(ctx)
	if err != nil {
		return nil, nil, err
	}
	manager := session.NewManager(loader, a.Config.Thresholds.Groups, a.Logger)
	svc := service.New(manager, opts, export.New(a.Logger), a.newNotifier(), a.Logger)
	closer := func() {
		manager.Close()
		closeLoader()
	}

	sess, err := svc.Start(ctx, f)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if n := len(sess.Snapshot.Rejected()); n > 0 {
		a.Logger.Warn().Int("rejected", n).Msg("some trades were rejected at load")
	}
	return svc, closer, nil
}

func parseColumn(raw string) (threshold.Column, error) {
	if raw == "" {
		return threshold.Adjusted, nil
	}
	return threshold.ParseColumn(raw)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
