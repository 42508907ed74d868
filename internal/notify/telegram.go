// Package notify pushes simulation digests to operators.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/simulate"
)

// maxEntities bounds the entity lines in one digest.
const maxEntities = 5

// Digest summarises one simulation run.
type Digest struct {
	SessionID  string
	Result     simulate.Result
	Comparison *simulate.Comparison
	Overrides  []string
	RunAt      time.Time
}

// Notifier delivers digests.
type Notifier interface {
	Notify(ctx context.Context, digest Digest) error
}

// TelegramNotifier posts digests through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify sends the digest with sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, digest Digest) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderDigest(digest),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("session", digest.SessionID).
		Str("column", string(digest.Result.Column)).
		Int("alerts", len(digest.Result.Alerts)).
		Msg("digest sent")
	return nil
}

func renderDigest(d Digest) string {
	r := d.Result
	b := strings.Builder{}
	b.WriteString("[FX Deviation Simulation]\n")
	if !d.RunAt.IsZero() {
		fmt.Fprintf(&b, "Run: %s UTC\n", d.RunAt.UTC().Format(time.RFC3339))
	}
	if d.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", d.SessionID)
	}
	fmt.Fprintf(&b, "Column: %s (table v%d)\n", r.Column, r.TableVersion)
	fmt.Fprintf(&b, "Alerts: %d of %d evaluated", len(r.Alerts), r.Evaluated)
	if len(r.Exclusions) > 0 {
		fmt.Fprintf(&b, ", %d excluded", len(r.Exclusions))
	}
	b.WriteString("\n")
	if len(d.Overrides) > 0 {
		fmt.Fprintf(&b, "Overrides: %s\n", strings.Join(d.Overrides, ", "))
	}

	entities := r.LegalEntitySummary
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s: %d alerts (%.1f%%), notional %s\n", e.LegalEntity, e.AlertCount, e.ImpactPercentage, e.AlertNotional.StringFixed(2))
	}
	if rest := len(r.LegalEntitySummary) - len(entities); rest > 0 {
		fmt.Fprintf(&b, "... and %d more entities\n", rest)
	}

	if c := d.Comparison; c != nil {
		fmt.Fprintf(&b, "Compared %s -> %s: %d -> %d alerts\n", c.From, c.To, c.Before, c.After)
		for _, e := range c.Entities {
			if len(e.Added) == 0 && len(e.Removed) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: +%d / -%d\n", e.LegalEntity, len(e.Added), len(e.Removed))
		}
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
