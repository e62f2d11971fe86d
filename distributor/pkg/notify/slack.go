// Package notify tells operators about distribution milestones.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	"github.com/malbeclabs/dispatch/utils/pkg/retry"
	"github.com/slack-go/slack"
)

type SlackConfig struct {
	Logger     *slog.Logger
	WebhookURL string
	// Env is shown in every message so devnet noise is easy to tell apart.
	Env   string
	Retry retry.Config
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// SlackNotifier posts to an incoming webhook when a distribution completes, is cancelled or is
// closed. Other events are ignored.
type SlackNotifier struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &SlackNotifier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Notable reports whether e is worth a message.
func Notable(e events.Event) bool {
	switch e.Type {
	case events.TypeCancelled, events.TypeClosed:
		return true
	case events.TypeDistributed, events.TypeClaimed:
		return e.Status == tree.StatusComplete.String()
	}
	return false
}

// Message renders e as a webhook payload.
func (n *SlackNotifier) Message(e events.Event) *slack.WebhookMessage {
	var headline, color string
	switch e.Type {
	case events.TypeCancelled:
		headline = fmt.Sprintf("Distribution %s cancelled after %d of %d payments", e.BatchID, e.NumberDistributed, e.Total)
		color = "warning"
	case events.TypeClosed:
		headline = fmt.Sprintf("Distribution %s closed", e.BatchID)
		color = "#439FE0"
	default:
		headline = fmt.Sprintf("Distribution %s complete: %d payments", e.BatchID, e.Total)
		color = "good"
	}
	if n.cfg.Env != "" {
		headline = fmt.Sprintf("[%s] %s", n.cfg.Env, headline)
	}

	fields := []slack.AttachmentField{
		{Title: "Tree", Value: e.Tree.String()},
		{Title: "Authority", Value: e.Authority.String()},
		{Title: "Status", Value: e.Status, Short: true},
	}
	if e.Type == events.TypeCancelled {
		fields = append(fields, slack.AttachmentField{Title: "Refunded", Value: strconv.FormatUint(e.Amount, 10), Short: true})
	}
	if e.Signature != "" {
		fields = append(fields, slack.AttachmentField{Title: "Signature", Value: e.Signature})
	}
	return &slack.WebhookMessage{
		Text: headline,
		Attachments: []slack.Attachment{{
			Color:  color,
			Fields: fields,
			Ts:     json.Number(strconv.FormatInt(e.Time.Unix(), 10)),
		}},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, e events.Event) error {
	if !Notable(e) {
		return nil
	}
	msg := n.Message(e)
	err := retry.Do(ctx, n.cfg.Retry, func() error {
		return slack.PostWebhookContext(ctx, n.cfg.WebhookURL, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	n.log.Debug("notify: posted slack message", "type", e.Type, "tree", e.Tree)
	return nil
}
