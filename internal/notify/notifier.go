// Package notify delivers operator alerts for the event stream the core
// produces: breaker and risk-limit trips, position lifecycle, and standout
// basis opportunities. Events fan out to every configured channel (Telegram,
// Discord, signed webhook) with an allow-list filter and a per-channel rate
// cap so a busy pipeline cannot flood a chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkwok94/stratcore/internal/config"
)

// Event classifies a notification for filtering and for webhook consumers.
type Event string

const (
	EventBreakerTripped Event = "breaker_tripped"
	EventBreakerReset   Event = "breaker_reset"
	EventRiskTripped    Event = "risk_tripped"
	EventRiskReset      Event = "risk_reset"
	EventPositionOpened Event = "position_opened"
	EventPositionClosed Event = "position_closed"
	EventPositionError  Event = "position_error"
	EventOpportunity    Event = "opportunity"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, event Event, title, message string) error
	// Name identifies the channel in logs and rate-cap bookkeeping.
	Name() string
}

// Notifier dispatches events to all senders. Only events in the allowed set
// pass the filter; an empty set allows everything. Each sender carries its
// own rate limiter, and a capped event is dropped for that channel only.
type Notifier struct {
	senders  []Sender
	events   map[Event]bool
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

// NewNotifier creates a Notifier over the given senders. perMinute caps
// deliveries per channel; zero disables the cap.
func NewNotifier(senders []Sender, events []string, perMinute int, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}

	limiters := make(map[string]*rate.Limiter, len(senders))
	if perMinute > 0 {
		every := time.Minute / time.Duration(perMinute)
		for _, s := range senders {
			limiters[s.Name()] = rate.NewLimiter(rate.Every(every), perMinute)
		}
	}

	return &Notifier{
		senders:  senders,
		events:   allowed,
		limiters: limiters,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig assembles the senders the configuration enables and wraps them
// in a Notifier. With no channel configured the Notifier is inert.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return NewNotifier(senders, cfg.Events, cfg.EventsPerMinute, logger)
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers one event to every configured channel, subject to the
// event filter and each channel's rate cap. Errors from individual senders
// are collected; one failing channel does not block the rest.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(event)),
		)
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if lim := n.limiters[s.Name()]; lim != nil && !lim.Allow() {
			n.logger.DebugContext(ctx, "event rate capped",
				slog.String("sender", s.Name()),
				slog.String("event", string(event)),
			)
			continue
		}

		if err := s.Send(ctx, event, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}

		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(event)),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// clip truncates s to max runes, marking the cut. Chat APIs reject oversized
// messages outright, and a truncated alert beats a lost one.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "…"
	return s[:max-len(marker)] + marker
}
