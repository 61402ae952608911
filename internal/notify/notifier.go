// Package notify delivers alerts to external operator channels (Telegram,
// Discord). It consumes events from the alert bus and can be filtered by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/ultratrader/internal/alert"
)

// Sender is the interface each notification channel implements. Senders
// receive the full alert event so each channel can render levels and fields
// in its own native format.
type Sender interface {
	// Send delivers one alert event.
	Send(ctx context.Context, ev alert.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier is an alert bus consumer that fans events out to one or more
// Senders. It maintains a set of allowed event types; events outside the set
// are silently skipped. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// alert events whose Type appears in events are forwarded; an empty slice
// forwards all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name returns the consumer identifier.
func (n *Notifier) Name() string { return "notify" }

// Consume forwards an alert event to all senders, subject to the event type
// filter. Errors from individual senders are collected; a single sender
// failure does not prevent delivery to the remaining senders.
func (n *Notifier) Consume(ctx context.Context, ev alert.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", ev.Type),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// eventTitle resolves the display title, escalating it for warning and error
// levels.
func eventTitle(ev alert.Event) string {
	title := ev.Title
	if title == "" {
		title = ev.Type
	}
	if ev.Level == alert.LevelWarning || ev.Level == alert.LevelError {
		title = strings.ToUpper(string(ev.Level)) + ": " + title
	}
	return title
}

// sortedFieldKeys returns the event's field names sorted, so rendered
// messages are stable.
func sortedFieldKeys(ev alert.Event) []string {
	if len(ev.Fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compile-time interface check.
var _ alert.Consumer = (*Notifier)(nil)
