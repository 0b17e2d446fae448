// Package notify delivers structured pipeline events to operator channels
// (Telegram, Discord). Delivery is fire-and-forget: the trading path never
// blocks on, or fails because of, a notification.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
)

// sendTimeout bounds a single delivery attempt so a slow channel cannot
// hold the dispatch goroutine indefinitely.
const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier fans events out to all registered senders, filtered by event
// type. It implements domain.Notifier.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// New creates a Notifier delivering to the given senders. Only events whose
// type appears in events are forwarded; an empty list allows everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify renders the event and dispatches it asynchronously. Errors are
// logged, never returned: a dead webhook must not stall the pipeline.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.Debug("event filtered out", "event", string(ev.Type))
		return
	}
	if len(n.senders) == 0 {
		return
	}

	title, message := render(ev)
	go n.dispatch(title, message)
}

// dispatch sends to every sender; one failing channel does not stop the
// rest.
func (n *Notifier) dispatch(title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				"sender", s.Name(),
				"error", err,
			)
			continue
		}
		n.logger.Debug("notification sent", "sender", s.Name(), "title", title)
	}
}

// render formats a domain event into a title and body.
func render(ev domain.Event) (title, message string) {
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(ev.Priority)), eventTitle(ev.Type))

	var b strings.Builder
	b.WriteString(ev.Summary)
	if ev.MarketID != "" {
		fmt.Fprintf(&b, "\nmarket: %s", ev.MarketID)
	}
	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, ev.Fields[k])
		}
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "\nat: %s", ev.At.UTC().Format(time.RFC3339))
	}
	return title, b.String()
}

func eventTitle(t domain.EventType) string {
	switch t {
	case domain.EventOpportunityDetected:
		return "Opportunity detected"
	case domain.EventOrderSubmitted:
		return "Order submitted"
	case domain.EventOrderFilled:
		return "Order filled"
	case domain.EventOrderFailed:
		return "Order failed"
	case domain.EventRiskHalted:
		return "Risk halt"
	case domain.EventFeedStale:
		return "Feed stale"
	case domain.EventFeedReconnected:
		return "Feed reconnected"
	case domain.EventUnhedgedLeg:
		return "UNHEDGED LEG"
	case domain.EventStartup:
		return "Bot started"
	case domain.EventShutdown:
		return "Bot stopped"
	case domain.EventDailySummary:
		return "Daily summary"
	default:
		return string(t)
	}
}
