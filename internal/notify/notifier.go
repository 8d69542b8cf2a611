// Package notify alerts operators about authority and binding changes on
// Telegram and Discord. Delivery is filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// EventOracleUnavailable is raised by the service layer when a job dispatch
// or aggregator read fails. It is not a registry event.
const EventOracleUnavailable = "oracle_unavailable"

// Sender delivers one message on one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans messages out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded by Notify; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Wants reports whether event passes the filter.
func (n *Notifier) Wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Wants(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent renders a registry or request event and sends it.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	title, message := render(ev)
	return n.Notify(ctx, string(ev.Type), title, message)
}

// Run forwards events from src until ctx is done.
func (n *Notifier) Run(ctx context.Context, src domain.EventSource) error {
	ch, err := src.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := n.NotifyEvent(ctx, ev); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func render(ev domain.Event) (string, string) {
	var title string
	switch ev.Type {
	case domain.EventOwnershipTransferred:
		title = "Oracle adapter ownership transferred"
	case domain.EventBindingChanged:
		title = "Oracle binding changed: " + ev.Identifier
	case domain.EventBindingRemoved:
		title = "Oracle binding removed: " + ev.Identifier
	case domain.EventPriceRequested:
		title = "Price requested: " + ev.Identifier
	case domain.EventRequestFulfilled:
		title = "Price request fulfilled: " + ev.Identifier
	default:
		title = string(ev.Type)
	}

	var lines []string
	if ev.Timestamp != 0 {
		lines = append(lines, fmt.Sprintf("timestamp: %d", ev.Timestamp))
	}
	if ev.Token != "" {
		lines = append(lines, "token: "+ev.Token)
	}
	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, ev.Attributes[k]))
	}
	return title, strings.Join(lines, "\n")
}
