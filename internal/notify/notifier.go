// Package notify forwards selected contract and chain events to Telegram
// and Discord.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to every Sender. Only event types in the
// allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event types.
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
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Wants reports whether events of type typ pass the filter.
func (n *Notifier) Wants(typ string) bool {
	return len(n.events) == 0 || n.events[typ]
}

// NotifyEvent formats ev and sends it if its type passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, height uint64, ev domain.Event) error {
	if !n.Wants(ev.Type) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Type))
		return nil
	}
	return n.dispatch(ctx, title(ev.Type, height), formatAttributes(ev.Attributes))
}

// NotifyBlock sends every wanted event of block: block-level events first,
// then receipt events in transaction order.
func (n *Notifier) NotifyBlock(ctx context.Context, block domain.Block) error {
	var errs []error
	send := func(ev domain.Event) {
		if err := n.NotifyEvent(ctx, block.Height, ev); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ev := range block.Events {
		send(ev)
	}
	for _, r := range block.Receipts {
		for _, ev := range r.Events {
			send(ev)
		}
	}
	return errors.Join(errs...)
}

// NotifyAll sends regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func title(typ string, height uint64) string {
	return fmt.Sprintf("%s @ block %d", strings.ReplaceAll(typ, "_", " "), height)
}

// formatAttributes renders attributes one per line in key order.
func formatAttributes(attrs map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		fmt.Fprintf(&b, "%s: %s\n", k, attrs[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// postJSON posts payload and treats any 2xx as success.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
