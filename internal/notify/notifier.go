// Package notify delivers run summaries to chat channels.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every sender. One failing sender does not
// stop delivery to the others.
type Notifier struct {
	l       *zap.Logger
	senders []Sender
}

// NewNotifier creates a notifier. With no senders every call is a no-op.
func NewNotifier(l *zap.Logger, senders ...Sender) *Notifier {
	return &Notifier{l: l, senders: senders}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends the message to all senders.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.l.Error("notification sender failed", zap.String("sender", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.l.Debug("notification sent", zap.String("sender", s.Name()), zap.String("title", title))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
