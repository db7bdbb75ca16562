package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/issuebot/issuebot/internal/logging"
)

// Channel is the interface for notification delivery channels
type Channel interface {
	// Name returns the channel name
	Name() string

	// Type returns the channel type (log, websocket, etc.)
	Type() string

	// Send delivers a notification through this channel
	Send(ctx context.Context, n *Notification) error
}

// Notifier routes notifications to delivery channels. Info stays in the
// log; warning and error fan out to every registered channel.
type Notifier struct {
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewNotifier creates a Notifier with the log channel pre-registered.
func NewNotifier() *Notifier {
	n := &Notifier{
		logger:   logging.WithComponent("notifier"),
		channels: make(map[string]Channel),
	}
	n.RegisterChannel(newLogChannel())
	return n
}

// RegisterChannel registers a channel for notification delivery
func (n *Notifier) RegisterChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[ch.Name()] = ch
	n.logger.Info("registered notification channel",
		slog.String("name", ch.Name()),
		slog.String("type", ch.Type()),
	)
}

// UnregisterChannel removes a channel
func (n *Notifier) UnregisterChannel(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, name)
}

// Notify assigns an ID and timestamp, then delivers the notification.
// Info-level notifications are logged and go no further.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	note.ID = uuid.New().String()
	note.CreatedAt = time.Now().UTC()

	if note.Severity == SeverityInfo || note.Severity == "" {
		n.logger.Info(note.Title,
			slog.String("message", note.Message),
			slog.String("repo", note.Repo),
			slog.Int("issue", note.IssueNumber),
		)
		return
	}

	n.mu.RLock()
	channels := make([]Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		channels = append(channels, ch)
	}
	n.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, &note); err != nil {
				n.logger.Error("notification delivery failed",
					slog.String("channel", ch.Name()),
					slog.String("error", err.Error()),
				)
			}
		}(ch)
	}
	wg.Wait()
}

// logChannel writes notifications to the structured log. It is always
// registered so escalations are visible even with no gateway running.
type logChannel struct {
	logger *slog.Logger
}

func newLogChannel() *logChannel {
	return &logChannel{logger: logging.WithComponent("notify")}
}

func (c *logChannel) Name() string { return "log" }
func (c *logChannel) Type() string { return "log" }

func (c *logChannel) Send(_ context.Context, n *Notification) error {
	attrs := []any{
		slog.String("id", n.ID),
		slog.String("message", n.Message),
		slog.String("repo", n.Repo),
		slog.Int("issue", n.IssueNumber),
	}
	switch n.Severity {
	case SeverityError:
		c.logger.Error(n.Title, attrs...)
	default:
		c.logger.Warn(n.Title, attrs...)
	}
	return nil
}
