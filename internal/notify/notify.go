// Package notify delivers operator alerts for failed conversions and kept
// files to a chat webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultColor is the embed accent colour.
const DefaultColor = 0xff83fa

// ErrDispatcherClosed indicates the dispatcher no longer accepts notifications.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Field is a labelled value shown in a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Attachment is a file sent along with a notification.
type Attachment struct {
	Name string
	Data []byte
}

// Notification is one alert.
type Notification struct {
	Content     string
	Title       string
	Description string
	Color       int
	Fields      []Field
	Attachments []Attachment
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Noop discards notifications. It is used when no webhook is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Notification) error { return nil }

// JobFailed builds the alert sent when a conversion fails. The encoder logs
// are attached as {id}.log.
func JobFailed(pings, jobID, from, to, logs string) Notification {
	return Notification{
		Content: fmt.Sprintf("🚨🚨🚨 %s", pings),
		Title:   "vertd job failed!",
		Color:   DefaultColor,
		Fields: []Field{
			{Name: "job id", Value: jobID},
			{Name: "from", Value: "." + from, Inline: true},
			{Name: "to", Value: "." + to, Inline: true},
		},
		Attachments: []Attachment{
			{Name: jobID + ".log", Data: []byte(logs)},
		},
	}
}

// FileKept builds the alert sent when a failed job's input is kept.
func FileKept(pings, fileURL string) Notification {
	return Notification{
		Content: fmt.Sprintf("🚨🚨🚨 %s", pings),
		Title:   "a file has been kept permanently!",
		Description: fmt.Sprintf("download it [here](%s). please note that the link contains a secret token, "+
			"and also that the file is deleted upon first download, so please agree on whoever downloads it first.", fileURL),
		Color: DefaultColor,
	}
}

// Dispatcher sends notifications in the background so that callers never
// wait on delivery. Failures are logged.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering through notifier.
func NewDispatcher(notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = Noop{}
	}
	return &Dispatcher{
		notifier: notifier,
		timeout:  time.Minute,
		logger:   slog.Default().With(slog.String("component", "notify")),
	}
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger.With(slog.String("component", "notify"))
	return d
}

// WithTimeout bounds each delivery.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// Dispatch queues n for delivery and returns immediately.
func (d *Dispatcher) Dispatch(n Notification) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Error("failed to send notification",
				slog.String("title", n.Title),
				slog.String("error", err.Error()),
			)
			return
		}
		d.logger.Debug("notification sent",
			slog.String("title", n.Title),
			slog.Duration("duration", time.Since(start)),
		)
	}()
	return nil
}

// Close stops accepting notifications and waits for in-flight deliveries
// until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}
