package control

import (
	"context"
	"log/slog"
)

// Notifier delivers tokens to a control socket in the background. Delivery
// is best effort: tokens are dropped when the queue is full or the socket
// is not listening.
type Notifier struct {
	path   string
	queue  chan string
	logger *slog.Logger
	send   func(ctx context.Context, path, token string) error
}

// NewNotifier creates a Notifier for the socket at path.
func NewNotifier(path string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		path:   path,
		queue:  make(chan string, 8),
		logger: logger,
		send:   Send,
	}
}

// Notify queues token without blocking.
func (n *Notifier) Notify(token string) {
	select {
	case n.queue <- token:
	default:
		n.logger.Warn("notification queue full, dropping token", "token", token)
	}
}

// Run delivers queued tokens until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case token := <-n.queue:
			sctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
			err := n.send(sctx, n.path, token)
			cancel()
			if err != nil {
				n.logger.Warn("delivering notification failed", "token", token, "path", n.path, "error", err)
				continue
			}
			n.logger.Debug("notification delivered", "token", token, "path", n.path)
		}
	}
}
