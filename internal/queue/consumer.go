package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Invalidator is notified when the roster changes.
type Invalidator interface {
	Invalidate()
}

// Consumer listens for roster changes published by the admin side.
type Consumer struct {
	nc *nats.Conn
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc}, nil
}

// WatchRoster marks the roster dirty on every roster.changed message until
// ctx is done.
func (c *Consumer) WatchRoster(ctx context.Context, target Invalidator) error {
	sub, err := c.nc.Subscribe(RosterChangedSubject, func(*nats.Msg) {
		slog.Info("roster changed")
		target.Invalidate()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", RosterChangedSubject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && c.nc.IsConnected() {
			slog.Warn("unsubscribe roster changes", "error", err)
		}
	}()

	slog.Info("roster watcher started", "subject", RosterChangedSubject)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
