package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/internal/models"
)

const (
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
	RosterChangedSubject  = "roster.changed"
)

func connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Producer publishes attendance events to JetStream.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the attendance stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        AttendanceStreamName,
		Subjects:    []string{AttendanceSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Duplicates:  time.Minute,
		Description: "Attendance events from camera workers",
	}

	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Notify publishes ev on attendance.<camera>. Redeliveries of the same
// event are dropped by the stream's duplicate window.
func (p *Producer) Notify(ctx context.Context, ev models.AttendanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}

	_, err = p.js.Publish(ctx, EventSubject(ev.Camera), payload, jetstream.WithMsgID(EventID(ev)))
	if err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

// PublishRosterChanged tells every running pipeline to rebuild its roster.
func (p *Producer) PublishRosterChanged() error {
	if err := p.nc.Publish(RosterChangedSubject, nil); err != nil {
		return fmt.Errorf("publish roster change: %w", err)
	}
	return p.nc.FlushTimeout(5 * time.Second)
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

// EventSubject maps a camera name onto a single subject token.
func EventSubject(camera string) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, camera)
	if token == "" {
		token = "_"
	}
	return AttendanceSubjectBase + "." + token
}

// EventID identifies one ledger outcome for deduplication.
func EventID(ev models.AttendanceEvent) string {
	return fmt.Sprintf("%s:%s:%s:%d", ev.IdentityID, ev.Date, ev.Kind, ev.At.UnixNano())
}
