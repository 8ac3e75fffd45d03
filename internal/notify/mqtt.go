// Package notify delivers attendance events to devices and other sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

const publishTimeout = 10 * time.Second

// MQTTNotifier publishes events on <prefix>/<camera>/event so door
// displays and buzzers next to a camera can react.
type MQTTNotifier struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMQTTNotifier(ctx context.Context, cfg config.MQTTConfig) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), 30*time.Second); err != nil {
		return nil, fmt.Errorf("connect to mqtt %s: %w", cfg.Broker, err)
	}

	return newMQTTNotifier(client, cfg.TopicPrefix, cfg.QoS), nil
}

func newMQTTNotifier(client mqtt.Client, prefix string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

func (n *MQTTNotifier) Notify(ctx context.Context, ev models.AttendanceEvent) error {
	if !n.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}

	topic := n.Topic(ev.Camera)
	if err := wait(ctx, n.client.Publish(topic, n.qos, false, payload), publishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (n *MQTTNotifier) Topic(camera string) string {
	camera = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(camera)
	return n.prefix + "/" + camera + "/event"
}

func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out")
	}
}
