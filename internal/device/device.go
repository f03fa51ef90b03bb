// Package device commands the controlled climate devices over MQTT and
// reports out-of-band preset changes made on the devices themselves.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/pkg/pubsub"
)

// ErrUnavailable indicates the device could not be commanded. The caller's
// internal state still updates as requested; the discrepancy is observable
// through the published attributes.
var ErrUnavailable = errors.New("device unavailable")

// Setter is the interface consumed by the controller.
type Setter interface {
	SetPreset(ctx context.Context, preset schedule.Preset, temperature float64) error
}

// An Event is an out-of-band preset change reported by a device, e.g. someone
// turning the dial on the thermostat. The controller interprets it as a
// manual override.
type Event struct {
	Entity string
	Preset schedule.Preset
}

// Config holds the MQTT broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

const defaultTimeout = 10 * time.Second

// mqttClient is the subset of pahomqtt.Client used by this package.
type mqttClient interface {
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Client wraps a shared MQTT connection. Per-entity Device values publish
// preset commands to climate/<entity>/set; preset changes reported on
// climate/<entity>/preset fan out to subscribers via Events.
type Client struct {
	events  *pubsub.Publisher[Event]
	mqtt    mqttClient
	timeout time.Duration
	logger  *slog.Logger
}

// Connect establishes the MQTT connection and subscribes to preset reports
// for all entities. The paho client reconnects automatically; while
// disconnected, commands fail with ErrUnavailable.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	return connect(pahomqtt.NewClient(opts), cfg.Timeout, logger)
}

func connect(mqtt mqttClient, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	c := &Client{
		events:  pubsub.New[Event](logger.With(slog.String("component", "events"))),
		mqtt:    mqtt,
		timeout: timeout,
		logger:  logger,
	}

	token := c.mqtt.Connect()
	if !token.WaitTimeout(c.timeout) {
		return nil, fmt.Errorf("%w: connect timeout after %v", ErrUnavailable, c.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := c.subscribe(); err != nil {
		c.mqtt.Disconnect(0)
		return nil, err
	}
	return c, nil
}

func (c *Client) subscribe() error {
	token := c.mqtt.Subscribe("climate/+/preset", 1, c.onPresetReport)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%w: subscribe timeout after %v", ErrUnavailable, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// onPresetReport handles a preset change reported by a device. Invalid
// payloads are logged and dropped.
func (c *Client) onPresetReport(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 3 {
		c.logger.Warn("unexpected topic", slog.String("topic", msg.Topic()))
		return
	}
	var report struct {
		Preset schedule.Preset `json:"preset"`
	}
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		c.logger.Warn("invalid preset report", slog.String("topic", msg.Topic()), slog.Any("err", err))
		return
	}
	if !report.Preset.Valid() {
		c.logger.Warn("unknown preset reported", slog.String("preset", report.Preset.String()))
		return
	}
	c.events.Publish(Event{Entity: parts[1], Preset: report.Preset})
}

// Events returns the publisher for device-reported preset changes.
func (c *Client) Events() *pubsub.Publisher[Event] {
	return c.events
}

// Device returns a Setter for one climate entity.
func (c *Client) Device(entity string) *Device {
	return &Device{client: c, entity: entity}
}

// Disconnect closes the MQTT connection.
func (c *Client) Disconnect() {
	c.mqtt.Disconnect(250)
}

var _ Setter = &Device{}

// A Device commands one climate entity.
type Device struct {
	client *Client
	entity string
}

type command struct {
	Preset      schedule.Preset `json:"preset"`
	Temperature float64         `json:"temperature"`
}

// SetPreset commands the device to the given preset and target temperature.
func (d *Device) SetPreset(ctx context.Context, preset schedule.Preset, temperature float64) error {
	payload, err := json.Marshal(command{Preset: preset, Temperature: temperature})
	if err != nil {
		return err
	}
	token := d.client.mqtt.Publish("climate/"+d.entity+"/set", 1, false, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	case <-time.After(d.client.timeout):
		return fmt.Errorf("%w: publish timeout after %v", ErrUnavailable, d.client.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
