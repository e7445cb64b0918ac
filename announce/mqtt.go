package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/XC-/improv/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// ErrTimeout is returned when the broker does not answer in time.
var ErrTimeout = errors.New("mqtt: timeout")

// A Status is the retained message published on the status topic.
type Status struct {
	Status string    `json:"status"` // "provisioned" or "offline"
	Device string    `json:"device"`
	URLs   []string  `json:"urls,omitempty"`
	Time   time.Time `json:"timestamp"`
}

// MQTT publishes a retained Status message. The broker is reached only
// once the device is on the network, so the client connects on the
// first Announce.
type MQTT struct {
	client pahomqtt.Client
	topic  string
	device string
	qos    byte

	mu sync.Mutex
}

// NewMQTT returns an MQTT announcer publishing to topic. The broker's
// last will marks the device offline.
func NewMQTT(cfg config.MQTTConfig, topic, device string) *MQTT {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	will, _ := json.Marshal(Status{Status: "offline", Device: device, Time: time.Now().UTC()})
	opts.SetBinaryWill(topic, will, cfg.QoS, true)

	return newMQTT(pahomqtt.NewClient(opts), topic, device, cfg.QoS)
}

func newMQTT(c pahomqtt.Client, topic, device string, qos byte) *MQTT {
	return &MQTT{client: c, topic: topic, device: device, qos: qos}
}

// Announce publishes a provisioned Status carrying urls.
func (m *MQTT) Announce(ctx context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.client.IsConnected() {
		if err := wait(ctx, m.client.Connect(), connectTimeout); err != nil {
			return fmt.Errorf("mqtt: connect: %w", err)
		}
	}

	payload, err := json.Marshal(Status{
		Status: "provisioned",
		Device: m.device,
		URLs:   urls,
		Time:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := wait(ctx, m.client.Publish(m.topic, m.qos, true, payload), publishTimeout); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client.IsConnected() {
		m.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func wait(ctx context.Context, t pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
