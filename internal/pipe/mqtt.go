package pipe

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTOptions configures an MQTT mirror of a channel.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTWriter publishes every message it is given to one topic.
type MQTTWriter struct {
	client mqtt.Client
	topic  string
	qos    byte
	log    *zerolog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTWriter connects to the broker and returns a writer for opts.Topic.
func NewMQTTWriter(opts MQTTOptions) (*MQTTWriter, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", opts.QoS)
	}
	log := logger.WithComponent("mqtt")

	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("MQTT connected")
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		log.Warn().Str("broker", broker).Msg("MQTT connect still pending, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return newMQTTWriter(client, opts.Topic, opts.QoS, log), nil
}

func newMQTTWriter(client mqtt.Client, topic string, qos byte, log *zerolog.Logger) *MQTTWriter {
	return &MQTTWriter{client: client, topic: topic, qos: qos, log: log}
}

// Write publishes msg. Messages written while disconnected are dropped.
func (m *MQTTWriter) Write(msg []byte) error {
	if !m.client.IsConnectionOpen() {
		m.failed.Add(1)
		return errors.New("mqtt not connected")
	}
	token := m.client.Publish(m.topic, m.qos, false, msg)
	if !token.WaitTimeout(2 * time.Second) {
		m.failed.Add(1)
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", m.topic, err)
	}
	m.published.Add(1)
	return nil
}

// Connected reports whether the client currently has a live connection.
func (m *MQTTWriter) Connected() bool {
	return m.client.IsConnectionOpen()
}

// Published returns how many messages were delivered to the broker.
func (m *MQTTWriter) Published() uint64 { return m.published.Load() }

// Failed returns how many messages could not be published.
func (m *MQTTWriter) Failed() uint64 { return m.failed.Load() }

// Close disconnects from the broker.
func (m *MQTTWriter) Close() error {
	m.client.Disconnect(250)
	m.log.Info().Uint64("published", m.published.Load()).Uint64("failed", m.failed.Load()).Msg("MQTT disconnected")
	return nil
}
