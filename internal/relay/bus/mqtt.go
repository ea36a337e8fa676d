package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bdobrica/relay/common/retry"
	"github.com/bdobrica/relay/common/spec/command"
	"github.com/bdobrica/relay/common/trace"
)

const (
	defaultMQTTPort         = 1883
	defaultMQTTTopic        = "dry_agent/commands"
	defaultMQTTKeepAlive    = 5 * time.Second
	mqttDisconnectQuiesceMS = 250
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	// Broker is the broker host name, without scheme or port.
	Broker string `yaml:"broker"`
	Port   int    `yaml:"port"`
	Topic  string `yaml:"topic"`

	// ClientID defaults to "relay-<random>". Two clients with the same id
	// evict each other, so only set it when the broker ACL requires it.
	ClientID string `yaml:"client_id"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientCert, ClientKey and CACert are PEM file paths. When any of them
	// is set the connection uses TLS.
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	CACert     string `yaml:"ca_cert"`

	// QoS defaults to 1 (at least once).
	QoS byte `yaml:"qos"`

	KeepAlive time.Duration `yaml:"keep_alive"`
}

func (c *MQTTConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultMQTTPort
	}
	if c.Topic == "" {
		c.Topic = defaultMQTTTopic
	}
	if c.ClientID == "" {
		c.ClientID = "relay-" + uuid.NewString()[:8]
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultMQTTKeepAlive
	}
}

func (c *MQTTConfig) usesTLS() bool {
	return c.ClientCert != "" || c.ClientKey != "" || c.CACert != ""
}

// BrokerURL returns the URL paho dials, e.g. ssl://broker:8883.
func (c *MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.usesTLS() {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// MQTT is a Bus over an MQTT broker.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// DialMQTT connects to the broker, retrying with backoff while it is
// unreachable. The client reconnects on its own after the first success.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("bus: mqtt broker is required")
	}
	cfg.applyDefaults()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("bus: mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			slog.Info("bus: mqtt connected", "broker", cfg.BrokerURL())
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	if cfg.usesTLS() {
		tlsCfg, err := loadTLSConfig(cfg.ClientCert, cfg.ClientKey, cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	client := mqtt.NewClient(opts)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  retry.DefaultConfig.MaxAttempts,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Name:         "mqtt connect",
	}, func() error {
		return waitToken(ctx, client.Connect())
	})
	if err != nil {
		return nil, fmt.Errorf("bus: mqtt connect %s: %w", cfg.BrokerURL(), err)
	}

	return &MQTT{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

// Publish sends cmd on the configured topic and waits for the broker
// acknowledgement or ctx, whichever comes first.
func (m *MQTT) Publish(ctx context.Context, cmd command.Command) error {
	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := waitToken(ctx, m.client.Publish(m.topic, m.qos, false, payload)); err != nil {
		return fmt.Errorf("bus: mqtt publish: %w", err)
	}
	trace.Logger(ctx).Debug("bus: published", "topic", m.topic, "request_id", cmd.RequestID)
	return nil
}

// Subscribe delivers commands from the topic to h until ctx is done.
func (m *MQTT) Subscribe(ctx context.Context, h Handler) error {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		cmd, err := command.Decode(msg.Payload())
		if err != nil {
			slog.Warn("bus: dropping malformed command", "topic", msg.Topic(), "err", err)
			return
		}
		h(trace.WithTraceID(ctx, cmd.RequestID), cmd)
	}
	if err := waitToken(ctx, m.client.Subscribe(m.topic, m.qos, onMessage)); err != nil {
		return fmt.Errorf("bus: mqtt subscribe %s: %w", m.topic, err)
	}
	slog.Info("bus: subscribed", "topic", m.topic)

	<-ctx.Done()

	tok := m.client.Unsubscribe(m.topic)
	tok.WaitTimeout(time.Second)
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(mqttDisconnectQuiesceMS)
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
