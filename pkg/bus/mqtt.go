package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	// Broker is used for subscriptions, and for publishing unless
	// PublishBroker is set, e.g. "tcp://broker.emqx.io:1883".
	Broker string `yaml:"broker"`
	// PublishBroker optionally routes publishes through a second connection,
	// e.g. the broker's websocket listener "ws://broker.emqx.io:8083/mqtt".
	PublishBroker string        `yaml:"publish_broker"`
	ClientID      string        `yaml:"client_id"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	QoS           byte          `yaml:"qos"`
	KeepAlive     time.Duration `yaml:"keep_alive"`
	Timeout       time.Duration `yaml:"timeout"`
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:    "tcp://broker.emqx.io:1883",
		ClientID:  "wastesort",
		KeepAlive: 60 * time.Second,
		Timeout:   10 * time.Second,
	}
}

type MQTT struct {
	cfg MQTTConfig
	sub mqtt.Client
	pub mqtt.Client

	lock     sync.Mutex
	handlers map[string][]Handler
}

var _ Interface = (*MQTT)(nil)

// NewMQTT connects to the configured broker(s).  Lost connections are
// re-established by the client library; subscriptions are restored from the
// on-connect handler.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	m := &MQTT{
		cfg:      cfg,
		handlers: map[string][]Handler{},
	}
	if m.cfg.Timeout <= 0 {
		m.cfg.Timeout = 10 * time.Second
	}

	m.sub = mqtt.NewClient(m.options(cfg.Broker, "listener", m.onConnect))
	if err := m.connect(m.sub, cfg.Broker); err != nil {
		return nil, err
	}

	m.pub = m.sub
	if cfg.PublishBroker != "" && cfg.PublishBroker != cfg.Broker {
		m.pub = mqtt.NewClient(m.options(cfg.PublishBroker, "publisher", nil))
		if err := m.connect(m.pub, cfg.PublishBroker); err != nil {
			m.sub.Disconnect(250)
			return nil, err
		}
	}
	return m, nil
}

func (m *MQTT) options(broker, role string, onConnect mqtt.OnConnectHandler) *mqtt.ClientOptions {
	clientID := fmt.Sprintf("%s-%s-%s", m.cfg.ClientID, role, uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(m.cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("MQTT connection lost", slog.String("broker", broker), slog.Any("err", err))
		})
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	return opts
}

func (m *MQTT) connect(c mqtt.Client, broker string) error {
	slog.Info("Connecting to MQTT broker", slog.String("broker", broker))
	token := c.Connect()
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("connect to %s: timed out after %v", broker, m.cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", broker, err)
	}
	return nil
}

func (m *MQTT) onConnect(c mqtt.Client) {
	slog.Info("MQTT connected", slog.String("broker", m.cfg.Broker))
	m.lock.Lock()
	topics := make([]string, 0, len(m.handlers))
	for topic := range m.handlers {
		topics = append(topics, topic)
	}
	m.lock.Unlock()
	for _, topic := range topics {
		if err := m.subscribe(c, topic); err != nil {
			slog.Error("Failed to restore subscription", slog.String("topic", topic), slog.Any("err", err))
		}
	}
}

func (m *MQTT) subscribe(c mqtt.Client, topic string) error {
	token := c.Subscribe(topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		m.dispatch(msg.Topic(), string(msg.Payload()))
	})
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	slog.Info("Subscribed", slog.String("topic", topic))
	return nil
}

func (m *MQTT) dispatch(topic, payload string) {
	m.lock.Lock()
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.lock.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

func (m *MQTT) Subscribe(topic string, h Handler) error {
	m.lock.Lock()
	_, existing := m.handlers[topic]
	m.handlers[topic] = append(m.handlers[topic], h)
	m.lock.Unlock()
	if existing || !m.sub.IsConnectionOpen() {
		// Already subscribed, or the on-connect handler will do it.
		return nil
	}
	return m.subscribe(m.sub, topic)
}

func (m *MQTT) Publish(topic, payload string) error {
	token := m.pub.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() {
	if m.pub != m.sub {
		m.pub.Disconnect(250)
	}
	m.sub.Disconnect(250)
}
