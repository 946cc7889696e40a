package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/logic"
)

const (
	publishTimeout = 2 * time.Second
	bufferSize     = 100
)

// Config configures the real publisher.
type Config struct {
	Broker   string
	Prefix   string
	ClientID string
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an MQTT broker. While the connection is down
// messages are queued and replayed on reconnect.
type RealPublisher struct {
	client client
	prefix string
	logger hclog.Logger

	mu     sync.Mutex
	buffer *offlineQueue
}

// NewRealPublisher creates a publisher and starts connecting in the background.
// It does not wait for the broker; paho keeps retrying.
func NewRealPublisher(cfg Config, logger hclog.Logger) *RealPublisher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "yamp"
	}
	p := &RealPublisher{
		prefix: cfg.Prefix,
		logger: logger,
		buffer: newOfflineQueue(bufferSize),
	}

	availability := Topic(cfg.Prefix, TopicAvailability)
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availability, "offline", 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("connected", "broker", cfg.Broker)
			c.Publish(availability, 1, true, "online")
			p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// PublishTransition sends a mode transition. QoS 0, not retained.
func (p *RealPublisher) PublishTransition(tr logic.Transition) error {
	payload, err := FormatPayload(tr)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(Topic(p.prefix, TopicState), 0, false, payload)
}

// PublishSystem sends a lifecycle event. QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(Topic(p.prefix, TopicSystem), 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		evicted, dropped := p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		first := dropped && p.buffer.dropped == 1
		p.mu.Unlock()
		if first {
			p.logger.Warn("offline queue full, dropping messages",
				"limit", bufferSize, "dropped_topic", evicted.topic, "dropped_qos", evicted.qos)
		}
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// replay publishes buffered messages in order. Runs on paho's connect handler goroutine.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs, dropped := p.buffer.drain()
	p.mu.Unlock()
	if dropped > 0 {
		p.logger.Warn("messages dropped while offline", "dropped", dropped)
	}
	if len(msgs) == 0 {
		return
	}
	p.logger.Info("replaying buffered messages", "count", len(msgs))
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.logger.Warn("replay publish failed", "topic", m.topic, "error", token.Error())
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close publishes offline availability and disconnects.
func (p *RealPublisher) Close() error {
	if p.client.IsConnectionOpen() {
		token := p.client.Publish(Topic(p.prefix, TopicAvailability), 1, true, "offline")
		token.WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(1000)
	return nil
}
