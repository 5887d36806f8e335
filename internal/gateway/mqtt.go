package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/pkg/logger"
)

const (
	mqttQoS            = 1
	defaultMQTTTimeout = 10 * time.Second
)

// MQTTConfig configures an MQTT gateway link.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// Topics are the MQTT topics used under a prefix.
type Topics struct {
	Events   string
	Commands string
	State    string
}

// TopicsFor derives the gateway topics from prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "radiolink"
	}
	return Topics{
		Events:   prefix + "/events",
		Commands: prefix + "/commands",
		State:    prefix + "/client/state",
	}
}

// MQTTLink is a Link over an MQTT broker. Gateway events arrive on the events
// topic and commands are published to the commands topic.
type MQTTLink struct {
	client   pahomqtt.Client
	topics   Topics
	timeout  time.Duration
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
	log      *zap.Logger
}

// DialMQTT connects to the broker and subscribes to the events topic.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTLink, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("gateway: mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "radiolink"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultMQTTTimeout
	}

	l := &MQTTLink{
		topics:   TopicsFor(cfg.TopicPrefix),
		timeout:  cfg.ConnectTimeout,
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
		log:      logger.WithModule("gateway.mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(l.topics.State, "offline", mqttQoS, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			l.log.Info("mqtt connected", zap.String("broker", cfg.Broker))
			c.Publish(l.topics.State, mqttQoS, true, "online")
			c.Subscribe(l.topics.Events, mqttQoS, l.handleMessage)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			l.log.Warn("mqtt connection lost", zap.Error(err))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, cfg.ConnectTimeout); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("gateway: mqtt connect: %w", err)
	}

	l.client = client
	return l, nil
}

// Send publishes payload to the commands topic.
func (l *MQTTLink) Send(ctx context.Context, payload []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	token := l.client.Publish(l.topics.Commands, mqttQoS, false, payload)
	if err := waitToken(ctx, token, l.timeout); err != nil {
		return fmt.Errorf("gateway: mqtt publish: %w", err)
	}
	return nil
}

// Receive returns the next payload from the events topic.
func (l *MQTTLink) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-l.incoming:
		return payload, nil
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the client offline and disconnects.
func (l *MQTTLink) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.client.Publish(l.topics.State, mqttQoS, true, "offline").WaitTimeout(time.Second)
		l.client.Disconnect(1000)
	})
	return nil
}

func (l *MQTTLink) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case l.incoming <- payload:
	case <-l.closed:
	}
}

func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
