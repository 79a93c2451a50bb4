// Package mqtt publishes stabilized emotion changes to an MQTT broker
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const (
	defaultTopicPrefix = "emora/emotions"
	publishTimeout     = 2 * time.Second
)

// Config holds broker settings
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Publisher implements repositories.EmotionPublisher with paho
type Publisher struct {
	cfg    Config
	client paho.Client
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

var _ repositories.EmotionPublisher = (*Publisher)(nil)

// Connect dials the broker and returns a ready publisher
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("emora-%d", time.Now().UnixNano())
	}

	p := &Publisher{cfg: withDefaults(cfg), logger: logger}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c paho.Client) {
		p.setConnected(true)
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		p.setConnected(false)
		logger.Warn("MQTT connection lost, will auto-reconnect", zap.Error(err))
	}

	p.client = paho.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt connection aborted: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return p, nil
}

// NewWithClient wraps an already configured client
func NewWithClient(client paho.Client, cfg Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:       withDefaults(cfg),
		client:    client,
		logger:    logger,
		connected: client.IsConnected(),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	return cfg
}

// Topic returns the topic events of a session go to
func (p *Publisher) Topic(sessionID string) string {
	return p.cfg.TopicPrefix + "/" + sessionID
}

// Publish sends one event as JSON
func (p *Publisher) Publish(ctx context.Context, event entities.EmotionEvent) error {
	if !p.isConnected() {
		p.countError()
		return errors.New("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := p.Topic(event.SessionID)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		p.countError()
		return ctx.Err()
	case <-time.After(publishTimeout):
		p.countError()
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("Emotion event published",
		zap.String("topic", topic),
		zap.String("emotion", event.Emotion.String()))
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("MQTT disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
