// Package emitter publishes session and port events to an MQTT broker so lab tooling
// can follow transmissions without polling the HTTP API
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/thereceipt/uart-link/internal/config"
	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/session"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("mqtt not connected")

// queueSize bounds events waiting for the publisher goroutine
const queueSize = 256

// Message is the JSON body of every published event
type Message struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Session   *session.Snapshot `json:"session,omitempty"`
	Port      *port.PortInfo    `json:"port,omitempty"`
}

type outgoing struct {
	topic string
	msg   Message
}

// MQTTEmitter publishes events to an MQTT broker
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger *zap.Logger
	queue  chan outgoing
	now    func() time.Time

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	dropped   uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig, logger *zap.Logger) *MQTTEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger.Named("mqtt"),
		queue:     make(chan outgoing, queueSize),
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker", zap.String("broker", broker))

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.attach(client)
	return nil
}

func (e *MQTTEmitter) attach(client mqtt.Client) {
	e.mu.Lock()
	e.client = client
	e.connected = true
	e.mu.Unlock()
}

// Run publishes queued events until ctx is done
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-e.queue:
			if err := e.publish(out.topic, out.msg); err != nil {
				e.logger.Debug("publish failed", zap.String("topic", out.topic), zap.Error(err))
			}
		}
	}
}

// HandleEvent queues a session event. It never blocks; events are dropped when the
// queue is full.
func (e *MQTTEmitter) HandleEvent(ev session.Event) {
	snap := ev.Snapshot
	e.enqueue(outgoing{
		topic: Topic(e.cfg.Topic, ev.Kind.String()),
		msg:   Message{Type: ev.Kind.String(), Timestamp: e.now(), Session: &snap},
	})
}

// HandlePort queues a hot-plug event; kind is "added" or "removed"
func (e *MQTTEmitter) HandlePort(kind string, info port.PortInfo) {
	e.enqueue(outgoing{
		topic: Topic(e.cfg.Topic, "port", kind),
		msg:   Message{Type: "port_" + kind, Timestamp: e.now(), Port: &info},
	})
}

func (e *MQTTEmitter) enqueue(out outgoing) {
	select {
	case e.queue <- out:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

func (e *MQTTEmitter) publish(topic string, msg Message) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()

	if client == nil || !connected {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("event published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Topic joins a prefix and path segments with '/'
func Topic(prefix string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		segs = append(segs, p)
	}
	segs = append(segs, parts...)
	return strings.Join(segs, "/")
}
