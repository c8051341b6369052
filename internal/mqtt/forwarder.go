package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/web3scout/scout/internal/config"
	"github.com/web3scout/scout/internal/events"
)

const (
	eventBuffer      = 256
	eventRateLimit   = 100
	tokensInterval   = time.Minute
	connectTimeout   = 30 * time.Second
	disconnectTimeout = 5 * time.Second
)

// publisher is the part of autopaho.ConnectionManager the forwarder uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder relays bus events to an MQTT broker.
type Forwarder struct {
	cfg     config.MQTTConfig
	bus     *events.Bus
	tokens  *DailyTokens
	limiter *rateLimiter
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder. It does not connect until Run.
func NewForwarder(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")
	return &Forwarder{
		cfg:     cfg,
		bus:     bus,
		tokens:  NewDailyTokens(nil),
		limiter: newRateLimiter(eventRateLimit, time.Second, logger),
		logger:  logger,
	}
}

// Tokens exposes today's token accumulator.
func (f *Forwarder) Tokens() *DailyTokens { return f.tokens }

func (f *Forwarder) availabilityTopic() string { return f.cfg.Topic + "/availability" }
func (f *Forwarder) tokensTopic() string       { return f.cfg.Topic + "/tokens_today" }

func (f *Forwarder) eventTopic(e events.Event) string {
	return f.cfg.Topic + "/" + topicSegment(e.Source) + "/" + topicSegment(e.Kind)
}

// topicSegment strips MQTT wildcard and separator characters.
func topicSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Run connects to the broker and forwards events until ctx is cancelled,
// then publishes "offline" and disconnects.
func (f *Forwarder) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, connCancel := context.WithTimeout(ctx, connectTimeout)
	if err := cm.AwaitConnection(connCtx); err != nil {
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	go f.limiter.run(ctx)
	f.forward(ctx, cm)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer stopCancel()
	f.publishAvailability(stopCtx, cm, "offline")
	return cm.Disconnect(stopCtx)
}

// forward drains the bus into pub until ctx is done.
func (f *Forwarder) forward(ctx context.Context, pub publisher) {
	ch := f.bus.Subscribe(eventBuffer)
	defer f.bus.Unsubscribe(ch)

	ticker := time.NewTicker(tokensInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.handle(ctx, pub, e)
		case <-ticker.C:
			f.publishTokens(ctx, pub)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, pub publisher, e events.Event) {
	if e.Kind == events.KindLLMResponse {
		f.tokens.Add(intData(e.Data, "tokens_in"), intData(e.Data, "tokens_out"))
	}
	if !f.limiter.allow() {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := f.eventTopic(e)
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		f.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}

	if e.Kind == events.KindRequestComplete {
		f.publishTokens(ctx, pub)
	}
}

func (f *Forwarder) publishTokens(ctx context.Context, pub publisher) {
	input, output, _ := f.tokens.Snapshot()
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.tokensTopic(),
		Payload: []byte(strconv.FormatInt(input+output, 10)),
		QoS:     0,
		Retain:  true,
	}); err != nil {
		f.logger.Debug("mqtt tokens publish failed", "error", err)
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	f.logger.Info("mqtt availability published", "status", status)
}

func intData(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
