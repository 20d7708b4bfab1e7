package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"telemon/internal/config"
	"telemon/internal/ingest"
	"telemon/internal/logger"
)

// PayloadProcessor ingests one raw telemetry payload.
type PayloadProcessor interface {
	ProcessPayload(ctx context.Context, source string, body []byte) (ingest.BatchResult, error)
}

// Subscriber receives telemetry from devices publishing over MQTT.
type Subscriber struct {
	client    paho.Client
	cfg       config.MQTTConfig
	processor PayloadProcessor

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber connects to the broker. Subscriptions are (re)established
// on every connect so they survive reconnects.
func NewSubscriber(cfg config.MQTTConfig, processor PayloadProcessor) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:       cfg,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.WithComponent("mqtt").Warn().Err(err).Msg("mqtt connection lost")
	})

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return s, nil
}

func (s *Subscriber) onConnect(c paho.Client) {
	log := logger.WithComponent("mqtt")
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		s.HandleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", s.cfg.Topic).Msg("failed to subscribe")
		return
	}
	log.Info().
		Str("broker", s.cfg.Broker).
		Str("topic", s.cfg.Topic).
		Uint8("qos", s.cfg.QoS).
		Msg("subscribed to telemetry topic")
}

// HandleMessage ingests one MQTT payload. Errors are logged, never
// returned, so one bad device cannot stall the subscription.
func (s *Subscriber) HandleMessage(topic string, payload []byte) {
	log := logger.WithComponent("mqtt").With().Str("topic", topic).Logger()

	result, err := s.processor.ProcessPayload(s.ctx, "mqtt", payload)
	if err != nil {
		log.Error().Err(err).Int("payload_size", len(payload)).Msg("failed to ingest mqtt message")
		return
	}
	if len(result.Rejected) > 0 {
		log.Warn().
			Int("accepted", len(result.Accepted)).
			Interface("rejected", result.Rejected).
			Msg("mqtt message partially rejected")
	}
}

// IsConnected reports the broker connection state.
func (s *Subscriber) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Close unsubscribes and disconnects.
func (s *Subscriber) Close() {
	s.cancel()
	if s.client == nil {
		return
	}
	if token := s.client.Unsubscribe(s.cfg.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		logger.WithComponent("mqtt").Warn().Err(token.Error()).Msg("failed to unsubscribe")
	}
	s.client.Disconnect(250)
}
