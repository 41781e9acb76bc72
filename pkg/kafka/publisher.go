// Package kafka relays outbox rows to a Kafka topic. It is the alternative
// event sink to Pub/Sub; the outbox publisher picks one at startup.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/config"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	kafkago "github.com/segmentio/kafka-go"
)

const dialTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes keyed messages to the configured brokers. Messages that
// share a key land on the same partition, so events for one aggregate stay
// ordered.
type Publisher struct {
	writer  messageWriter
	brokers []string
	topic   string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewPublisher builds a writer for cfg.Brokers. The topic on each message
// overrides cfg.Topic when set.
func NewPublisher(cfg config.KafkaConfig, logg *logger.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
	}
	dialer := &kafkago.Dialer{Timeout: dialTimeout}

	if logg != nil {
		logCtx := logg.WithFields(context.Background(), map[string]any{
			"brokers": strings.Join(brokers, ","),
			"topic":   cfg.Topic,
		})
		logg.Info(logCtx, "kafka publisher initialized")
	}

	return &Publisher{
		writer:  writer,
		brokers: brokers,
		topic:   cfg.Topic,
		dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
	}, nil
}

// Topic returns the default topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish writes one message and blocks until the brokers acknowledge it.
func (p *Publisher) Publish(ctx context.Context, topic, key string, data []byte, attributes map[string]string) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher not initialized")
	}
	if strings.TrimSpace(topic) == "" {
		topic = p.topic
	}
	msg := kafkago.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Time:    time.Now().UTC(),
		Headers: headers(attributes),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("kafka publisher not initialized")
	}
	var errs []error
	for _, broker := range p.brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}
		return conn.Close()
	}
	return errors.Join(errs...)
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func headers(attributes map[string]string) []kafkago.Header {
	if len(attributes) == 0 {
		return nil
	}
	out := make([]kafkago.Header, 0, len(attributes))
	for key, value := range attributes {
		out = append(out, kafkago.Header{Key: key, Value: []byte(value)})
	}
	return out
}
