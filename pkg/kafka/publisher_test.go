package kafka

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/angelmondragon/evtrade-backend/pkg/config"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewPublisherValidatesConfig(t *testing.T) {
	_, err := NewPublisher(config.KafkaConfig{Brokers: []string{" "}, Topic: "events"}, nil)
	require.Error(t, err)

	_, err = NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)

	pub, err := NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "events", pub.Topic())
}

func TestPublishKeysMessageAndCopiesAttributes(t *testing.T) {
	writer := &recordingWriter{}
	pub := &Publisher{writer: writer, topic: "evtrade.domain-events"}

	err := pub.Publish(context.Background(), "", "order-1", []byte(`{"a":1}`), map[string]string{
		"event_type": "order_status_changed",
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "evtrade.domain-events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.JSONEq(t, `{"a":1}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "order_status_changed", string(msg.Headers[0].Value))
}

func TestPublishWrapsWriterError(t *testing.T) {
	pub := &Publisher{writer: &recordingWriter{err: errors.New("leader not available")}, topic: "events"}

	err := pub.Publish(context.Background(), "other", "k", []byte("{}"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka write other")
}

func TestPingTriesEveryBroker(t *testing.T) {
	var dialed []string
	pub := &Publisher{
		brokers: []string{"a:9092", "b:9092"},
		dial: func(_ context.Context, _, address string) (net.Conn, error) {
			dialed = append(dialed, address)
			if address == "a:9092" {
				return nil, errors.New("refused")
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}

	require.NoError(t, pub.Ping(context.Background()))
	assert.Equal(t, []string{"a:9092", "b:9092"}, dialed)
}

func TestCloseClosesWriter(t *testing.T) {
	writer := &recordingWriter{}
	pub := &Publisher{writer: writer}
	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}
