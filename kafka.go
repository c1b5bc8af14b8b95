package retrydlq

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaMessage is the payload of a KafkaHandler. It is stored on dead letter
// records as JSON.
type KafkaMessage struct {
	Topic   string            `json:"topic,omitempty"`
	Key     string            `json:"key,omitempty"`
	Value   []byte            `json:"value"`
	Headers map[string]string `json:"headers,omitempty"`
}

// KafkaWriter is satisfied by *kafka.Writer.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaHandler publishes messages to Kafka. Wrap it in a Service to get
// retries and dead-lettering of undeliverable messages.
type KafkaHandler struct {
	JSONCodec[KafkaMessage]

	name         string
	writer       KafkaWriter
	defaultTopic string
	logger       *zap.Logger
}

var _ Handler[KafkaMessage] = (*KafkaHandler)(nil)

func NewKafkaHandler(name string, writer KafkaWriter, defaultTopic string, logger *zap.Logger) *KafkaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KafkaHandler{
		name:         name,
		writer:       writer,
		defaultTopic: defaultTopic,
		logger:       logger,
	}
}

// NewKafkaHandlerWithConfig builds the writer from config.
func NewKafkaHandlerWithConfig(name string, config KafkaConfig, logger *zap.Logger) *KafkaHandler {
	return NewKafkaHandler(name, NewKafkaWriter(config), config.Topic, logger)
}

func (h *KafkaHandler) ServiceName() string {
	return h.name
}

func (h *KafkaHandler) Process(ctx context.Context, msg KafkaMessage) error {
	topic := msg.Topic
	if topic == "" {
		topic = h.defaultTopic
	}
	if topic == "" {
		return fmt.Errorf("kafka message has no topic and no default topic is configured")
	}

	h.logger.Debug("Publishing message to Kafka",
		zap.String("topic", topic),
		zap.String("key", msg.Key))

	message := kafka.Message{
		Topic:   topic,
		Value:   msg.Value,
		Headers: buildKafkaHeaders(msg.Headers),
		Time:    time.Now(),
	}
	if msg.Key != "" {
		message.Key = []byte(msg.Key)
	}

	if err := h.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish message to Kafka topic %s: %w", topic, err)
	}

	return nil
}

// Close closes the underlying writer when it supports closing.
func (h *KafkaHandler) Close() error {
	if closer, ok := h.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func buildKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]kafka.Header, 0, len(keys))
	for _, key := range keys {
		result = append(result, kafka.Header{Key: key, Value: []byte(headers[key])})
	}
	return result
}
