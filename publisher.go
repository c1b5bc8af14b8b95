package retrydlq

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the writer behind a KafkaHandler. Topic is the
// fallback used when a message does not name one.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Balancer     kafka.Balancer
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	Compression  kafka.Compression
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	MaxAttempts  int
	ErrorLogger  kafka.Logger
	Logger       kafka.Logger
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "retrydlq-events",
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchBytes:   1048576, // 1MB
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		MaxAttempts:  1,
	}
}

// NewKafkaWriter builds a synchronous writer. The writer has no topic of its
// own; every message carries one. MaxAttempts defaults to a single attempt so
// that retries are driven by the retry policy rather than by the client.
func NewKafkaWriter(config KafkaConfig) *kafka.Writer {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               config.Balancer,
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           config.BatchTimeout,
		Async:                  false,
		RequiredAcks:           config.RequiredAcks,
		Compression:            config.Compression,
		WriteTimeout:           config.WriteTimeout,
		ReadTimeout:            config.ReadTimeout,
		MaxAttempts:            maxAttempts,
		ErrorLogger:            config.ErrorLogger,
		AllowAutoTopicCreation: true,
		Logger:                 config.Logger,
	}
}
