package retrydlq

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSMessage struct {
	Subject string      `json:"subject"`
	Data    []byte      `json:"data"`
	Header  nats.Header `json:"header,omitempty"`
}

// NATSPublisher is satisfied by *nats.Conn.
type NATSPublisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSHandler publishes messages to core NATS and flushes after each publish
// so that a broken connection surfaces as a processing error.
type NATSHandler struct {
	JSONCodec[NATSMessage]

	name      string
	publisher NATSPublisher
	logger    *zap.Logger
}

var _ Handler[NATSMessage] = (*NATSHandler)(nil)

func NewNATSHandler(name string, publisher NATSPublisher, logger *zap.Logger) *NATSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NATSHandler{
		name:      name,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *NATSHandler) ServiceName() string {
	return h.name
}

func (h *NATSHandler) Process(ctx context.Context, msg NATSMessage) error {
	if msg.Subject == "" {
		return fmt.Errorf("nats message has no subject")
	}

	out := nats.NewMsg(msg.Subject)
	out.Data = msg.Data
	for key, values := range msg.Header {
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}

	if err := h.publisher.PublishMsg(out); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	if err := h.publisher.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", msg.Subject, err)
	}

	h.logger.Debug("Published message to NATS", zap.String("subject", msg.Subject))

	return nil
}
