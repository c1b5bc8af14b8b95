package retrydlq

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Codec converts payloads to and from the string stored on a dead letter
// record. Deserialize(Serialize(p)) must be processed exactly like p.
type Codec[T any] interface {
	Serialize(payload T) (string, error)
	Deserialize(data string) (T, error)
}

// StringCodec stores string payloads as-is.
type StringCodec struct{}

func (StringCodec) Serialize(payload string) (string, error) {
	return payload, nil
}

func (StringCodec) Deserialize(data string) (string, error) {
	return data, nil
}

// JSONCodec stores payloads as JSON documents.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Serialize(payload T) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

func (JSONCodec[T]) Deserialize(data string) (T, error) {
	var payload T
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

// FuncHandler adapts a plain function and a codec into a Handler.
type FuncHandler[T any] struct {
	Name        string
	Codec       Codec[T]
	ProcessFunc func(ctx context.Context, payload T) error
}

func (h *FuncHandler[T]) ServiceName() string {
	return h.Name
}

func (h *FuncHandler[T]) Process(ctx context.Context, payload T) error {
	if h.ProcessFunc == nil {
		return nil
	}
	return h.ProcessFunc(ctx, payload)
}

func (h *FuncHandler[T]) Serialize(payload T) (string, error) {
	if h.Codec == nil {
		return "", fmt.Errorf("no codec configured for %s", h.Name)
	}
	return h.Codec.Serialize(payload)
}

func (h *FuncHandler[T]) Deserialize(data string) (T, error) {
	if h.Codec == nil {
		var zero T
		return zero, fmt.Errorf("no codec configured for %s", h.Name)
	}
	return h.Codec.Deserialize(data)
}
