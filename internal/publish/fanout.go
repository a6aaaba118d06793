package publish

import (
	"fmt"
	"log/slog"
)

// Transport is the slice of the messaging bus the fan-out needs.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Fanout serializes payloads and sends them over the transport, logging the
// outcome either way.
type Fanout struct {
	transport Transport
	logger    *slog.Logger
	encode    func(any) ([]byte, error)
}

// NewFanout constructs a fan-out publisher over the given transport.
func NewFanout(transport Transport, logger *slog.Logger) *Fanout {
	return &Fanout{transport: transport, logger: logger, encode: marshal}
}

// Publish serializes payload and sends it on topic. The error return exists
// for callers that want to log-and-continue; the mirror path ignores it.
func (f *Fanout) Publish(topic string, payload any) error {
	data, err := f.encode(payload)
	if err != nil {
		f.logger.Error("failed to encode publish payload", "topic", topic, "error", err)
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	if err := f.transport.Publish(topic, data); err != nil {
		f.logger.Warn("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	f.logger.Debug("published", "topic", topic, "bytes", len(data))
	return nil
}
