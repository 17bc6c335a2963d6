package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/pkg/schema"
)

// Sink adapts an EventHub to the engine's event emitter. Emission never
// fails a run: publish errors are logged and dropped.
type Sink struct {
	hub    EventHub
	logger *slog.Logger
	now    func() time.Time
}

// NewSink creates a sink publishing to hub.
func NewSink(hub EventHub, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{hub: hub, logger: logger, now: time.Now}
}

// Emit stamps the event and publishes it.
func (s *Sink) Emit(ctx context.Context, ev schema.StreamEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		logging.LogWith(ctx, s.logger).Debug("stream event dropped",
			slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}
