package location

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
)

// Pipeline fans a driver position ping out to the configured sinks.
// Both sinks are optional and best-effort: a slow or missing broker
// must never hold up ride dispatch.
type Pipeline struct {
	producer *Producer
	mirror   *GeoMirror
	logger   *slog.Logger
}

func NewPipeline(producer *Producer, mirror *GeoMirror, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{producer: producer, mirror: mirror, logger: logger}
}

func (p *Pipeline) Record(ctx context.Context, loc models.DriverLocationPayload) {
	if p == nil {
		return
	}
	if p.producer != nil {
		if err := p.producer.Publish(loc); err != nil {
			p.logger.Warn("kafka publish failed", "driver_id", loc.DriverID, "error", err)
		}
	}
	if p.mirror != nil {
		if err := p.mirror.Update(ctx, loc); err != nil {
			p.logger.Warn("redis geo update failed", "driver_id", loc.DriverID, "error", err)
		}
	}
}

func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	if p.producer != nil {
		_ = p.producer.Close()
	}
	if p.mirror != nil {
		_ = p.mirror.Close()
	}
}
