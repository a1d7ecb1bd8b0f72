package strategy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const (
	// CycleStream is the stream cycle reports are appended to.
	CycleStream = "perparb:cycles"
	// CycleChannel is the Pub/Sub channel reports are published on for live
	// viewers.
	CycleChannel = "perparb:cycles:live"
)

// BusReporter appends every cycle report to a durable stream on the signal
// bus and publishes it on CycleChannel. Delivery failures are logged and
// dropped.
type BusReporter struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewBusReporter creates a BusReporter writing to stream. An empty stream
// means CycleStream.
func NewBusReporter(bus domain.SignalBus, stream string, logger *slog.Logger) *BusReporter {
	if stream == "" {
		stream = CycleStream
	}
	return &BusReporter{
		bus:    bus,
		stream: stream,
		logger: logger.With(slog.String("component", "cycle_reporter")),
	}
}

// Report implements Reporter.
func (b *BusReporter) Report(ctx context.Context, r domain.CycleReport) {
	payload, err := json.Marshal(r)
	if err != nil {
		b.logger.Warn("marshal cycle report", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.StreamAppend(ctx, b.stream, payload); err != nil {
		b.logger.Warn("append cycle report",
			slog.String("stream", b.stream),
			slog.String("error", err.Error()),
		)
	}
	if err := b.bus.Publish(ctx, CycleChannel, payload); err != nil {
		b.logger.Debug("publish cycle report", slog.String("error", err.Error()))
	}
}
