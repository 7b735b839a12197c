package observability

import (
	"log/slog"

	"investpool/core/events"
	"investpool/core/types"
)

// LogEmitter writes every ledger event to the structured log. It is the
// default downstream for engine events when no other subscriber exists.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter builds an emitter over logger, falling back to the default
// logger when nil.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements events.Emitter.
func (e *LogEmitter) Emit(event events.Event) {
	if e == nil || event == nil {
		return
	}
	attrs := []any{}
	if payload, ok := event.(interface{ Event() *types.Event }); ok {
		if evt := payload.Event(); evt != nil {
			for key, value := range evt.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.logger.Info("ledger event", append([]any{slog.String("type", event.EventType())}, attrs...)...)
}
