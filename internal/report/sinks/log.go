package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/report"
)

// LogSink emits structured logs for debugging snapshot streams. Useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []report.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("kind", string(evt.Kind)),
			zap.String("phase", evt.Phase),
			zap.Uint64("cycle", evt.Cycle),
			zap.Uint32("visible_done", evt.Visible.Done),
			zap.Uint32("visible_total", evt.Visible.Total),
			zap.Uint32("complete_done", evt.Complete.Done),
			zap.Uint32("complete_total", evt.Complete.Total),
			zap.Bool("ready", evt.Ready),
		}
		if evt.NextPhase != "" {
			fields = append(fields, zap.String("next_phase", evt.NextPhase))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("phase snapshot", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
