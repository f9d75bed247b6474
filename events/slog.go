package events

import "log/slog"

// SlogSink emits events as structured slog records at Info level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink builds a SlogSink. A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(name string, fields ...Field) {
	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("event", name))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	s.logger.Info("event", attrs...)
}
