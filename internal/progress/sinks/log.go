package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink writes every progress event as a structured log line. Fetch attempts
// go out at debug level, skips and failures at warn, everything else at info.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fieldsFor(evt)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageFetchAttempt:
		return zapcore.DebugLevel
	case progress.StageRecordSkipped, progress.StagePageFailed, progress.StageStoreFailed:
		return zapcore.WarnLevel
	case progress.StagePagerMissing, progress.StageCrawlAborted:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fieldsFor(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Page > 0 {
		fields = append(fields, zap.Int("page", evt.Page))
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.Stage == progress.StageFetchAttempt {
		fields = append(fields,
			zap.Int("status", evt.StatusCode),
			zap.Int("attempt", evt.Attempt),
			zap.Int64("bytes", evt.Bytes),
		)
	}
	if evt.Kind != "" {
		fields = append(fields, zap.String("kind", evt.Kind))
	}
	if evt.Title != "" {
		fields = append(fields, zap.String("title", evt.Title))
	}
	switch evt.Stage {
	case progress.StagePageParsed, progress.StagePageStored, progress.StageStoreFailed, progress.StageCrawlDone:
		fields = append(fields, zap.Int("records", evt.Records))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
