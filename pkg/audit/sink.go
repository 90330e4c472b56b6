package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/logger"
)

// Sink persists batches of audit records
type Sink interface {
	Write(ctx context.Context, records []*Record) error
}

// MultiSink writes every batch to each of its sinks. A failing sink does not
// prevent the others from receiving the batch.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, records []*Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes audit records to the structured log
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Get()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Write(_ context.Context, records []*Record) error {
	for _, rec := range records {
		s.log.Info("audit",
			zap.String("audit_id", rec.ID),
			zap.String("tenant_id", rec.TenantID),
			zap.String("user_id", rec.UserID),
			zap.String("action", rec.Action),
			zap.String("resource", rec.Resource),
			zap.String("method", rec.Method),
			zap.String("ip_address", rec.IPAddress),
			zap.String("request_id", rec.RequestID),
			zap.Any("metadata", rec.Metadata),
			zap.Time("timestamp", rec.Timestamp),
		)
	}
	return nil
}
