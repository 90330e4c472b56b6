package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
)

// Config configures a Recorder
type Config struct {
	Sink Sink
	// BufferSize is the number of records held before new ones are dropped
	BufferSize int
	// BatchSize is the maximum number of records per sink write
	BatchSize int
	// FlushInterval is how often a partial batch is written
	FlushInterval time.Duration
	// WriteTimeout bounds each sink write
	WriteTimeout    time.Duration
	SensitiveFields []string
	Logger          *logger.Logger
	Metrics         *telemetry.GatewayMetrics
}

// DefaultConfig returns default recorder configuration
func DefaultConfig(sink Sink) Config {
	return Config{
		Sink:            sink,
		BufferSize:      1000,
		BatchSize:       100,
		FlushInterval:   5 * time.Second,
		WriteTimeout:    5 * time.Second,
		SensitiveFields: DefaultSensitiveFields,
	}
}

// Recorder buffers audit records and writes them to a sink in batches
type Recorder struct {
	cfg       Config
	buffer    chan *Record
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	now       func() time.Time
	log       *logger.Logger
}

// NewRecorder creates a Recorder and starts its background worker
func NewRecorder(cfg Config) *Recorder {
	def := DefaultConfig(cfg.Sink)
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SensitiveFields == nil {
		cfg.SensitiveFields = def.SensitiveFields
	}

	r := &Recorder{
		cfg:    cfg,
		buffer: make(chan *Record, cfg.BufferSize),
		now:    time.Now,
		log:    cfg.Logger,
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues an audit record. It never blocks: when the buffer is full
// or the recorder is closed the record is dropped and false is returned.
func (r *Recorder) Record(ctx context.Context, action, resource string, info RequestInfo) bool {
	rec := &Record{
		ID:        uuid.New().String(),
		TenantID:  info.TenantID,
		UserID:    info.UserID,
		Action:    action,
		Resource:  resource,
		Method:    info.Method,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		RequestID: info.RequestID,
		Metadata:  MaskSensitive(info.Metadata, r.cfg.SensitiveFields),
		Timestamp: r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(ctx, rec, "recorder closed")
		return false
	}

	select {
	case r.buffer <- rec:
		return true
	default:
		r.drop(ctx, rec, "buffer full")
		return false
	}
}

func (r *Recorder) drop(ctx context.Context, rec *Record, reason string) {
	r.cfg.Metrics.AuditDropped(ctx, rec.Action)
	r.log.WarnContext(ctx, "Audit record dropped",
		zap.String("reason", reason),
		zap.String("action", rec.Action),
		zap.String("resource", rec.Resource),
		zap.String("tenant_id", rec.TenantID),
		zap.String("request_id", rec.RequestID),
	)
}

// Close stops accepting records and drains the buffer to the sink
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.buffer)
		r.mu.Unlock()
		r.wg.Wait()
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, r.cfg.BatchSize)

	for {
		select {
		case rec, ok := <-r.buffer:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = make([]*Record, 0, r.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]*Record, 0, r.cfg.BatchSize)
			}
		}
	}
}

// flush writes a batch under its own deadline, detached from any request
func (r *Recorder) flush(batch []*Record) {
	if len(batch) == 0 || r.cfg.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "audit.sink.write",
		trace.WithAttributes(attribute.Int("audit.batch_size", len(batch))),
	)
	defer span.End()

	if err := r.cfg.Sink.Write(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink write failed")
		r.log.Error("Audit sink write failed",
			zap.Int("records", len(batch)),
			zap.Strings("actions", summarize(batch)),
			zap.String("first_request_id", batch[0].RequestID),
			zap.Error(err),
		)
	}
}

// summarize lists the distinct actions in a batch
func summarize(batch []*Record) []string {
	seen := make(map[string]struct{}, len(batch))
	var actions []string
	for _, rec := range batch {
		if _, ok := seen[rec.Action]; ok {
			continue
		}
		seen[rec.Action] = struct{}{}
		actions = append(actions, rec.Action)
	}
	return actions
}
