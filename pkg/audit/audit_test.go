package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prohmpiriya/membership-gateway/pkg/database"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
)

// memorySink collects written batches
type memorySink struct {
	mu      sync.Mutex
	batches [][]*Record
	err     error
	ctxErrs []error
}

func (s *memorySink) Write(ctx context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]*Record(nil), records...))
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *memorySink) records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Record
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

// blockingSink holds the worker inside Write until released
type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	memorySink
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSink) Write(ctx context.Context, records []*Record) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.memorySink.Write(ctx, records)
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.FromZap(zap.New(core)), logs
}

func sampleInfo() RequestInfo {
	return RequestInfo{
		TenantID:  "tenant-acme",
		UserID:    "user-1",
		Method:    "POST",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
		RequestID: "req-1",
		Metadata:  map[string]interface{}{"invitee": "new@example.com"},
	}
}

func TestRecorder_RecordAndDrainOnClose(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink, FlushInterval: time.Hour})

	assert.True(t, r.Record(context.Background(), "invitation.create", "invitation", sampleInfo()))
	assert.True(t, r.Record(context.Background(), "member.delete", "member/42", sampleInfo()))
	require.NoError(t, r.Close())

	records := sink.records()
	require.Len(t, records, 2)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "tenant-acme", rec.TenantID)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "invitation.create", rec.Action)
	assert.Equal(t, "invitation", rec.Resource)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "203.0.113.7", rec.IPAddress)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "new@example.com", rec.Metadata["invitee"])
	assert.False(t, rec.Timestamp.IsZero())
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestRecorder_BatchSizeTriggersFlush(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink, BatchSize: 2, FlushInterval: time.Hour})
	defer r.Close()

	for i := 0; i < 4; i++ {
		r.Record(context.Background(), "a", "r", sampleInfo())
	}

	assert.Eventually(t, func() bool { return len(sink.records()) == 4 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	for _, b := range sink.batches {
		assert.Len(t, b, 2)
	}
	sink.mu.Unlock()
}

func TestRecorder_IntervalFlushesPartialBatch(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink, BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	defer r.Close()

	r.Record(context.Background(), "a", "r", sampleInfo())
	assert.Eventually(t, func() bool { return len(sink.records()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorder_BufferFullDropsWithoutBlocking(t *testing.T) {
	sink := newBlockingSink()
	log, logs := observedLogger()
	r := NewRecorder(Config{Sink: sink, BufferSize: 1, BatchSize: 1, FlushInterval: time.Hour, Logger: log})

	require.True(t, r.Record(context.Background(), "first", "r", sampleInfo()))
	<-sink.started

	require.True(t, r.Record(context.Background(), "second", "r", sampleInfo()))

	done := make(chan bool)
	go func() { done <- r.Record(context.Background(), "third", "r", sampleInfo()) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	dropped := logs.FilterMessage("Audit record dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "third", dropped[0].ContextMap()["action"])

	close(sink.release)
	require.NoError(t, r.Close())
	assert.Len(t, sink.records(), 2)
}

func TestRecorder_RequestCancellationDoesNotCancelWrite(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	r.Record(ctx, "a", "r", sampleInfo())
	cancel()
	require.NoError(t, r.Close())

	require.Len(t, sink.ctxErrs, 1)
	assert.NoError(t, sink.ctxErrs[0])
}

func TestRecorder_SinkFailureIsLoggedAndProcessingContinues(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	log, logs := observedLogger()
	r := NewRecorder(Config{Sink: sink, BatchSize: 1, FlushInterval: time.Hour, Logger: log})

	r.Record(context.Background(), "a", "r", sampleInfo())
	r.Record(context.Background(), "b", "r", sampleInfo())
	require.NoError(t, r.Close())

	assert.Len(t, sink.records(), 2)
	failures := logs.FilterMessage("Audit sink write failed").All()
	assert.Len(t, failures, 2)
}

func TestRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.False(t, r.Record(context.Background(), "a", "r", sampleInfo()))
	assert.Empty(t, sink.records())
}

func TestRecorder_MasksSensitiveMetadata(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(Config{Sink: sink})

	info := sampleInfo()
	info.Metadata = map[string]interface{}{
		"refresh_token": "abc",
		"profile":       map[string]interface{}{"Password": "hunter2", "name": "Ann"},
	}
	r.Record(context.Background(), "a", "r", info)
	require.NoError(t, r.Close())

	rec := sink.records()[0]
	assert.Equal(t, "[REDACTED]", rec.Metadata["refresh_token"])
	profile := rec.Metadata["profile"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", profile["Password"])
	assert.Equal(t, "Ann", profile["name"])

	// The caller's map is untouched.
	assert.Equal(t, "abc", info.Metadata["refresh_token"])
}

func TestMaskSensitive_Nil(t *testing.T) {
	assert.Nil(t, MaskSensitive(nil, DefaultSensitiveFields))
}

func TestMultiSink_WritesAllAndJoinsErrors(t *testing.T) {
	ok := &memorySink{}
	bad := &memorySink{err: errors.New("kafka down")}
	alsoOK := &memorySink{}

	err := MultiSink{ok, bad, alsoOK}.Write(context.Background(), []*Record{{ID: "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka down")
	assert.Len(t, ok.records(), 1)
	assert.Len(t, alsoOK.records(), 1)
}

func TestLogSink_Write(t *testing.T) {
	log, logs := observedLogger()
	sink := NewLogSink(log)

	require.NoError(t, sink.Write(context.Background(), []*Record{
		{ID: "1", TenantID: "tenant-acme", Action: "invitation.create", Resource: "invitation"},
	}))

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "tenant-acme", fields["tenant_id"])
	assert.Equal(t, "invitation.create", fields["action"])
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaSink_Write(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(producer, "audit.events")

	err := sink.Write(context.Background(), []*Record{
		{ID: "1", TenantID: "tenant-acme", Action: "invitation.create"},
		{ID: "2", TenantID: "tenant-other", Action: "member.delete"},
	})
	require.NoError(t, err)
	require.Len(t, producer.records, 2)

	msg := producer.records[0]
	assert.Equal(t, "audit.events", msg.Topic)
	assert.Equal(t, []byte("tenant-acme"), msg.Key)

	var decoded Record
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "invitation.create", decoded.Action)
}

func TestKafkaSink_ProduceError(t *testing.T) {
	sink := NewKafkaSink(&fakeProducer{err: errors.New("not leader")}, "audit.events")

	err := sink.Write(context.Background(), []*Record{{ID: "1", TenantID: "t"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not leader")
}

func TestPostgresSink_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	cfg := database.DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(ctx, cfg.DSN()))

	sink := NewPostgresSink(db)
	rec := &Record{
		ID:        "0b6b0f8e-3c47-4d36-9d53-7d0e6f1f4c11",
		TenantID:  "tenant-audit-it",
		Action:    "invitation.create",
		Resource:  "invitation",
		Method:    "POST",
		RequestID: "req-it",
		Metadata:  map[string]interface{}{"role": "member"},
		Timestamp: time.Now().UTC(),
	}
	defer db.Pool().Exec(ctx, `DELETE FROM audit_logs WHERE id = $1`, rec.ID)

	require.NoError(t, sink.Write(ctx, []*Record{rec}))

	var action string
	require.NoError(t, db.QueryRow(ctx, `SELECT action FROM audit_logs WHERE id = $1`, rec.ID).Scan(&action))
	assert.Equal(t, "invitation.create", action)
}
