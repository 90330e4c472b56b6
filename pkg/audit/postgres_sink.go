package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BatchSender is satisfied by *pgxpool.Pool and *database.PostgresDB
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresSink appends records to the audit_logs table
type PostgresSink struct {
	db BatchSender
}

// NewPostgresSink creates a new PostgresSink
func NewPostgresSink(db BatchSender) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertAuditLog = `
	INSERT INTO audit_logs (
		id, tenant_id, user_id, action, resource, method,
		ip_address, user_agent, request_id, metadata, created_at
	) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
`

func (s *PostgresSink) Write(ctx context.Context, records []*Record) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		metadata := []byte("{}")
		if len(rec.Metadata) > 0 {
			data, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("encode audit metadata %s: %w", rec.ID, err)
			}
			metadata = data
		}

		batch.Queue(insertAuditLog,
			rec.ID, rec.TenantID, rec.UserID, rec.Action, rec.Resource, rec.Method,
			rec.IPAddress, rec.UserAgent, rec.RequestID, metadata, rec.Timestamp,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit log %d of %d: %w", i+1, len(records), err)
		}
	}
	return nil
}
