package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// PostgresSink stores records in an audit_records table. ON CONFLICT
// DO NOTHING on the record id makes redelivery idempotent.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open connection pool.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, rec *contracts.AuditRecord) error {
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("audit: marshal decision: %w", err)
	}

	query := `
		INSERT INTO audit_records
			(record_id, tenant_id, application_key, thread_id, request_id, sequence_number,
			 request_type, user_id, decision, masked_content, encryption_key_id,
			 request_time, event_time, payload_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (record_id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		rec.RecordID, rec.TenantID, rec.ApplicationKey, rec.ThreadID, rec.RequestID,
		rec.SequenceNumber, rec.RequestType, rec.UserID, decision, rec.MaskedContent,
		rec.EncryptionKeyID, rec.RequestTime, rec.EventTime, rec.PayloadHash)
	if err != nil {
		return fmt.Errorf("%w: postgres: %v", ErrSinkUnavailable, err)
	}
	return nil
}
