package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// SQLiteSink stores records in an embedded database. Shares the table
// shape of PostgresSink; INSERT OR IGNORE gives idempotency.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink wraps db and creates the table when absent.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		record_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		application_key TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		request_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		decision JSON NOT NULL,
		masked_content TEXT,
		encryption_key_id TEXT,
		request_time DATETIME,
		event_time DATETIME NOT NULL,
		payload_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_records (tenant_id, event_time);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, rec *contracts.AuditRecord) error {
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("audit: marshal decision: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO audit_records
			(record_id, tenant_id, application_key, thread_id, request_id, sequence_number,
			 request_type, user_id, decision, masked_content, encryption_key_id,
			 request_time, event_time, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.RecordID, rec.TenantID, rec.ApplicationKey, rec.ThreadID, rec.RequestID,
		rec.SequenceNumber, rec.RequestType, rec.UserID, decision, rec.MaskedContent,
		rec.EncryptionKeyID, rec.RequestTime, rec.EventTime, rec.PayloadHash)
	if err != nil {
		return fmt.Errorf("%w: sqlite: %v", ErrSinkUnavailable, err)
	}
	return nil
}

// Count returns the stored record count; used by health checks.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&n)
	return n, err
}
