package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// FileSink appends records as JSON lines to a single file. Intended
// for single-node deployments and as a dev default.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	seen map[string]bool
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open sink file: %w", err)
	}
	return &FileSink{f: f, seen: make(map[string]bool)}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, rec *contracts.AuditRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Replay can redeliver; drop duplicates within this process.
	if s.seen[rec.RecordID] {
		return nil
	}
	if _, err := s.f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("%w: file: %v", ErrSinkUnavailable, err)
	}
	s.seen[rec.RecordID] = true
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
