package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// Spool persists undeliverable records to local disk, laid out as
//
//	<root>/<tenantId>/<yyyy>/<mm>/<dd>/<threadId>_<seq>.json
//
// so operators can locate a tenant's backlog by date. Files are
// written atomically (temp file + rename) and deleted only after the
// sink acknowledges redelivery.
type Spool struct {
	root string
}

// NewSpool creates the spool root if needed.
func NewSpool(root string) (*Spool, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create spool root: %w", err)
	}
	return &Spool{root: root}, nil
}

// Put writes one record to the spool.
func (s *Spool) Put(rec *contracts.AuditRecord) error {
	dir := filepath.Join(s.root, sanitize(rec.TenantID), rec.EventTime.UTC().Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("audit: create spool dir: %w", err)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal spooled record: %w", err)
	}

	name := fmt.Sprintf("%s_%d.json", sanitize(rec.ThreadID), rec.SequenceNumber)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("audit: write spool file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("audit: finalize spool file: %w", err)
	}
	return nil
}

// List returns spooled file paths, oldest date first. Within a day the
// order is lexical, which sorts by thread then sequence for the common
// fixed-width case.
func (s *Spool) List() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: walk spool: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Load reads one spooled record.
func (s *Spool) Load(path string) (*contracts.AuditRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read spool file: %w", err)
	}
	var rec contracts.AuditRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("audit: decode spool file %s: %w", path, err)
	}
	return &rec, nil
}

// Ack removes a delivered spool file.
func (s *Spool) Ack(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audit: remove spool file: %w", err)
	}
	return nil
}

// Len counts spooled records.
func (s *Spool) Len() (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// sanitize keeps ids filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
