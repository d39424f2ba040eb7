package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardenlabs/warden/pkg/contracts"
)

func spoolRecord(tenant, thread string, seq int64, at time.Time) *contracts.AuditRecord {
	return &contracts.AuditRecord{
		RecordID:       tenant + "-" + thread + "-rec",
		TenantID:       tenant,
		ApplicationKey: "app-1",
		ThreadID:       thread,
		RequestID:      "req-1",
		SequenceNumber: seq,
		RequestType:    contracts.RequestTypePrompt,
		UserID:         "alice",
		EventTime:      at,
	}
}

func TestSpool_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSpool(dir)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := spoolRecord("acme", "thread-1", 7, at)
	if err := s.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	want := filepath.Join(dir, "acme", "2026", "03", "14", "thread-1_7.json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected spool file at %s: %v", want, err)
	}

	files, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	got, err := s.Load(files[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.RecordID != rec.RecordID || got.SequenceNumber != 7 {
		t.Fatalf("loaded = %+v", got)
	}

	if err := s.Ack(files[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := s.Len(); n != 0 {
		t.Fatalf("len after ack = %d", n)
	}
}

func TestSpool_ListsOldestDateFirst(t *testing.T) {
	s, err := NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	newer := spoolRecord("acme", "t", 1, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	older := spoolRecord("acme", "t", 2, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC))
	if err := s.Put(newer); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(older); err != nil {
		t.Fatalf("put: %v", err)
	}

	files, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	first, err := s.Load(files[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.SequenceNumber != 2 {
		t.Fatal("older day must replay before newer")
	}
}

func TestSpool_SanitizesIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSpool(dir)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	rec := spoolRecord("tenant/x", "a/b", 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := s.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	files, _ := s.List()
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	rel, _ := filepath.Rel(dir, files[0])
	parts := strings.Split(rel, string(os.PathSeparator))
	if parts[0] != "tenant_x" || parts[len(parts)-1] != "a_b_1.json" {
		t.Fatalf("separators must be neutralized, got %v", parts)
	}
}
