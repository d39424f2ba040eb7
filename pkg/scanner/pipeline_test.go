package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubScanner struct {
	name   string
	result Result
	err    error
	delay  time.Duration
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(ctx context.Context, _ string) (Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestPipeline_MergesAndSorts(t *testing.T) {
	p := NewPipeline([]Scanner{
		&stubScanner{name: "a", result: Result{
			Traits:       []string{"PII_SSN", "TOXIC"},
			MaskedValues: map[string]string{"PII_SSN": "from-a"},
		}},
		&stubScanner{name: "b", result: Result{
			Traits:       []string{"PII_SSN", "PII_EMAIL"},
			MaskedValues: map[string]string{"PII_SSN": "from-b", "PII_EMAIL": "x"},
		}},
	}, PipelineConfig{}, slog.New(slog.DiscardHandler))

	res := p.Scan(context.Background(), "hello")
	want := []string{"PII_EMAIL", "PII_SSN", "TOXIC"}
	if len(res.Traits) != len(want) {
		t.Fatalf("traits = %v, want %v", res.Traits, want)
	}
	for i := range want {
		if res.Traits[i] != want[i] {
			t.Fatalf("traits = %v, want %v", res.Traits, want)
		}
	}
	if res.MaskedValues["PII_SSN"] != "from-a" {
		t.Fatalf("mask tie must go to the first scanner, got %q", res.MaskedValues["PII_SSN"])
	}
}

func TestPipeline_FailedScannerContributesNothing(t *testing.T) {
	p := NewPipeline([]Scanner{
		&stubScanner{name: "broken", err: errors.New("boom")},
		&stubScanner{name: "ok", result: Result{Traits: []string{"FIN"}}},
	}, PipelineConfig{}, slog.New(slog.DiscardHandler))

	res := p.Scan(context.Background(), "hello")
	if len(res.Traits) != 1 || res.Traits[0] != "FIN" {
		t.Fatalf("traits = %v, want [FIN]", res.Traits)
	}
}

func TestPipeline_SlowScannerTimesOut(t *testing.T) {
	p := NewPipeline([]Scanner{
		&stubScanner{name: "slow", delay: time.Second, result: Result{Traits: []string{"NEVER"}}},
		&stubScanner{name: "fast", result: Result{Traits: []string{"FIN"}}},
	}, PipelineConfig{Timeout: 20 * time.Millisecond}, slog.New(slog.DiscardHandler))

	start := time.Now()
	res := p.Scan(context.Background(), "hello")
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("pipeline must not wait for a slow scanner past its timeout")
	}
	if len(res.Traits) != 1 || res.Traits[0] != "FIN" {
		t.Fatalf("traits = %v, want [FIN]", res.Traits)
	}
}

func TestPipeline_NormalizesToNFC(t *testing.T) {
	s, err := NewPatternScanner("probe", map[string]string{"ACCENT": "caf\u00e9"})
	if err != nil {
		t.Fatalf("pattern scanner: %v", err)
	}
	p := NewPipeline([]Scanner{s}, PipelineConfig{}, slog.New(slog.DiscardHandler))

	// Decomposed input: 'e' followed by a combining acute accent.
	res := p.Scan(context.Background(), "cafe\u0301")
	if len(res.Traits) != 1 || res.Traits[0] != "ACCENT" {
		t.Fatalf("traits = %v, want NFC-normalized match", res.Traits)
	}
}

func TestPatternScanner_DetectsAndMasks(t *testing.T) {
	s := NewDefaultPIIScanner()
	res, err := s.Scan(context.Background(), "mail me at jane@example.com please")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Traits) != 1 || res.Traits[0] != "PII_EMAIL" {
		t.Fatalf("traits = %v, want [PII_EMAIL]", res.Traits)
	}
	if res.MaskedValues["PII_EMAIL"] != "mail me at <<PII_EMAIL>> please" {
		t.Fatalf("masked = %q", res.MaskedValues["PII_EMAIL"])
	}
}

func TestHTTPScanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"traits":       []string{"TOXIC"},
			"maskedValues": map[string]string{"TOXIC": "***"},
		})
	}))
	defer srv.Close()

	s := NewHTTPScanner("remote", srv.URL, srv.Client())
	res, err := s.Scan(context.Background(), "some text")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Traits) != 1 || res.Traits[0] != "TOXIC" {
		t.Fatalf("traits = %v", res.Traits)
	}

	srv.Close()
	if _, err := s.Scan(context.Background(), "x"); !errors.Is(err, ErrScannerUnavailable) {
		t.Fatalf("err = %v, want ErrScannerUnavailable", err)
	}
}

func TestBuild_RejectsIncompatibleEngine(t *testing.T) {
	_, err := Build(context.Background(), []Spec{
		{Name: "future", Type: "pattern", Engine: ">=99.0"},
	})
	if err == nil {
		t.Fatal("incompatible engine constraint must fail at build time")
	}

	scanners, err := Build(context.Background(), []Spec{
		{Name: "compat", Type: "pattern", Engine: ">=1.0 <2", Patterns: map[string]string{"X": "x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(scanners) != 2 {
		t.Fatalf("got %d scanners, want builtin + compat", len(scanners))
	}
}
