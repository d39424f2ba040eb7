package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPScanner calls a remote scanning service. The wire contract is a
// JSON POST of {"text": ...} answered with a Result-shaped body.
type HTTPScanner struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPScanner builds a scanner against endpoint. A nil client gets
// a 10s-timeout default.
func NewHTTPScanner(name, endpoint string, client *http.Client) *HTTPScanner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPScanner{name: name, endpoint: endpoint, client: client}
}

func (s *HTTPScanner) Name() string { return s.name }

func (s *HTTPScanner) Scan(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	if err != nil {
		return Result{}, fmt.Errorf("scanner: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("scanner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrScannerUnavailable, s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: %s returned %d", ErrScannerUnavailable, s.name, resp.StatusCode)
	}

	var out struct {
		Traits       []string          `json:"traits"`
		MaskedValues map[string]string `json:"maskedValues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("scanner: decode %s response: %w", s.name, err)
	}
	return Result{Traits: out.Traits, MaskedValues: out.MaskedValues}, nil
}
