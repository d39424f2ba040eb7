package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// GCSSink writes each record as one object, mirroring the S3Sink key
// layout. Uses Application Default Credentials.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink builds a sink over bucket.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: create gcs client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Write(ctx context.Context, rec *contracts.AuditRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	w := s.client.Bucket(s.bucket).Object(s.prefix + objectKey(rec)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: gcs: %v", ErrSinkUnavailable, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: gcs: %v", ErrSinkUnavailable, err)
	}
	return nil
}

// Close releases the client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
