package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// S3Sink writes each record as one object, keyed the same way the
// local spool lays out files so bucket listings group by tenant and
// day. Object keys embed the record id, so redelivery overwrites the
// same object.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3SinkConfig holds the target bucket and an optional custom endpoint
// for MinIO or LocalStack.
type S3SinkConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Sink builds a sink from ambient AWS credentials.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Write(ctx context.Context, rec *contracts.AuditRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	key := s.prefix + objectKey(rec)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: s3: %v", ErrSinkUnavailable, err)
	}
	return nil
}

// objectKey mirrors the spool layout: tenant/yyyy/mm/dd/recordId.json.
func objectKey(rec *contracts.AuditRecord) string {
	return fmt.Sprintf("%s/%s/%s.json",
		sanitize(rec.TenantID), rec.EventTime.UTC().Format("2006/01/02"), rec.RecordID)
}
