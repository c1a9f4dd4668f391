package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/resortpay/internal/tracing"
	"github.com/onnwee/resortpay/internal/webhook"
)

// ContentType is the media type of archive objects.
const ContentType = "application/cbor"

// Config holds the object storage settings.
type Config struct {
	Bucket          string
	Prefix          string
	Endpoint        string // empty for AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectPutter is the subset of the S3 API used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes event batches to a bucket.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("access key ID and secret access key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return NewS3ArchiverWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiverWithClient wraps an existing client.
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = "webhook-events"
	}
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// ObjectKey returns prefix/YYYY/MM/DD/<unix>-<uuid>.cbor for the archive time.
func (a *S3Archiver) ObjectKey(at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, at.Format("2006/01/02"), fmt.Sprintf("%d-%s.cbor", at.Unix(), uuid.New().String()))
}

// Archive encodes events as one batch and uploads it. It returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, events []*webhook.Event) (key string, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "archive.put_batch")
	defer func() { endSpan(err) }()

	now := a.now()
	batch, err := NewBatch(events, now)
	if err != nil {
		return "", err
	}
	data, err := batch.Encode()
	if err != nil {
		return "", err
	}

	key = a.ObjectKey(now)
	tracing.SetAttributes(ctx,
		attribute.String("archive.bucket", a.bucket),
		attribute.String("archive.key", key),
		attribute.Int("archive.records", len(batch.Records)))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	slog.InfoContext(ctx, "archived webhook events",
		"bucket", a.bucket,
		"key", key,
		"count", len(batch.Records),
		"bytes", len(data))
	return key, nil
}
