package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"gatekeeper/core"
	"gatekeeper/metrics"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"
)

// ErrInvalidS3URL is returned for urls that do not name a bucket and key
var ErrInvalidS3URL = errors.New("invalid s3 url")

// S3Config configures the client used to fetch S3-mode results
type S3Config struct {
	Region   string
	Endpoint string
}

// NewS3Client creates an S3 client from the default credential chain
func NewS3Client(cfg S3Config) (s3iface.S3API, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// ParseS3URL splits s3://bucket/key into its parts
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidS3URL, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: scheme %q", ErrInvalidS3URL, u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidS3URL, raw)
	}
	return bucket, key, nil
}

// S3Resolver turns an ExecutionResult of any mode into its execution outputs,
// fetching the payload from S3 when the executor wrote it there.
type S3Resolver struct {
	client   s3iface.S3API
	logger   *zap.SugaredLogger
	maxBytes int64
}

// NewS3Resolver creates a resolver; maxBytes <= 0 uses DefaultMaxPayloadBytes
func NewS3Resolver(client s3iface.S3API, maxBytes int64, logger *zap.SugaredLogger) *S3Resolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	return &S3Resolver{client: client, logger: logger, maxBytes: maxBytes}
}

// Resolve returns the outputs carried by result. INLINE returns the embedded
// data, NONE returns nothing, S3 downloads and decodes the referenced object.
func (r *S3Resolver) Resolve(ctx context.Context, result *core.ExecutionResult) ([]core.ExecutionOutput, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}

	switch result.OutputMode {
	case core.ModeInline:
		return result.Data, nil
	case core.ModeNone:
		return nil, nil
	}

	if r.client == nil {
		return nil, errors.New("S3 output mode requires an S3 client")
	}
	bucket, key, err := ParseS3URL(*result.URL)
	if err != nil {
		return nil, err
	}

	obj, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.IngestFailures.WithLabelValues("s3").Inc()
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(io.LimitReader(obj.Body, r.maxBytes+1))
	if err != nil {
		metrics.IngestFailures.WithLabelValues("s3").Inc()
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}

	codec := CodecForKey(key)
	if ct := aws.StringValue(obj.ContentType); ct != "" && codec == CodecJSON {
		codec = CodecForContentType(ct)
	}

	outputs, err := DecodeOutputs(data, codec, r.maxBytes)
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Resolved %d execution outputs from s3://%s/%s", len(outputs), bucket, key)
	return outputs, nil
}
