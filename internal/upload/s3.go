package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3Sink.
type S3Options struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool
}

// S3Sink puts the image and its cam.json sidecar into an S3 compatible bucket.
type S3Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Sink builds a minio client for the bucket.
func NewS3Sink(opts S3Options) (*S3Sink, error) {
	client, err := minio.New(sanitizeEndpoint(opts.Endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL || strings.HasPrefix(strings.ToLower(opts.Endpoint), "https://"),
		Region:       opts.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Sink{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Put(ctx context.Context, p Payload) (Receipt, error) {
	key := path.Join(s.prefix, p.Filename)
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(p.Image), int64(len(p.Image)), minio.PutObjectOptions{
		ContentType:      "image/jpeg",
		DisableMultipart: true,
		UserMetadata: map[string]string{
			"capture-timestamp": p.CapturedAt.UTC().Format(TimestampLayout),
			"location":          p.Location,
			"is-day":            strconv.FormatBool(p.IsDay),
		},
	})
	if err != nil {
		return Receipt{}, classifyS3(err, fmt.Errorf("put %s/%s: %w", s.bucket, key, err))
	}

	if !p.NoSidecar {
		if err := s.putSidecar(ctx, p, key); err != nil {
			return Receipt{}, err
		}
	}

	received := info.LastModified
	if received.IsZero() {
		received = time.Now()
	}
	return Receipt{
		ID:         info.ETag,
		ReceivedAt: received.UTC().Format(TimestampLayout),
		SizeBytes:  info.Size,
		Path:       key,
	}, nil
}

func (s *S3Sink) putSidecar(ctx context.Context, p Payload, imageKey string) error {
	meta, err := MarshalCamJSON(p, imageKey)
	if err != nil {
		return markTerminal(fmt.Errorf("encode %s: %w", MetadataFilename, err))
	}
	metaKey := path.Join(s.prefix, MetadataFilename)
	if _, err := s.client.PutObject(ctx, s.bucket, metaKey, bytes.NewReader(meta), int64(len(meta)), minio.PutObjectOptions{
		ContentType:      "application/json",
		DisableMultipart: true,
	}); err != nil {
		return classifyS3(err, fmt.Errorf("put %s/%s: %w", s.bucket, metaKey, err))
	}
	return nil
}

// classifyS3 treats S3 4xx responses other than 429 as terminal. raw must be
// the unwrapped minio error.
func classifyS3(raw, wrapped error) error {
	code := minio.ToErrorResponse(raw).StatusCode
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return markTerminal(wrapped)
	}
	return wrapped
}

// sanitizeEndpoint strips scheme and path, which minio.New does not accept.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
