package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rentledger/internal/app/policies"
)

// Archive stores verified gateway notifications in an S3-compatible bucket, one object per
// event id. The bucket stays private.
type Archive struct {
	bucket string
	client *minio.Client
	logger *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	ready bool
}

// NewArchive configures the archive using the provided endpoint and credentials.
func NewArchive(endpoint string, useSSL bool, accessKey, secretKey, bucket string, logger *slog.Logger) (*Archive, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), opts)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Archive{bucket: bucket, client: minioClient, logger: logger, clock: time.Now}, nil
}

// Store writes the payload under webhooks/<yyyy>/<mm>/<dd>/<eventID>.json. Rewriting the same
// event id overwrites the object with identical content.
func (a *Archive) Store(ctx context.Context, eventID string, payload []byte) error {
	key, err := objectKey(eventID, a.clock())
	if err != nil {
		return err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"event-id": eventID},
	})
	if err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	if a.logger != nil {
		a.logger.Debug("webhook archived", "bucket", a.bucket, "key", key)
	}
	return nil
}

// ensureBucket creates the bucket on first use; a failed check is retried on the next call.
func (a *Archive) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("s3: check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("s3: create bucket: %w", err)
		}
	}
	a.ready = true
	return nil
}

func objectKey(eventID string, at time.Time) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" || strings.ContainsAny(eventID, `/\`) {
		return "", fmt.Errorf("s3: invalid event id %q", eventID)
	}
	at = at.UTC()
	return path.Join("webhooks", at.Format("2006"), at.Format("01"), at.Format("02"), eventID+".json"), nil
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ policies.EventArchive = (*Archive)(nil)
