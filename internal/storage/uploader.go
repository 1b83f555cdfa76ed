// Package storage stages task input images to S3-compatible object storage
// so the remote generation service can fetch them by URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dollforge/internal/model"
)

const (
	uploadAttempts = 3
	uploadDelay    = 2 * time.Second
)

// ErrMissingCredentials is returned when the object-storage settings are
// incomplete. No network I/O is attempted in that case.
var ErrMissingCredentials = errors.New("object storage credentials are not configured")

// putter uploads one local file to a bucket under the given key.
type putter interface {
	Put(ctx context.Context, bucket, key, localPath string) error
}

type minioPutter struct {
	client *minio.Client
}

func (p *minioPutter) Put(ctx context.Context, bucket, key, localPath string) error {
	_, err := p.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{})
	return err
}

func dialMinio(st model.StorageSettings) (putter, error) {
	client, err := minio.New(st.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(st.AccessKey, st.SecretKey, ""),
		Secure: st.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	return &minioPutter{client: client}, nil
}

// Client stages local input files to an object-storage bucket. Transient
// upload failures are retried a fixed number of times per file.
type Client struct {
	attempts int
	delay    time.Duration
	dial     func(model.StorageSettings) (putter, error)
}

// NewClient creates a transfer client with the documented retry policy.
func NewClient() *Client {
	return &Client{
		attempts: uploadAttempts,
		delay:    uploadDelay,
		dial:     dialMinio,
	}
}

// Upload stages each image under a deterministic key (folder/basename) and
// returns the publicly resolvable links in input order. Each attempt is
// reported through logf. Exhausting the retries for any file fails the
// whole upload with an error naming that file.
func (c *Client) Upload(ctx context.Context, images []model.ImageRef, st model.StorageSettings, logf func(format string, args ...any)) ([]string, error) {
	if st.Endpoint == "" || st.Bucket == "" || st.AccessKey == "" || st.SecretKey == "" {
		return nil, ErrMissingCredentials
	}

	client, err := c.dial(st)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, len(images))
	for _, img := range images {
		name := filepath.Base(img.Path)
		key := path.Join(st.Folder, name)

		if err := c.putWithRetry(ctx, client, st.Bucket, key, img.Path, name, logf); err != nil {
			return nil, err
		}

		logf("uploaded %s", name)
		links = append(links, publicURL(st, key))
	}
	return links, nil
}

func (c *Client) putWithRetry(ctx context.Context, client putter, bucket, key, localPath, name string, logf func(string, ...any)) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		logf("uploading %s (attempt %d/%d)", name, attempt, c.attempts)

		lastErr = client.Put(ctx, bucket, key, localPath)
		if lastErr == nil {
			return nil
		}

		logf("upload attempt %d/%d failed for %s: %v", attempt, c.attempts, name, lastErr)
		if attempt < c.attempts {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return fmt.Errorf("upload %s: %w", name, ctx.Err())
			}
		}
	}
	return fmt.Errorf("upload %s: %w", name, lastErr)
}

// publicURL builds the externally resolvable link for an uploaded key.
// PublicBase (e.g. a CDN domain) wins over the raw endpoint form.
func publicURL(st model.StorageSettings, key string) string {
	if st.PublicBase != "" {
		return strings.TrimSuffix(st.PublicBase, "/") + "/" + key
	}
	scheme := "http"
	if st.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, st.Endpoint, st.Bucket, key)
}
