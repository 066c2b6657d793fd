// Package storage writes annotation results to an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/goliatone/go-oracle/core"
)

// ResultsPrefix is <escrow>@<chain>/ and scopes every object of one escrow.
func ResultsPrefix(escrowAddress string, chainID int64) string {
	return fmt.Sprintf("%s@%d/", escrowAddress, chainID)
}

// ResultsKey is <escrow>@<chain>/<file>.
func ResultsKey(escrowAddress string, chainID int64, file string) string {
	return ResultsPrefix(escrowAddress, chainID) + strings.TrimLeft(file, "/")
}

type Bucket struct {
	client *minio.Client
	bucket string
}

func NewBucket(cfg core.StorageConfig) (*Bucket, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage: endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: new minio client: %w", err)
	}
	return &Bucket{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (b *Bucket) EnsureBucket(ctx context.Context, region string) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return core.NewExternalResourceError("storage bucket", err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return core.NewExternalResourceError("storage bucket", err)
	}
	return nil
}

func (b *Bucket) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return core.NewExternalResourceError("storage object", err)
	}
	return nil
}

func (b *Bucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	for object := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, core.NewExternalResourceError("storage listing", object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (b *Bucket) RemoveObjects(ctx context.Context, prefix string) error {
	keys, err := b.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return core.NewExternalResourceError("storage object", err)
		}
	}
	return nil
}

var _ core.ResultsStorage = (*Bucket)(nil)
