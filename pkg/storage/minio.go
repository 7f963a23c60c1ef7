package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"policy-rag-go/internal/config"
	"policy-rag-go/pkg/log"
)

// MinioStore keeps blobs as objects {docID}/{name} in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	log.Info("MinIO client initialized")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket: %w", err)
	}
	if !exists {
		log.Infof("bucket '%s' does not exist, creating it", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.BucketName}, nil
}

func (s *MinioStore) Write(ctx context.Context, docID, name string, data []byte) error {
	if err := ValidateKey(docID, name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(docID, name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey(docID, name), err)
	}
	return nil
}

func (s *MinioStore) Read(ctx context.Context, docID, name string) ([]byte, error) {
	if err := ValidateKey(docID, name); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(docID, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(docID, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(docID, name, err)
	}
	return data, nil
}

// PresignedURL returns a time-limited download link for a blob.
func (s *MinioStore) PresignedURL(ctx context.Context, docID, name string, expiry time.Duration) (string, error) {
	if err := ValidateKey(docID, name); err != nil {
		return "", err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, objectKey(docID, name), minio.StatObjectOptions{}); err != nil {
		return "", s.mapErr(docID, name, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(docID, name), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey(docID, name), err)
	}
	return u.String(), nil
}

func (s *MinioStore) mapErr(docID, name string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("get object %s: %w", objectKey(docID, name), err)
}
