package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store keeps specimen images and raw detector artifacts in a MinIO
// (S3-compatible) bucket.
type Store struct {
	client       *minio.Client
	bucketName   string
	region       string
	publicBucket bool
	presignTTL   time.Duration
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL, publicBucket bool, presignTTL time.Duration) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Store{
		client:       cli,
		bucketName:   bucket,
		region:       region,
		publicBucket: publicBucket,
		presignTTL:   presignTTL,
	}, nil
}

// Put streams an image into the bucket and returns a URL the detector
// can fetch. Public buckets get the plain object URL; private ones get
// a presigned GET.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeByExt(key)
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return s.objectURL(ctx, key)
}

// PutArtifact stores a small blob (raw detector output) under key.
func (s *Store) PutArtifact(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PresignedURL issues a fresh presigned GET for the object.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.presignTTL, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Healthy reports whether the bucket is reachable.
func (s *Store) Healthy(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// Remove deletes the object; missing objects are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
}

func (s *Store) objectURL(ctx context.Context, key string) (string, error) {
	if s.publicBucket {
		scheme := "http"
		if s.client.EndpointURL().Scheme == "https" {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucketName, key), nil
	}
	return s.PresignedURL(ctx, key)
}

func contentTypeByExt(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
