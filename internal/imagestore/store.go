// Package imagestore keeps meal photos in an S3-compatible bucket.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/kiranshivaraju/platewise/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when the requested image does not exist.
var ErrNotFound = errors.New("image not found")

// Prefix is the key prefix under which every image is stored.
const Prefix = "images/"

// Store reads and writes images in a single bucket.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// New connects to the object store and creates the bucket if it is missing.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: cli, bucket: cfg.Bucket, publicBaseURL: cfg.PublicBaseURL}, nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// Put uploads an image of the given size under name.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, Prefix+name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put image %s: %w", name, err)
	}
	return nil
}

// Open returns the image body and its content type. The caller closes the body.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, Prefix+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get image %s: %w", name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("stat image %s: %w", name, err)
	}
	return obj, info.ContentType, nil
}

// Remove deletes an image. Removing a missing image is not an error.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, Prefix+name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove image %s: %w", name, err)
	}
	return nil
}

// URL returns the address a browser can load the image from.
func (s *Store) URL(name string) string {
	return imageURL(s.publicBaseURL, s.client.EndpointURL(), s.bucket, name)
}

func imageURL(publicBase string, endpoint *url.URL, bucket, name string) string {
	if publicBase != "" {
		return publicBase + "/" + Prefix + url.PathEscape(name)
	}
	return fmt.Sprintf("%s://%s/%s/%s%s", endpoint.Scheme, endpoint.Host, bucket, Prefix, url.PathEscape(name))
}
