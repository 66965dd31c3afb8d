package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lebrely/storage")

// Sentinel errors for storage operations
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrNetworkError   = errors.New("network error")
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	// CreateBucket creates a missing bucket instead of failing (local dev and tests)
	CreateBucket bool
}

// Enabled reports whether enough is configured to build a client
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// Object is a downloaded object with its content type
type Object struct {
	Data        []byte
	ContentType string
}

// S3Storage handles object storage operations
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage creates a new S3/MinIO storage client
func NewS3Storage(ctx context.Context, config S3Config) (*S3Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if !config.CreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist: create it before starting the server", config.BucketName)
		}
		if err := client.MakeBucket(ctx, config.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", config.BucketName, err)
		}
	}

	return &S3Storage{
		client: client,
		bucket: config.BucketName,
	}, nil
}

// AvatarKey returns the object key for a user's avatar
func AvatarKey(userID int64, ext string) string {
	return fmt.Sprintf("avatars/%d/avatar%s", userID, ext)
}

// Upload stores data under key
func (s *S3Storage) Upload(ctx context.Context, key, contentType string, data []byte) error {
	ctx, span := tracer.Start(ctx, "storage.upload",
		trace.WithAttributes(
			attribute.String("storage.key", key),
			attribute.Int("file.size", len(data)),
		))
	defer span.End()

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "upload")
	}
	return nil
}

// Download retrieves an object from S3/MinIO
func (s *S3Storage) Download(ctx context.Context, key string) (*Object, error) {
	ctx, span := tracer.Start(ctx, "storage.download",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}

	span.SetAttributes(attribute.Int("file.size", len(data)))
	return &Object{Data: data, ContentType: info.ContentType}, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "storage.delete",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "delete")
	}
	return nil
}

// classifyStorageError maps MinIO and transport errors to sentinel errors
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, hint := range []string{"connection", "timeout", "network", "dial", "refused"} {
		if strings.Contains(errStr, hint) {
			return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
		}
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}
