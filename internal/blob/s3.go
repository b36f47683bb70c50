package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection settings of an S3-compatible backend.
type S3Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	UseSSL       bool
	CreateBucket bool
}

// S3Store keeps objects in one bucket of an S3-compatible service.
type S3Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store connects to the endpoint and checks the bucket exists,
// creating it when CreateBucket is set.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}

	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created S3 bucket", slog.String("bucket", cfg.Bucket))
	}

	logger.Info("Connected to S3 storage",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *S3Store) WriteStaged(ctx context.Context, name string, r io.Reader) (StagedObject, error) {
	key := StagingKey(name)

	contentType := mime.TypeByExtension(Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return StagedObject{}, fmt.Errorf("failed to stage %s: %w", name, s.classify(err, key))
	}

	return StagedObject{Key: key, Size: info.Size}, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}

	obj, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, s.classify(err, key)
	}

	return Info{Key: key, Size: obj.Size, ModTime: obj.LastModified}, nil
}

// Move copies server-side then removes the source. A copy is visible at
// the destination only once complete.
func (s *S3Store) Move(ctx context.Context, from, to string) error {
	if err := validateKey(from); err != nil {
		return err
	}
	if err := validateKey(to); err != nil {
		return err
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from},
	)
	if err != nil {
		err = s.classify(err, from)
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
		}
		if _, statErr := s.Stat(ctx, to); statErr == nil {
			return nil
		}
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, from, minio.RemoveObjectOptions{}); err != nil {
		// The object is already at its destination; a leftover staged copy
		// is harmless.
		s.logger.Warn("Failed to remove staged object after copy",
			slog.String("key", from),
			slog.Any("error", err),
		)
	}

	return nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(err, key)
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		err = s.classify(err, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (s *S3Store) classify(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s: %v", ErrPermission, key, err)
	case "InvalidObjectName", "KeyTooLongError":
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	default:
		return fmt.Errorf("blob %s: %w", key, err)
	}
}
