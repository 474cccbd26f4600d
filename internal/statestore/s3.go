package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the minimal S3 interface required by the s3 driver.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Store keeps conversation state records as JSON objects in one bucket.
type S3Store struct {
	api    s3API
	bucket string
}

func newS3Store(api s3API, bucket string) (*S3Store, error) {
	if api == nil || strings.TrimSpace(bucket) == "" {
		return nil, ErrInvalidConfig
	}
	return &S3Store{api: api, bucket: bucket}, nil
}

// Get fetches the object at key. A missing object is reported as ok=false.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("statestore: s3 get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("statestore: s3 read %q: %w", key, err)
	}
	return data, true, nil
}

// Put overwrites the object at key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("statestore: s3 put %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("statestore: s3 head bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Restore attempts to recreate the bucket. An already-existing bucket is not
// an error, so Restore is safe to call whenever Ping fails.
func (s *S3Store) Restore(ctx context.Context) error {
	_, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("statestore: s3 create bucket %q: %w", s.bucket, err)
	}
	return nil
}
