// Package imagecache mirrors fetched profile photos into object storage so
// the API can serve them without a directory round trip. Writes are
// best-effort: callers on the classification path never fail because a
// cache write failed.
package imagecache

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ErrNotCached signals a cache miss.
var ErrNotCached = errors.New("photo not cached")

// Cache stores photo bytes keyed by subject id.
type Cache interface {
	// Put stores a subject's photo, overwriting any prior copy.
	Put(ctx context.Context, subjectID string, photo []byte) error
	// Get returns the cached photo bytes, or ErrNotCached.
	Get(ctx context.Context, subjectID string) ([]byte, error)
}

// S3API is the subset of the S3 client the cache uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Cache keeps one object per subject at "<subject_id>.jpg".
type S3Cache struct {
	client S3API
	bucket string
	logger *zap.Logger
}

// NewS3Cache constructs a photo cache over the given bucket.
func NewS3Cache(client S3API, bucket string, logger *zap.Logger) *S3Cache {
	return &S3Cache{client: client, bucket: bucket, logger: logger.Named("imagecache")}
}

func photoKey(subjectID string) string {
	return subjectID + ".jpg"
}

// Put uploads the photo bytes for a subject.
func (c *S3Cache) Put(ctx context.Context, subjectID string, photo []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(photoKey(subjectID)),
		Body:        bytes.NewReader(photo),
		ContentType: aws.String("image/jpeg"),
	})
	return err
}

// Get downloads the cached photo bytes for a subject.
func (c *S3Cache) Get(ctx context.Context, subjectID string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(photoKey(subjectID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotCached
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
