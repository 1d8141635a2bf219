package predstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/logging"
)

// runArtifact is the object name under each run's key prefix.
const runArtifact = "predictions.jsonl"

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps each run as one JSONL object at "<run_id>/predictions.jsonl"
// in a single bucket. Run discovery derives from the key namespace; there is
// no separate registry, so listing cost grows with total object count.
type S3Store struct {
	client S3API
	bucket string
	logger *zap.Logger
}

// NewS3Store constructs a prediction store over the given bucket.
func NewS3Store(client S3API, bucket string, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, logger: logger.Named("predstore")}
}

func runKey(runID string) string {
	return runID + "/" + runArtifact
}

// ListRuns scans the bucket and collects the distinct run prefixes, newest
// first. Run ids are lexically sortable timestamps, so a descending sort
// coincides with reverse chronological order.
func (s *S3Store) ListRuns(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, logging.NewOperationError("predstore.list_runs", "", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if run, artifact, ok := strings.Cut(key, "/"); ok && artifact == runArtifact {
				seen[run] = struct{}{}
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	runs := make([]string, 0, len(seen))
	for run := range seen {
		runs = append(runs, run)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// LoadRun fetches and decodes a run artifact.
func (s *S3Store) LoadRun(ctx context.Context, runID string) ([]Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(runKey(runID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrRunNotFound
		}
		return nil, logging.NewOperationError("predstore.load_run", runID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, logging.NewOperationError("predstore.load_run", runID, err)
	}
	return DecodeRecords(data)
}

// WriteRun encodes and uploads the full record set in one put. Readers never
// observe a partial run: the object becomes visible only once the upload
// completes. A second write to the same run id replaces the artifact.
func (s *S3Store) WriteRun(ctx context.Context, runID string, records []Record) error {
	data, err := EncodeRecords(records)
	if err != nil {
		return logging.NewOperationError("predstore.write_run", runID, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(runKey(runID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return logging.NewOperationError("predstore.write_run", runID, err)
	}
	s.logger.Info("wrote run artifact",
		zap.String("run_id", runID),
		zap.Int("records", len(records)))
	return nil
}
