package predstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/classifier"
)

// fakeS3 keeps objects in memory and pages List results to exercise the
// continuation token loop.
type fakeS3 struct {
	objects  map[string][]byte
	pageSize int
	keys     []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) put(key string, data []byte) {
	if _, exists := f.objects[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.objects[key] = data
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.put(aws.ToString(params.Key), data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := 0
	if params.ContinuationToken != nil {
		for i, key := range f.keys {
			if key == aws.ToString(params.ContinuationToken) {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	if end > len(f.keys) {
		end = len(f.keys)
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if end < len(f.keys) {
		out.NextContinuationToken = aws.String(f.keys[end])
	}
	return out, nil
}

func sampleRecords(runID string) []Record {
	return []Record{
		{RunID: runID, SubjectID: "u1", DisplayName: "One", Probs: classifier.Distribution{Human: 0.97, Avatar: 0.02, Other: 0.01}},
		{RunID: runID, SubjectID: "u2", Probs: classifier.Distribution{None: 1}},
	}
}

func TestWriteThenLoadRun(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "predictions", zap.NewNop())
	ctx := context.Background()

	want := sampleRecords("20260101T000000Z")
	if err := store.WriteRun(ctx, "20260101T000000Z", want); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}

	got, err := store.LoadRun(ctx, "20260101T000000Z")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Repeated reads of a written run are stable.
	again, err := store.LoadRun(ctx, "20260101T000000Z")
	if err != nil {
		t.Fatalf("second LoadRun: %v", err)
	}
	if len(again) != len(got) {
		t.Fatalf("second load returned %d records, want %d", len(again), len(got))
	}
}

func TestWriteRunOverwritesExisting(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "predictions", zap.NewNop())
	ctx := context.Background()

	if err := store.WriteRun(ctx, "r1", sampleRecords("r1")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	replacement := []Record{{RunID: "r1", SubjectID: "u9", Probs: classifier.Distribution{None: 1}}}
	if err := store.WriteRun(ctx, "r1", replacement); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := store.LoadRun(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(got) != 1 || got[0].SubjectID != "u9" {
		t.Fatalf("expected replacement content, got %+v", got)
	}
}

func TestLoadRunNotFound(t *testing.T) {
	store := NewS3Store(newFakeS3(), "predictions", zap.NewNop())
	_, err := store.LoadRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "predictions", zap.NewNop())
	ctx := context.Background()

	for _, runID := range []string{"20260101T000000Z", "20260301T000000Z", "20260201T000000Z"} {
		if err := store.WriteRun(ctx, runID, sampleRecords(runID)); err != nil {
			t.Fatalf("WriteRun %s: %v", runID, err)
		}
	}
	// Stray objects without the run artifact shape are ignored.
	fake.put("garbage.txt", []byte("x"))
	fake.put("r9/other.json", []byte("x"))

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	want := []string{"20260301T000000Z", "20260201T000000Z", "20260101T000000Z"}
	if len(runs) != len(want) {
		t.Fatalf("got %d runs %v, want %v", len(runs), runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Fatalf("runs = %v, want %v", runs, want)
		}
	}
}

func TestListRunsEmptyBucket(t *testing.T) {
	store := NewS3Store(newFakeS3(), "predictions", zap.NewNop())
	runs, err := store.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns on empty bucket must not error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %v", runs)
	}
}

func TestDecodeRecordsSkipsBlankLines(t *testing.T) {
	data, err := EncodeRecords(sampleRecords("r1"))
	if err != nil {
		t.Fatalf("EncodeRecords: %v", err)
	}
	withBlanks := append([]byte("\n"), data...)
	withBlanks = append(withBlanks, '\n')

	records, err := DecodeRecords(withBlanks)
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}
