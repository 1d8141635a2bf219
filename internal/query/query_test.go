package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/classifier"
	"github.com/example/pic-triage/internal/labels"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/triage"
)

type stubStore struct {
	runs      []string
	records   map[string][]predstore.Record
	loadCalls int
}

func (s *stubStore) ListRuns(ctx context.Context) ([]string, error) {
	return s.runs, nil
}

func (s *stubStore) LoadRun(ctx context.Context, runID string) ([]predstore.Record, error) {
	s.loadCalls++
	records, ok := s.records[runID]
	if !ok {
		return nil, predstore.ErrRunNotFound
	}
	return records, nil
}

func (s *stubStore) WriteRun(ctx context.Context, runID string, records []predstore.Record) error {
	return errors.New("read-only stub")
}

type stubLabelSource struct {
	byRun map[string]map[string]labels.Label
}

func (s *stubLabelSource) ListByRun(ctx context.Context, runID string) (map[string]labels.Label, error) {
	if overlay, ok := s.byRun[runID]; ok {
		return overlay, nil
	}
	return map[string]labels.Label{}, nil
}

type stubCache struct {
	values map[string]string
	getErr error
	sets   map[string]string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.sets == nil {
		s.sets = make(map[string]string)
	}
	s.sets[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", redis.Nil
}

func testRecords(runID string) []predstore.Record {
	return []predstore.Record{
		{RunID: runID, SubjectID: "u1", Probs: classifier.Distribution{Human: 0.97, Avatar: 0.02, Other: 0.01}},
		{RunID: runID, SubjectID: "u2", Probs: classifier.Distribution{None: 1}},
		{RunID: runID, SubjectID: "u3", Probs: classifier.Distribution{Human: 0.80, Avatar: 0.15, Other: 0.05}},
	}
}

func newTestService(store *stubStore, labelSource LabelSource, cache Cache) *Service {
	if labelSource == nil {
		labelSource = &stubLabelSource{}
	}
	return NewService(store, labelSource, cache, triage.DefaultThresholds(), zap.NewNop())
}

func TestPredictionsNoRunsIsEmptyNotError(t *testing.T) {
	svc := newTestService(&stubStore{}, nil, &stubCache{})

	result, err := svc.Predictions(context.Background(), "", triage.ViewAll)
	if err != nil {
		t.Fatalf("expected empty result, got error: %v", err)
	}
	if result.RunID != "" || result.Count != 0 || len(result.Items) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestPredictionsDefaultsToMostRecentRun(t *testing.T) {
	store := &stubStore{
		runs: []string{"r2", "r1"},
		records: map[string][]predstore.Record{
			"r1": testRecords("r1"),
			"r2": testRecords("r2"),
		},
	}
	svc := newTestService(store, nil, &stubCache{})

	result, err := svc.Predictions(context.Background(), "", triage.ViewAll)
	if err != nil {
		t.Fatalf("Predictions: %v", err)
	}
	if result.RunID != "r2" {
		t.Fatalf("run id = %q, want most recent r2", result.RunID)
	}
	if result.Count != 3 {
		t.Fatalf("count = %d, want 3", result.Count)
	}
}

func TestPredictionsTriageViews(t *testing.T) {
	store := &stubStore{
		runs:    []string{"r1"},
		records: map[string][]predstore.Record{"r1": testRecords("r1")},
	}
	svc := newTestService(store, nil, &stubCache{})
	ctx := context.Background()

	confident, err := svc.Predictions(ctx, "r1", triage.ViewConfident)
	if err != nil {
		t.Fatalf("confident view: %v", err)
	}
	// u1 (0.97) and u2 (none at 1.0) clear MIN_CONF; u3 (0.80) does not.
	if confident.Count != 2 || confident.Items[0].SubjectID != "u1" || confident.Items[1].SubjectID != "u2" {
		t.Fatalf("confident view = %+v", confident)
	}

	none, err := svc.Predictions(ctx, "r1", triage.ViewNone)
	if err != nil {
		t.Fatalf("none view: %v", err)
	}
	if none.Count != 1 || none.Items[0].SubjectID != "u2" {
		t.Fatalf("none view = %+v", none)
	}

	// The 0.80 record sits in the deliberate gap between LOW_CONF and
	// MIN_CONF: visible in all, absent from confident and uncertain.
	all, err := svc.Predictions(ctx, "r1", triage.ViewAll)
	if err != nil {
		t.Fatalf("all view: %v", err)
	}
	if all.Count != 3 {
		t.Fatalf("all view count = %d, want 3", all.Count)
	}
	uncertain, err := svc.Predictions(ctx, "r1", triage.ViewUncertain)
	if err != nil {
		t.Fatalf("uncertain view: %v", err)
	}
	for _, item := range uncertain.Items {
		if item.SubjectID == "u3" {
			t.Fatal("0.80 record must not appear in uncertain view")
		}
	}
	for _, item := range confident.Items {
		if item.SubjectID == "u3" {
			t.Fatal("0.80 record must not appear in confident view")
		}
	}
}

func TestPredictionsUnknownRunSurfacesNotFound(t *testing.T) {
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": testRecords("r1")}}
	svc := newTestService(store, nil, &stubCache{})

	_, err := svc.Predictions(context.Background(), "missing", triage.ViewAll)
	if !errors.Is(err, predstore.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestReconciledOverlaysLabels(t *testing.T) {
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": testRecords("r1")}}
	labelSource := &stubLabelSource{byRun: map[string]map[string]labels.Label{
		"r1": {
			"u1": {RunID: "r1", SubjectID: "u1", Expected: "avatar", Notes: "corrected"},
		},
	}}
	svc := newTestService(store, labelSource, &stubCache{})

	result, err := svc.Reconciled(context.Background(), "r1", triage.ViewAll)
	if err != nil {
		t.Fatalf("Reconciled: %v", err)
	}
	if result.Items[0].Expected != "avatar" || result.Items[0].Notes != "corrected" {
		t.Fatalf("expected label overlay on u1, got %+v", result.Items[0])
	}
	if result.Items[1].Expected != "" {
		t.Fatalf("u2 has no label, got overlay %+v", result.Items[1])
	}
}

func TestSummarizeCountsBuckets(t *testing.T) {
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": testRecords("r1")}}
	svc := newTestService(store, nil, &stubCache{})

	summary, err := svc.Summarize(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Total != 3 || summary.Confident != 2 || summary.Uncertain != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Human != 2 || summary.None != 1 || summary.Avatar != 0 || summary.Other != 0 {
		t.Fatalf("per-category counts wrong: %+v", summary)
	}
}

func TestLoadRunUsesCacheHit(t *testing.T) {
	records := testRecords("r1")
	serialized, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": records}}
	cache := &stubCache{values: map[string]string{"run:r1": string(serialized)}}
	svc := newTestService(store, nil, cache)

	result, err := svc.Predictions(context.Background(), "r1", triage.ViewAll)
	if err != nil {
		t.Fatalf("Predictions: %v", err)
	}
	if result.Count != 3 {
		t.Fatalf("count = %d, want 3", result.Count)
	}
	if store.loadCalls != 0 {
		t.Fatalf("cache hit should bypass the store, got %d loads", store.loadCalls)
	}
}

func TestLoadRunCacheFailureDegradesToStore(t *testing.T) {
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": testRecords("r1")}}
	cache := &stubCache{getErr: errors.New("redis down")}
	svc := newTestService(store, nil, cache)

	result, err := svc.Predictions(context.Background(), "r1", triage.ViewAll)
	if err != nil {
		t.Fatalf("cache failure must degrade to the store: %v", err)
	}
	if result.Count != 3 || store.loadCalls != 1 {
		t.Fatalf("expected store load, got count=%d loads=%d", result.Count, store.loadCalls)
	}
}

func TestLoadRunPopulatesCache(t *testing.T) {
	store := &stubStore{runs: []string{"r1"}, records: map[string][]predstore.Record{"r1": testRecords("r1")}}
	cache := &stubCache{}
	svc := newTestService(store, nil, cache)

	if _, err := svc.Predictions(context.Background(), "r1", triage.ViewAll); err != nil {
		t.Fatalf("Predictions: %v", err)
	}
	if _, ok := cache.sets["run:r1"]; !ok {
		t.Fatal("expected loaded run to be written to the cache")
	}
}
