// Package query serves filtered triage views over stored prediction runs.
// Records are never mutated here, only filtered in their stored order.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/labels"
	"github.com/example/pic-triage/internal/logging"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/triage"
)

// LabelSource supplies stored review labels for overlay joins.
type LabelSource interface {
	ListByRun(ctx context.Context, runID string) (map[string]labels.Label, error)
}

// Service answers run and prediction queries. Loaded run artifacts pass
// through a best-effort Redis cache; a cache failure falls back to the
// prediction store.
type Service struct {
	store      predstore.Store
	labels     LabelSource
	cache      Cache
	thresholds triage.Thresholds
	logger     *zap.Logger
	cacheTTL   time.Duration
}

// NewService constructs the query service.
func NewService(store predstore.Store, labelSource LabelSource, cache Cache, thresholds triage.Thresholds, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		labels:     labelSource,
		cache:      cache,
		thresholds: thresholds,
		logger:     logger.Named("query"),
		cacheTTL:   5 * time.Minute,
	}
}

// Result is one filtered view over a run.
type Result struct {
	RunID string             `json:"run_id"`
	Count int                `json:"count"`
	Items []predstore.Record `json:"items"`
}

// ReconciledRecord is a prediction record with its human label overlaid,
// when one exists.
type ReconciledRecord struct {
	predstore.Record
	Expected string `json:"expected,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ReconciledResult is a filtered view with labels joined in.
type ReconciledResult struct {
	RunID string             `json:"run_id"`
	Count int                `json:"count"`
	Items []ReconciledRecord `json:"items"`
}

// Summary aggregates one run's records into per-bucket counts.
type Summary struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Confident int    `json:"confident"`
	Uncertain int    `json:"uncertain"`
	Human     int    `json:"human"`
	Avatar    int    `json:"avatar"`
	Other     int    `json:"other"`
	None      int    `json:"none"`
}

// Runs lists every known run id, most recent first. No runs is an empty,
// non-error result.
func (s *Service) Runs(ctx context.Context) ([]string, error) {
	return s.store.ListRuns(ctx)
}

// Predictions returns the records of a run matching the requested view, in
// stored order. An empty runID selects the most recent run; with no runs at
// all the result is empty rather than an error. An explicit unknown runID
// surfaces predstore.ErrRunNotFound.
func (s *Service) Predictions(ctx context.Context, runID string, view triage.View) (*Result, error) {
	runID, records, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return &Result{Items: []predstore.Record{}}, nil
	}

	items := make([]predstore.Record, 0, len(records))
	for _, rec := range records {
		if s.thresholds.Matches(rec.Probs, view) {
			items = append(items, rec)
		}
	}
	return &Result{RunID: runID, Count: len(items), Items: items}, nil
}

// Reconciled behaves like Predictions but joins stored labels onto the
// filtered records: a record carries its label's expected category and notes
// when a label exists for the (run, subject) key.
func (s *Service) Reconciled(ctx context.Context, runID string, view triage.View) (*ReconciledResult, error) {
	result, err := s.Predictions(ctx, runID, view)
	if err != nil {
		return nil, err
	}
	if result.RunID == "" {
		return &ReconciledResult{Items: []ReconciledRecord{}}, nil
	}

	overlay, err := s.labels.ListByRun(ctx, result.RunID)
	if err != nil {
		return nil, err
	}

	items := make([]ReconciledRecord, 0, len(result.Items))
	for _, rec := range result.Items {
		joined := ReconciledRecord{Record: rec}
		if label, ok := overlay[rec.SubjectID]; ok {
			joined.Expected = label.Expected
			joined.Notes = label.Notes
		}
		items = append(items, joined)
	}
	return &ReconciledResult{RunID: result.RunID, Count: len(items), Items: items}, nil
}

// Summarize counts a run's records per triage bucket.
func (s *Service) Summarize(ctx context.Context, runID string) (*Summary, error) {
	runID, records, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return &Summary{}, nil
	}

	summary := &Summary{RunID: runID, Total: len(records)}
	for _, rec := range records {
		if s.thresholds.Matches(rec.Probs, triage.ViewConfident) {
			summary.Confident++
		}
		if s.thresholds.Matches(rec.Probs, triage.ViewUncertain) {
			summary.Uncertain++
		}
		switch triage.TopCategory(rec.Probs) {
		case "human":
			summary.Human++
		case "avatar":
			summary.Avatar++
		case "other":
			summary.Other++
		case "none":
			summary.None++
		}
	}
	return summary, nil
}

// resolveRun picks the requested or most recent run and loads its records.
// Returns an empty run id when no runs exist and none was requested.
func (s *Service) resolveRun(ctx context.Context, runID string) (string, []predstore.Record, error) {
	if runID == "" {
		runs, err := s.store.ListRuns(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(runs) == 0 {
			return "", nil, nil
		}
		runID = runs[0]
	}
	records, err := s.loadRun(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	return runID, records, nil
}

// loadRun reads a run through the cache. Cache errors degrade to a store
// load; they are logged, never surfaced.
func (s *Service) loadRun(ctx context.Context, runID string) ([]predstore.Record, error) {
	cacheKey := fmt.Sprintf("run:%s", runID)
	opLogger := logging.WithOperation(s.logger, "query.load_run", runID)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			var records []predstore.Record
			if err := json.Unmarshal([]byte(cached), &records); err != nil {
				opLogger.Warn("failed to decode cached run", zap.Error(err))
			} else {
				return records, nil
			}
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read run cache", zap.Error(err))
		}
	}

	records, err := s.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if serialized, err := json.Marshal(records); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(serialized), s.cacheTTL); err != nil {
				opLogger.Warn("failed to cache run", zap.Error(err))
			}
		}
	}
	return records, nil
}
