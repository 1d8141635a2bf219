// Package runner orchestrates one batch classification pass: enumerate
// subjects, fetch and classify photos, and persist the resulting run as a
// single immutable artifact.
package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/classifier"
	"github.com/example/pic-triage/internal/directory"
	"github.com/example/pic-triage/internal/imagecache"
	"github.com/example/pic-triage/internal/logging"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/preprocess"
)

// runIDLayout formats run ids as lexically sortable UTC timestamps.
const runIDLayout = "20060102T150405Z"

// Builder assembles prediction runs. Any non-"no photo" fetch failure or
// inference failure aborts the whole run; a run either materializes
// completely or not at all.
type Builder struct {
	dir    directory.Directory
	model  classifier.Model
	store  predstore.Store
	cache  imagecache.Cache
	logger *zap.Logger
	limit  int
	now    func() time.Time
}

// NewBuilder constructs a run builder. limit caps the number of subjects
// processed per run; zero means unlimited.
func NewBuilder(dir directory.Directory, model classifier.Model, store predstore.Store, cache imagecache.Cache, limit int, logger *zap.Logger) *Builder {
	return &Builder{
		dir:    dir,
		model:  model,
		store:  store,
		cache:  cache,
		logger: logger.Named("runner"),
		limit:  limit,
		now:    time.Now,
	}
}

// BuildRun executes one batch pass and persists the result. An empty runID
// defaults to the current UTC timestamp. Returns the written records.
func (b *Builder) BuildRun(ctx context.Context, runID string) ([]predstore.Record, error) {
	if runID == "" {
		runID = b.now().UTC().Format(runIDLayout)
	}
	opLogger := logging.WithOperation(b.logger, "runner.build_run", runID)

	subjects, err := b.dir.ListSubjects(ctx)
	if err != nil {
		return nil, logging.NewOperationError("runner.list_subjects", runID, err)
	}
	if b.limit > 0 && len(subjects) > b.limit {
		subjects = subjects[:b.limit]
	}
	opLogger.Info("starting run", zap.Int("subjects", len(subjects)))

	records := make([]predstore.Record, 0, len(subjects))
	for _, subject := range subjects {
		probs, err := b.classifySubject(ctx, opLogger, subject)
		if err != nil {
			return nil, logging.NewOperationError("runner.classify_subject", subject.ID, err)
		}
		records = append(records, predstore.Record{
			RunID:         runID,
			SubjectID:     subject.ID,
			DisplayName:   subject.DisplayName,
			PrincipalName: subject.PrincipalName,
			Probs:         probs,
		})
	}

	if err := b.store.WriteRun(ctx, runID, records); err != nil {
		return nil, logging.NewOperationError("runner.write_run", runID, err)
	}
	opLogger.Info("run complete", zap.Int("records", len(records)))
	return records, nil
}

// classifySubject produces the probability distribution for one subject.
// Missing photos and undecodable photos both yield the synthesized "none"
// distribution; classification is bypassed for them.
func (b *Builder) classifySubject(ctx context.Context, opLogger *zap.Logger, subject directory.Subject) (classifier.Distribution, error) {
	photo, err := b.dir.FetchPhoto(ctx, subject.ID)
	if errors.Is(err, directory.ErrNoPhoto) {
		return classifier.NoPhotoDistribution(), nil
	}
	if err != nil {
		return classifier.Distribution{}, err
	}

	// Mirror the photo into the cache. Best effort: a cache failure never
	// fails the subject's classification.
	if cacheErr := b.cache.Put(ctx, subject.ID, photo); cacheErr != nil {
		opLogger.Warn("photo cache write failed",
			zap.String("subject_id", subject.ID), zap.Error(cacheErr))
	}

	input, err := preprocess.Preprocess(photo)
	if err != nil {
		var decodeErr *preprocess.DecodeError
		if errors.As(err, &decodeErr) {
			opLogger.Warn("undecodable photo treated as none",
				zap.String("subject_id", subject.ID), zap.Error(err))
			return classifier.NoPhotoDistribution(), nil
		}
		return classifier.Distribution{}, err
	}

	raw, err := b.model.Predict(ctx, input)
	if err != nil {
		return classifier.Distribution{}, err
	}
	return classifier.ToProbabilities(raw)
}
