package labels

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/pic-triage/internal/logging"
)

// Repository provides persistence for review labels.
type Repository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRepository creates a label repository with bounded retry on transient
// database errors.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:             db,
		logger:         logger.Named("labels"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the labels table exists.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Label{})
}

// Upsert writes or merges a label for (run_id, subject_id). Field-level
// merge: expected always takes the submitted value; notes is only replaced
// when the submission specifies one. Idempotent for identical payloads.
func (r *Repository) Upsert(ctx context.Context, sub Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	label := Label{
		RunID:     sub.RunID,
		SubjectID: sub.SubjectID,
		Expected:  sub.Expected,
		UpdatedAt: time.Now().UTC(),
	}
	assignments := map[string]interface{}{
		"expected":   sub.Expected,
		"updated_at": label.UpdatedAt,
	}
	if sub.Notes != nil {
		label.Notes = *sub.Notes
		assignments["notes"] = *sub.Notes
	}

	return r.executeWithRetry(ctx, "labels.upsert", sub.SubjectID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "subject_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&label).Error
	})
}

// Get retrieves the label for one (run, subject) key, or nil when none
// exists.
func (r *Repository) Get(ctx context.Context, runID, subjectID string) (*Label, error) {
	var label Label
	err := r.db.WithContext(ctx).
		First(&label, "run_id = ? AND subject_id = ?", runID, subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, logging.NewOperationError("labels.get", subjectID, err)
	}
	return &label, nil
}

// ListByRun returns every label stored for a run, keyed for overlay joins.
func (r *Repository) ListByRun(ctx context.Context, runID string) (map[string]Label, error) {
	var rows []Label
	if err := r.db.WithContext(ctx).Find(&rows, "run_id = ?", runID).Error; err != nil {
		return nil, logging.NewOperationError("labels.list_by_run", runID, err)
	}
	byID := make(map[string]Label, len(rows))
	for _, row := range rows {
		byID[row.SubjectID] = row
	}
	return byID, nil
}

func (r *Repository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
