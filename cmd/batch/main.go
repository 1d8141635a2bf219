// Command batch runs one classification pass over the directory and writes
// the resulting prediction run to the object store.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/classifier"
	"github.com/example/pic-triage/internal/config"
	"github.com/example/pic-triage/internal/directory"
	"github.com/example/pic-triage/internal/imagecache"
	"github.com/example/pic-triage/internal/logging"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/runner"
	"github.com/example/pic-triage/internal/storage"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	model, err := classifier.NewONNXModel(cfg.ModelPath)
	if err != nil {
		logger.Fatal("model load failed", zap.Error(err), zap.String("path", cfg.ModelPath))
	}
	defer model.Close()

	s3Client := storage.NewClient(storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
	})
	predStore := predstore.NewS3Store(s3Client, cfg.PredBucket, logger)
	photoCache := imagecache.NewS3Cache(s3Client, cfg.CacheBucket, logger)

	ctx := context.Background()
	dir := directory.NewGraphDirectory(ctx, directory.GraphConfig{
		BaseURL:      cfg.GraphBaseURL,
		TokenURL:     cfg.GraphTokenURL,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		Scope:        cfg.GraphScope,
	}, logger)

	builder := runner.NewBuilder(dir, model, predStore, photoCache, cfg.BatchLimit, logger)

	start := time.Now()
	records, err := builder.BuildRun(ctx, cfg.RunID)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
	logger.Info("run written",
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)))
}
