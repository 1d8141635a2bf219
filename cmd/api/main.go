package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/pic-triage/internal/auth"
	"github.com/example/pic-triage/internal/config"
	"github.com/example/pic-triage/internal/directory"
	"github.com/example/pic-triage/internal/handlers"
	"github.com/example/pic-triage/internal/imagecache"
	"github.com/example/pic-triage/internal/labels"
	"github.com/example/pic-triage/internal/logging"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/query"
	"github.com/example/pic-triage/internal/storage"
	"github.com/example/pic-triage/internal/triage"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	db := initDatabase(ctx, cfg, logger)
	labelRepo := labels.NewRepository(db, logger)
	if err := labelRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	s3Client := storage.NewClient(storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
	})
	predStore := predstore.NewS3Store(s3Client, cfg.PredBucket, logger)
	photoCache := imagecache.NewS3Cache(s3Client, cfg.CacheBucket, logger)

	dir := directory.NewGraphDirectory(context.Background(), directory.GraphConfig{
		BaseURL:      cfg.GraphBaseURL,
		TokenURL:     cfg.GraphTokenURL,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		Scope:        cfg.GraphScope,
	}, logger)

	thresholds := triage.Thresholds{MinConf: cfg.MinConf, LowConf: cfg.LowConf}
	queries := query.NewService(predStore, labelRepo, query.NewRedisCache(redisClient), thresholds, logger)

	r := gin.Default()
	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	server := handlers.NewServer(queries, labelRepo, photoCache, dir, logger)
	handlers.RegisterRoutes(r, server, authMiddleware)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("triage API listening", zap.String("addr", httpServer.Addr))
	if err := serveHTTPServer(httpServer, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
