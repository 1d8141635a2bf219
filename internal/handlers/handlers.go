// Package handlers wires the triage API to the Gin router. Handlers are thin
// adapters: all filtering and reconciliation logic lives in the query and
// label packages.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/pic-triage/internal/auth"
	"github.com/example/pic-triage/internal/directory"
	"github.com/example/pic-triage/internal/imagecache"
	"github.com/example/pic-triage/internal/labels"
	"github.com/example/pic-triage/internal/logging"
	"github.com/example/pic-triage/internal/predstore"
	"github.com/example/pic-triage/internal/query"
	"github.com/example/pic-triage/internal/triage"
)

// PredictionQueries is the query surface the handlers consume.
type PredictionQueries interface {
	Runs(ctx context.Context) ([]string, error)
	Predictions(ctx context.Context, runID string, view triage.View) (*query.Result, error)
	Reconciled(ctx context.Context, runID string, view triage.View) (*query.ReconciledResult, error)
	Summarize(ctx context.Context, runID string) (*query.Summary, error)
}

// LabelSubmitter accepts review label submissions.
type LabelSubmitter interface {
	Upsert(ctx context.Context, sub labels.Submission) error
}

// PhotoSource serves a subject's photo, from the cache when possible.
type PhotoSource interface {
	Get(ctx context.Context, subjectID string) ([]byte, error)
}

// PhotoFetcher proxies photos straight from the directory on a cache miss.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, subjectID string) ([]byte, error)
}

// Server holds the handler dependencies.
type Server struct {
	queries PredictionQueries
	labels  LabelSubmitter
	photos  PhotoSource
	dir     PhotoFetcher
	logger  *zap.Logger
}

// NewServer constructs the handler set.
func NewServer(queries PredictionQueries, labelStore LabelSubmitter, photos PhotoSource, dir PhotoFetcher, logger *zap.Logger) *Server {
	return &Server{
		queries: queries,
		labels:  labelStore,
		photos:  photos,
		dir:     dir,
		logger:  logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The label route
// mutates state and sits behind the auth middleware; reads are open.
func RegisterRoutes(router *gin.Engine, s *Server, authMiddleware gin.HandlerFunc) {
	router.Use(requestID())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/runs", s.getRuns)
	router.GET("/runs/:run_id/summary", s.getSummary)
	router.GET("/predictions", s.getPredictions)
	router.GET("/image/:subject_id", s.getImage)
	router.POST("/labels", authMiddleware, s.postLabel)
}

// requestID tags each request with a correlation id for log stitching.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) getRuns(c *gin.Context) {
	runs, err := s.queries.Runs(c.Request.Context())
	if err != nil {
		s.serverError(c, "handlers.get_runs", err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getPredictions(c *gin.Context) {
	view, err := triage.ParseView(c.Query("view"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runID := c.Query("run_id")

	if c.Query("reconciled") == "true" {
		result, err := s.queries.Reconciled(c.Request.Context(), runID, view)
		if err != nil {
			s.queryError(c, "handlers.get_predictions", runID, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := s.queries.Predictions(c.Request.Context(), runID, view)
	if err != nil {
		s.queryError(c, "handlers.get_predictions", runID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getSummary(c *gin.Context) {
	runID := c.Param("run_id")
	summary, err := s.queries.Summarize(c.Request.Context(), runID)
	if err != nil {
		s.queryError(c, "handlers.get_summary", runID, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getImage(c *gin.Context) {
	subjectID := c.Param("subject_id")
	ctx := c.Request.Context()

	data, err := s.photos.Get(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, imagecache.ErrNotCached) {
			logging.WithOperation(s.logger, "handlers.get_image", subjectID).
				Warn("photo cache read failed", zap.Error(err))
		}
		data, err = s.dir.FetchPhoto(ctx, subjectID)
		if errors.Is(err, directory.ErrNoPhoto) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no picture"})
			return
		}
		if err != nil {
			s.serverError(c, "handlers.get_image", err)
			return
		}
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) postLabel(c *gin.Context) {
	var sub labels.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	if err := s.labels.Upsert(c.Request.Context(), sub); err != nil {
		var verr *labels.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		s.serverError(c, "handlers.post_label", err)
		return
	}

	reviewer, _ := auth.GetReviewer(c.Request.Context())
	logging.WithOperation(s.logger, "handlers.post_label", c.GetString("request_id")).Info("label stored",
		zap.String("run_id", sub.RunID),
		zap.String("subject_id", sub.SubjectID),
		zap.String("expected", sub.Expected),
		zap.String("reviewer", reviewer))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// queryError maps an unknown run to 404 and everything else to 500.
func (s *Server) queryError(c *gin.Context, operation, runID string, err error) {
	if errors.Is(err, predstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run " + runID + " not found"})
		return
	}
	s.serverError(c, operation, err)
}

func (s *Server) serverError(c *gin.Context, operation string, err error) {
	requestID := c.GetString("request_id")
	logging.WithOperation(s.logger, operation, requestID).Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
