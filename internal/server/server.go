// Package server exposes the latest analysis batch over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"z88-quant/internal/analysis/indicators"
	"z88-quant/internal/analysis/scoring"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/health"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/internal/performance"
	"z88-quant/internal/runner"
	"z88-quant/internal/store"
)

// Server serves analysis results. Publish may be called concurrently with requests.
type Server struct {
	addr    string
	engine  *gin.Engine
	logger  zerolog.Logger
	metrics *metrics.Registry
	store   store.Store
	health  *health.Checker
	hub     *hub
	squeeze scoring.SqueezeConfig
	started time.Time
	now     func() time.Time

	mu        sync.RWMutex
	batch     *runner.Batch
	snapshots []models.StockSnapshot
}

// Options configures a Server. Metrics, Store and Health may be nil.
type Options struct {
	Addr    string
	Debug   bool
	Squeeze scoring.SqueezeConfig
	Metrics *metrics.Registry
	Store   store.Store
	Health  *health.Checker
	Logger  zerolog.Logger
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Squeeze == (scoring.SqueezeConfig{}) {
		opts.Squeeze = scoring.DefaultSqueezeConfig()
	}

	s := &Server{
		addr:    opts.Addr,
		engine:  gin.New(),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		store:   opts.Store,
		health:  opts.Health,
		hub:     newHub(opts.Logger),
		squeeze: opts.Squeeze,
		started: time.Now(),
		now:     time.Now,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/ready", s.getReady)
	api.GET("/analysis", s.getBatch)
	api.GET("/analysis/:symbol", s.getAnalysis)
	api.GET("/setups", s.getSetups)
	api.GET("/screener/squeeze", s.getSqueeze)
	api.GET("/gann/:price", s.getGann)
	api.GET("/history/:symbol", s.getHistory)
	api.GET("/stream", s.getStream)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Publish replaces the served batch and the snapshots behind it and pushes
// a BatchEvent to stream clients.
func (s *Server) Publish(batch *runner.Batch, snapshots []models.StockSnapshot) {
	s.mu.Lock()
	s.batch = batch
	s.snapshots = snapshots
	s.mu.Unlock()
	if batch != nil {
		s.hub.broadcast(newBatchEvent(batch))
	}
}

// Close disconnects stream clients.
func (s *Server) Close() {
	s.hub.close()
}

func (s *Server) latest() (*runner.Batch, []models.StockSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch, s.snapshots
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("HTTP server shutting down")
		s.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) getHealth(c *gin.Context) {
	batch, _ := s.latest()
	body := gin.H{
		"status":     "ok",
		"started_at": s.started.UTC(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"memory":     performance.MemoryStats(),
	}
	if batch != nil {
		body["batch_id"] = batch.ID
		body["batch_finished_at"] = batch.FinishedAt
		body["symbols"] = len(batch.Results)
	}
	body["stream_clients"] = s.hub.count()

	status := http.StatusOK
	if s.health != nil {
		report := s.health.Run(c.Request.Context())
		body["status"] = report.Status
		body["components"] = report.Components
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// getReady reports ready once a batch is published and no component is unhealthy.
func (s *Server) getReady(c *gin.Context) {
	batch, _ := s.latest()
	if batch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "no batch"})
		return
	}
	if s.health != nil {
		if report := s.health.Run(c.Request.Context()); !report.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "unhealthy components"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) getBatch(c *gin.Context) {
	batch, _ := s.latest()
	if batch == nil {
		abortNoBatch(c)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) getAnalysis(c *gin.Context) {
	batch, _ := s.latest()
	if batch == nil {
		abortNoBatch(c)
		return
	}
	res, err := batch.Find(c.Param("symbol"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getSetups(c *gin.Context) {
	batch, _ := s.latest()
	if batch == nil {
		abortNoBatch(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batch.ID, "setups": batch.Setups()})
}

func (s *Server) getSqueeze(c *gin.Context) {
	_, snapshots := s.latest()
	if snapshots == nil {
		abortNoBatch(c)
		return
	}

	cfg := s.squeeze
	if v := c.Query("threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			abortWithError(c, apperrors.NewValidationError("threshold", v, "not a number"))
			return
		}
		cfg.Threshold = threshold
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			abortWithError(c, apperrors.NewValidationError("limit", v, "not a non-negative integer"))
			return
		}
		cfg.Limit = limit
	}

	candidates, err := scoring.Squeeze(snapshots, cfg, s.now())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if candidates == nil {
		candidates = []scoring.SqueezeCandidate{}
	}
	c.JSON(http.StatusOK, gin.H{"threshold": cfg.Threshold, "candidates": candidates})
}

func (s *Server) getGann(c *gin.Context) {
	price, err := strconv.ParseFloat(c.Param("price"), 64)
	if err != nil {
		abortWithError(c, apperrors.NewValidationError("price", c.Param("price"), "not a number"))
		return
	}
	levels, err := indicators.Gann(price)
	if err != nil {
		abortWithError(c, err)
		return
	}
	targets, err := indicators.Targets(price)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gann": levels, "targets": targets})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.store == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "history store is disabled"})
		return
	}
	limit := 30
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abortWithError(c, apperrors.NewValidationError("limit", v, "not a positive integer"))
			return
		}
		limit = n
	}
	records, err := s.store.ListAnalyses(c.Request.Context(), store.AnalysisFilter{
		Symbol: models.NormalizeSymbol(c.Param("symbol")),
		Label:  c.Query("label"),
		Limit:  limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if records == nil {
		records = []store.AnalysisRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": models.NormalizeSymbol(c.Param("symbol")), "records": records})
}

func abortNoBatch(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no analysis batch has completed yet"})
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrSymbolNotFound), errors.Is(err, apperrors.ErrDataNotFound):
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
