// Package httpserver serves the exporter's status API and Prometheus metrics.
package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinytelemetry/lotus-export/internal/duckdb"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

const (
	defaultAddr  = "127.0.0.1:9464"
	defaultLimit = 50
	maxLimit     = 1000
)

// LedgerReader is the narrow ledger contract required by the API.
type LedgerReader interface {
	Recent(ctx context.Context, extractor string, limit int) ([]model.ExportRecord, error)
	Summaries(ctx context.Context) ([]duckdb.ExtractorSummary, error)
}

// Server provides the HTTP status API.
type Server struct {
	addr      string
	ledger    LedgerReader // nil when the ledger is disabled
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a status server. ledger may be nil.
func NewServer(addr string, ledger LedgerReader, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		ledger:    ledger,
		gatherer:  gatherer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/exports", s.handleExports)
	r.GET("/api/extractors", s.handleExtractors)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.startTime = time.Now()
	s.logger.Info("httpserver: listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("httpserver: serve failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"ledger": s.ledger != nil,
	})
}

func (s *Server) handleExports(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export ledger is disabled"})
		return
	}

	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	recs, err := s.ledger.Recent(c.Request.Context(), c.Query("extractor"), limit)
	if err != nil {
		s.logger.Warn("httpserver: read exports failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read export ledger"})
		return
	}

	rows := make([]gin.H, 0, len(recs))
	for _, r := range recs {
		row := gin.H{
			"run_id":       r.RunID,
			"extractor":    r.Extractor,
			"key":          r.Key,
			"window_start": r.WindowStart,
			"window_end":   r.WindowEnd,
			"lines":        r.Lines,
			"dropped":      r.Dropped,
			"bytes":        r.Bytes,
			"duration_ms":  r.Duration.Milliseconds(),
			"status":       r.Status,
			"finished_at":  r.FinishedAt,
		}
		if r.Error != "" {
			row["error"] = r.Error
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"exports": rows, "count": len(rows)})
}

func (s *Server) handleExtractors(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export ledger is disabled"})
		return
	}
	sums, err := s.ledger.Summaries(c.Request.Context())
	if err != nil {
		s.logger.Warn("httpserver: read summaries failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read export ledger"})
		return
	}
	if sums == nil {
		sums = []duckdb.ExtractorSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"extractors": sums})
}
