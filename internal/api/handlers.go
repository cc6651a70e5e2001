package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/pipeline"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/library"
	"pattern-tracker/internal/models"
)

// AnalyzeRequest is the body of the analyze and evaluate endpoints.
type AnalyzeRequest struct {
	Symbol    string                `json:"symbol" binding:"required"`
	Timeframe string                `json:"timeframe" binding:"required"`
	Candles   []models.Candle       `json:"candles" binding:"required"`
	Long      []models.Candle       `json:"long,omitempty"`
	Session   *models.SessionLevels `json:"session,omitempty"`
	Price     float64               `json:"price,omitempty"`
}

func (r AnalyzeRequest) pipelineRequest() pipeline.Request {
	return pipeline.Request{
		Symbol:    r.Symbol,
		Timeframe: models.Timeframe(r.Timeframe),
		Candles:   r.Candles,
		Long:      r.Long,
		Session:   r.Session,
	}
}

// UpdateRequest is the body of the update endpoint.
type UpdateRequest struct {
	Symbol    string             `json:"symbol" binding:"required"`
	Timeframe string             `json:"timeframe" binding:"required"`
	Patterns  []analysis.Pattern `json:"patterns"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientData),
		errors.Is(err, apperrors.ErrInvalidCandles),
		errors.Is(err, apperrors.ErrUnknownTimeframe),
		errors.Is(err, apperrors.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrRepositoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().UTC(),
		"subscribers": s.deps.Hub.TotalSubscriberCount(),
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.deps.Tracker.Analyzer().Analyze(c.Request.Context(), req.pipelineRequest())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.deps.Tracker.Evaluate(c.Request.Context(), req.pipelineRequest(), req.Price)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := models.ParseTimeframe(req.Timeframe); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Tracker.Manager().Update(req.Symbol, req.Timeframe, req.Patterns))
}

func (s *Server) handleStates(c *gin.Context) {
	symbol, timeframe := c.Param("symbol"), c.Param("timeframe")
	if _, err := models.ParseTimeframe(timeframe); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"timeframe": timeframe,
		"states":    s.deps.Tracker.Manager().States(symbol, timeframe),
	})
}

func (s *Server) handleSweep(c *gin.Context) {
	maxAge := s.config.SweepMaxAgeHours
	if raw := c.Query("max_age_hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_hours must be a positive number"})
			return
		}
		maxAge = v
	}

	res, err := s.deps.Tracker.Manager().Sweep(c.Request.Context(), maxAge)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLibrary(c *gin.Context) {
	if s.deps.Library == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pattern library not loaded"})
		return
	}
	entries := make([]library.Entry, 0, s.deps.Library.Len())
	for _, t := range s.deps.Library.Types() {
		e, _ := s.deps.Library.Lookup(t)
		entries = append(entries, e)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "patterns": entries})
}

func (s *Server) handleLibraryEntry(c *gin.Context) {
	if s.deps.Library == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pattern library not loaded"})
		return
	}
	t := analysis.PatternType(c.Param("type"))
	e, ok := s.deps.Library.Lookup(t)
	if !ok {
		s.fail(c, apperrors.Wrapf(apperrors.ErrNotFound, "pattern type %q", t))
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleRules(c *gin.Context) {
	rules := s.deps.Rules
	if rules == nil {
		rules = lifecycle.DefaultRuleSet()
	}
	c.JSON(http.StatusOK, rules)
}

func (s *Server) handleStreamMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Hub.Metrics())
}
